package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/definition"
	"placeQuestAPI/internal/leaderboard"
)

// maxDerivedDepth bounds the coin_earned/xp_earned fan-out a single action
// can cascade through. Definitions for those criteria carry zero xp rewards
// to break the loop by configuration; the depth bound catches a
// misconfigured seed.
const maxDerivedDepth = 3

// ActionService is the single entry point collaborators call when a user
// does something: checkin creation, review creation, follows, comments,
// likes. Callers don't need to know which definitions exist.
type ActionService struct {
	db            *pgxpool.Pool
	progress      *ProgressService
	leaderboards  *LeaderboardService
	notifications *NotificationService
}

func NewActionService(db *pgxpool.Pool, progress *ProgressService, leaderboards *LeaderboardService, notifications *NotificationService) *ActionService {
	return &ActionService{
		db:            db,
		progress:      progress,
		leaderboards:  leaderboards,
		notifications: notifications,
	}
}

type ActionResult struct {
	Action      definition.ActionTag `json:"action"`
	Advanced    int                  `json:"advanced"`
	Completed   []*GrantResult       `json:"completed"`
	CoinGranted int64                `json:"coin_granted"`
	ExpGranted  int64                `json:"exp_granted"`
}

// RecordAction evaluates one user action against every active matching
// definition and advances the trackers it qualifies for. A misconfigured
// definition is skipped and logged; the action itself always succeeds from
// the caller's point of view unless the user is unknown.
func (s *ActionService) RecordAction(ctx context.Context, userID uuid.UUID, tag definition.ActionTag, payload Payload) (*ActionResult, error) {
	return s.recordAction(ctx, userID, tag, payload, 0)
}

func (s *ActionService) recordAction(ctx context.Context, userID uuid.UUID, tag definition.ActionTag, payload Payload, depth int) (*ActionResult, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	actionsRecorded.WithLabelValues(string(tag)).Inc()

	if depth == 0 {
		if err := s.bumpActivityCounter(ctx, userID, tag, payload); err != nil {
			log.Printf("RecordAction: failed to bump activity counter for %s: %v", tag, err)
		}
	}

	result := &ActionResult{Action: tag, Completed: []*GrantResult{}}

	defs, err := s.activeDefinitionsFor(ctx, tag)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return result, nil
	}

	prereqDone, err := s.prereqLookup(ctx, userID, defs)
	if err != nil {
		return nil, err
	}

	rankOf := s.rankLookup(ctx, userID, payload)

	advances := EvaluateAction(defs, tag, payload, time.Now(), prereqDone, rankOf)

	for _, adv := range advances {
		_, grant, err := s.progress.ApplyAdvance(ctx, userID, adv)
		if err != nil {
			// One definition's failure must not block its siblings.
			log.Printf("RecordAction: advance failed for definition %s, user %s: %v", adv.Definition.Code, userID, err)
			continue
		}
		result.Advanced++
		if grant != nil {
			result.Completed = append(result.Completed, grant)
			result.CoinGranted += grant.CoinGranted
			result.ExpGranted += grant.ExpGranted

			s.notifications.NotifyGrant(ctx, userID, grant)
		}
	}

	// Earned coin and exp are themselves criteria actions. Only the amounts
	// this level granted are re-emitted; deeper grants emit their own.
	coinEarned, expEarned := result.CoinGranted, result.ExpGranted
	if depth < maxDerivedDepth {
		if coinEarned > 0 {
			derived, err := s.recordAction(ctx, userID, definition.ActionCoinEarned, Payload{"amount": coinEarned}, depth+1)
			if err != nil {
				log.Printf("RecordAction: derived coin_earned failed for user %s: %v", userID, err)
			} else {
				mergeResult(result, derived)
			}
		}
		if expEarned > 0 {
			derived, err := s.recordAction(ctx, userID, definition.ActionXPEarned, Payload{"amount": expEarned}, depth+1)
			if err != nil {
				log.Printf("RecordAction: derived xp_earned failed for user %s: %v", userID, err)
			} else {
				mergeResult(result, derived)
			}
		}
	}

	return result, nil
}

// mergeResult folds a derived action's grants into the triggering action's
// result so the caller sees the full consequence of one call.
func mergeResult(into, from *ActionResult) {
	into.Advanced += from.Advanced
	into.Completed = append(into.Completed, from.Completed...)
	into.CoinGranted += from.CoinGranted
	into.ExpGranted += from.ExpGranted
}

// bumpActivityCounter keeps the countable user aggregates (checkins,
// reviews, followers) in step with the action feed. Checkins and reviews
// count against the acting user; a follow credits the followed user, whose
// follower total it is.
func (s *ActionService) bumpActivityCounter(ctx context.Context, userID uuid.UUID, tag definition.ActionTag, payload Payload) error {
	var column string
	target := userID
	switch tag {
	case definition.ActionCheckin:
		column = "total_checkin"
	case definition.ActionReview:
		column = "total_review"
	case definition.ActionFollow:
		followedID, ok := uuidField(payload, "followed_id")
		if !ok {
			return fmt.Errorf("follow payload carries no usable followed_id")
		}
		column = "total_follower"
		target = followedID
	default:
		return nil
	}

	query := fmt.Sprintf(`UPDATE users SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, column, column)
	_, err := s.db.Exec(ctx, query, target)
	return err
}

func (s *ActionService) activeDefinitionsFor(ctx context.Context, tag definition.ActionTag) ([]definition.Definition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, code, kind, title, description, icon, criteria_action, criteria_target,
			max_rank, coin_reward, xp_reward, reset_schedule, level, required_definition_id,
			is_active, created_at
		FROM definitions
		WHERE criteria_action = $1 AND is_active
		ORDER BY level, criteria_target
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	defer rows.Close()

	var defs []definition.Definition
	for rows.Next() {
		var def definition.Definition
		err := rows.Scan(
			&def.ID,
			&def.Code,
			&def.Kind,
			&def.Title,
			&def.Description,
			&def.Icon,
			&def.CriteriaAction,
			&def.CriteriaTarget,
			&def.MaxRank,
			&def.CoinReward,
			&def.XPReward,
			&def.ResetSchedule,
			&def.Level,
			&def.RequiredDefinitionID,
			&def.IsActive,
			&def.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// prereqLookup loads the user's completed definitions once when any
// candidate has a level prerequisite.
func (s *ActionService) prereqLookup(ctx context.Context, userID uuid.UUID, defs []definition.Definition) (PrereqLookup, error) {
	needed := false
	for _, d := range defs {
		if d.RequiredDefinitionID != nil {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	completed, err := s.progress.CompletedDefinitionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	return func(definitionID uuid.UUID) bool {
		return completed[definitionID]
	}, nil
}

// rankLookup prefers a rank the collaborator put on the payload, falling
// back to the cached active snapshot. Snapshot staleness is bounded by the
// cache TTL, which is the accepted tolerance for rank-based criteria.
func (s *ActionService) rankLookup(ctx context.Context, userID uuid.UUID, payload Payload) RankLookup {
	return func() (int, bool) {
		if rank, ok := numericField(payload, "rank"); ok && rank > 0 {
			return rank, true
		}

		rank, err := s.leaderboards.CurrentRank(ctx, userID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Printf("rankLookup: failed to resolve rank for user %s: %v", userID, err)
			}
			return 0, false
		}
		if rank == leaderboard.UnrankedSentinel {
			return 0, false
		}
		return rank, true
	}
}
