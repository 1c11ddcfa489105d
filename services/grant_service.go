package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"placeQuestAPI/internal/audit"
	"placeQuestAPI/internal/definition"
	"placeQuestAPI/internal/ledger"
	"placeQuestAPI/internal/progress"
)

// GrantService credits coin and exp for completed definitions. All writes
// happen inside one transaction so a grant is all-or-nothing: ledger entries,
// user aggregates and the audit row commit together or not at all.
type GrantService struct {
	db    *pgxpool.Pool
	audit *AuditService
}

func NewGrantService(db *pgxpool.Pool, audit *AuditService) *GrantService {
	return &GrantService{db: db, audit: audit}
}

type GrantResult struct {
	DefinitionID uuid.UUID       `json:"definition_id"`
	Code         string          `json:"code"`
	Kind         definition.Kind `json:"kind"`
	Title        string          `json:"title"`
	CoinGranted  int64           `json:"coin_granted"`
	ExpGranted   int64           `json:"exp_granted"`
}

// grantTx credits a completed definition inside the caller's transaction.
// A zero reward amount skips its ledger entry but the completion bookkeeping
// (kind counter, audit row) still happens: xp_earned definitions are
// deliberately configured with xp_reward = 0 to break the feedback loop.
func (s *GrantService) grantTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, def *definition.Definition, actor string, auditAction string) (*GrantResult, error) {
	// Serialize aggregate updates per user.
	var totalCoin, totalExp int64
	err := tx.QueryRow(ctx, `SELECT total_coin, total_exp FROM users WHERE id = $1 FOR UPDATE`, userID).
		Scan(&totalCoin, &totalExp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	relatedKind := ledger.RelatedAchievement
	if def.Kind == definition.KindChallenge {
		relatedKind = ledger.RelatedChallenge
	}

	defID := def.ID
	if def.CoinReward > 0 {
		entry := &ledger.Entry{
			UserID:      userID,
			Currency:    ledger.CurrencyCoin,
			Amount:      def.CoinReward,
			RelatedKind: relatedKind,
			RelatedID:   &defID,
			Note:        def.Code,
		}
		if err := appendEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
	}
	if def.XPReward > 0 {
		entry := &ledger.Entry{
			UserID:      userID,
			Currency:    ledger.CurrencyExp,
			Amount:      def.XPReward,
			RelatedKind: relatedKind,
			RelatedID:   &defID,
			Note:        def.Code,
		}
		if err := appendEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	kindColumn := "total_achievement"
	if def.Kind == definition.KindChallenge {
		kindColumn = "total_challenge"
	}

	updateQuery := fmt.Sprintf(`
		UPDATE users
		SET total_coin = total_coin + $2,
			total_exp = total_exp + $3,
			%s = %s + 1,
			updated_at = NOW()
		WHERE id = $1
	`, kindColumn, kindColumn)

	if _, err := tx.Exec(ctx, updateQuery, userID, def.CoinReward, def.XPReward); err != nil {
		return nil, fmt.Errorf("failed to update user aggregates: %w", err)
	}

	err = s.audit.Record(ctx, tx, actor, auditAction, map[string]any{
		"user_id":       userID.String(),
		"definition_id": def.ID.String(),
		"code":          def.Code,
		"kind":          string(def.Kind),
		"coin_reward":   def.CoinReward,
		"xp_reward":     def.XPReward,
	})
	if err != nil {
		return nil, err
	}

	return &GrantResult{
		DefinitionID: def.ID,
		Code:         def.Code,
		Kind:         def.Kind,
		Title:        def.Title,
		CoinGranted:  def.CoinReward,
		ExpGranted:   def.XPReward,
	}, nil
}

// AdminGrant is the operator escape hatch: it bypasses the evaluator and the
// threshold check but shares the granting code path, so the
// not-already-granted precondition and the ledger/aggregate writes are
// identical to the organic path.
func (s *GrantService) AdminGrant(ctx context.Context, userID, definitionID uuid.UUID, actor string) (*GrantResult, error) {
	def, err := loadDefinition(ctx, s.db, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, ErrDefinitionInactive
	}

	periodDate := progress.PeriodFor(def.ResetSchedule, time.Now())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	record, err := lockProgressRecord(ctx, tx, userID, def, periodDate)
	if err != nil {
		return nil, err
	}
	if record.Complete() {
		return nil, ErrAlreadyGranted
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE progress_records
		SET current_count = target_count, status = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1
	`, record.ID, progress.StatusComplete, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete progress record: %w", err)
	}

	result, err := s.grantTx(ctx, tx, userID, def, actor, audit.ActionAdminGrant)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}

	grantsTotal.WithLabelValues(string(def.Kind)).Inc()
	return result, nil
}

// loadDefinition fetches one definition row.
func loadDefinition(ctx context.Context, q querier, id uuid.UUID) (*definition.Definition, error) {
	def := &definition.Definition{}
	err := q.QueryRow(ctx, `
		SELECT id, code, kind, title, description, icon, criteria_action, criteria_target,
			max_rank, coin_reward, xp_reward, reset_schedule, level, required_definition_id,
			is_active, created_at
		FROM definitions
		WHERE id = $1
	`, id).Scan(
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	return def, nil
}

// lockProgressRecord find-or-creates the (user, definition, period) row and
// locks it for the rest of the transaction. The insert races under the
// unique key: a conflict means another worker created the row, so the
// follow-up locked select is the retry, not an error.
func lockProgressRecord(ctx context.Context, tx pgx.Tx, userID uuid.UUID, def *definition.Definition, periodDate time.Time) (*progress.Record, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO progress_records (id, user_id, definition_id, period_date, current_count, target_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id, definition_id, period_date) DO NOTHING
	`, uuid.New(), userID, def.ID, periodDate, def.CriteriaTarget, progress.StatusIncomplete)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure progress record: %w", err)
	}

	record := &progress.Record{}
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, definition_id, period_date, current_count, target_count, status, completed_at, created_at, updated_at
		FROM progress_records
		WHERE user_id = $1 AND definition_id = $2 AND period_date = $3
		FOR UPDATE
	`, userID, def.ID, periodDate).Scan(
		&record.ID,
		&record.UserID,
		&record.DefinitionID,
		&record.PeriodDate,
		&record.CurrentCount,
		&record.TargetCount,
		&record.Status,
		&record.CompletedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock progress record: %w", err)
	}

	return record, nil
}
