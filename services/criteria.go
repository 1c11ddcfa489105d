package services

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"placeQuestAPI/internal/definition"
	"placeQuestAPI/internal/progress"
)

// Payload carries the action-specific fields a collaborator attaches to a
// recorded action (e.g. {place_id, rating} for a review).
type Payload map[string]any

// Advance is one evaluator verdict: which definition moves, in which period
// bucket, and by how much. Deltas are never negative; SetToTarget marks the
// rank criteria's "target met" semantics.
type Advance struct {
	Definition  definition.Definition
	PeriodDate  time.Time
	Delta       int
	SetToTarget bool
}

// PrereqLookup reports whether the given prerequisite definition is already
// complete for the user being evaluated.
type PrereqLookup func(definitionID uuid.UUID) bool

// RankLookup returns the user's current rank from the latest active
// leaderboard snapshot, false when unranked.
type RankLookup func() (int, bool)

// EvaluateAction maps one user action onto the set of progress advances it
// should cause. A malformed payload or misconfigured definition skips only
// that definition; siblings still evaluate. Unknown tags produce no advances.
func EvaluateAction(defs []definition.Definition, tag definition.ActionTag, payload Payload, now time.Time, prereqDone PrereqLookup, rankOf RankLookup) []Advance {
	if !definition.KnownAction(tag) {
		return nil
	}

	var advances []Advance
	for _, def := range defs {
		if !def.IsActive || def.CriteriaAction != tag {
			continue
		}

		// Achievements unlock in strict level order.
		if def.RequiredDefinitionID != nil && (prereqDone == nil || !prereqDone(*def.RequiredDefinitionID)) {
			continue
		}

		adv := Advance{
			Definition: def,
			PeriodDate: progress.PeriodFor(def.ResetSchedule, now),
		}

		if tag == definition.ActionTopRank {
			if def.MaxRank == nil {
				log.Printf("criteria: definition %s has top_rank criteria without max_rank, skipping", def.Code)
				continue
			}
			if rankOf == nil {
				continue
			}
			rank, ranked := rankOf()
			if !ranked || rank > *def.MaxRank {
				// Rank achievements are sticky: no decrement when the
				// user falls back out of the top N.
				continue
			}
			adv.SetToTarget = true
		} else {
			delta, err := payloadDelta(tag, payload)
			if err != nil {
				log.Printf("criteria: skipping definition %s: %v", def.Code, err)
				continue
			}
			adv.Delta = delta
		}

		advances = append(advances, adv)
	}

	return advances
}

// payloadDelta validates the payload fields an action requires and returns
// the progress delta: the earned amount for coin/xp criteria, 1 otherwise.
func payloadDelta(tag definition.ActionTag, payload Payload) (int, error) {
	switch tag {
	case definition.ActionCheckin:
		if !hasField(payload, "place_id") {
			return 0, fmt.Errorf("checkin payload missing place_id")
		}
		return 1, nil
	case definition.ActionReview:
		if !hasField(payload, "place_id") || !hasField(payload, "rating") {
			return 0, fmt.Errorf("review payload missing place_id or rating")
		}
		return 1, nil
	case definition.ActionPost:
		if !hasField(payload, "post_id") {
			return 0, fmt.Errorf("post payload missing post_id")
		}
		return 1, nil
	case definition.ActionFollow:
		if !hasField(payload, "followed_id") {
			return 0, fmt.Errorf("follow payload missing followed_id")
		}
		return 1, nil
	case definition.ActionComment, definition.ActionLike:
		if !hasField(payload, "post_id") {
			return 0, fmt.Errorf("%s payload missing post_id", tag)
		}
		return 1, nil
	case definition.ActionCoinEarned, definition.ActionXPEarned:
		amount, ok := numericField(payload, "amount")
		if !ok || amount <= 0 {
			return 0, fmt.Errorf("%s payload missing positive amount", tag)
		}
		return amount, nil
	default:
		return 0, fmt.Errorf("no payload rule for action %s", tag)
	}
}

func hasField(payload Payload, key string) bool {
	if payload == nil {
		return false
	}
	v, ok := payload[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// uuidField reads a UUID transported as a JSON string.
func uuidField(payload Payload, key string) (uuid.UUID, bool) {
	s, ok := payload[key].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// numericField reads a JSON number, which decodes as float64 but may be an
// int when the payload was built in-process.
func numericField(payload Payload, key string) (int, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
