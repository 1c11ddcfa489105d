package definition

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAchievement Kind = "achievement"
	KindChallenge   Kind = "challenge"
)

// ActionTag is the trigger category a definition listens for.
type ActionTag string

const (
	ActionCheckin    ActionTag = "checkin"
	ActionReview     ActionTag = "review"
	ActionPost       ActionTag = "post"
	ActionFollow     ActionTag = "follow"
	ActionComment    ActionTag = "comment"
	ActionLike       ActionTag = "like"
	ActionCoinEarned ActionTag = "coin_earned"
	ActionXPEarned   ActionTag = "xp_earned"
	ActionTopRank    ActionTag = "top_rank"
)

// KnownAction reports whether tag is one of the enumerated criteria actions.
func KnownAction(tag ActionTag) bool {
	switch tag {
	case ActionCheckin, ActionReview, ActionPost, ActionFollow,
		ActionComment, ActionLike, ActionCoinEarned, ActionXPEarned,
		ActionTopRank:
		return true
	}
	return false
}

type ResetSchedule string

const (
	ResetNone   ResetSchedule = "none"
	ResetDaily  ResetSchedule = "daily"
	ResetWeekly ResetSchedule = "weekly"
)

// Definition is an achievement or challenge. Seeded by ops, read-only at
// runtime; progress rows copy target_count at creation so later edits don't
// move in-flight goals.
type Definition struct {
	ID                   uuid.UUID     `json:"id"`
	Code                 string        `json:"code"`
	Kind                 Kind          `json:"kind"`
	Title                string        `json:"title"`
	Description          string        `json:"description"`
	Icon                 string        `json:"icon"`
	CriteriaAction       ActionTag     `json:"criteria_action"`
	CriteriaTarget       int           `json:"criteria_target"`
	MaxRank              *int          `json:"max_rank,omitempty"`
	CoinReward           int64         `json:"coin_reward"`
	XPReward             int64         `json:"xp_reward"`
	ResetSchedule        ResetSchedule `json:"reset_schedule"`
	Level                int           `json:"level"`
	RequiredDefinitionID *uuid.UUID    `json:"required_definition_id,omitempty"`
	IsActive             bool          `json:"is_active"`
	CreatedAt            time.Time     `json:"created_at"`
}
