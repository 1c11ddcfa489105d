package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyCoin Currency = "coin"
	CurrencyExp  Currency = "exp"
)

// RelatedKind tags the entity that caused a ledger entry. A closed enum
// instead of a free-form type name so handlers can match exhaustively.
type RelatedKind string

const (
	RelatedCheckin          RelatedKind = "checkin"
	RelatedReview           RelatedKind = "review"
	RelatedAchievement      RelatedKind = "achievement"
	RelatedChallenge        RelatedKind = "challenge"
	RelatedAdmin            RelatedKind = "admin"
	RelatedRewardRedemption RelatedKind = "reward_redemption"
	RelatedLeaderboardReset RelatedKind = "leaderboard_reset"
)

// Entry is an immutable, signed coin or exp transaction. Negative amounts
// are debits (redemptions, resets); history is never edited in place.
type Entry struct {
	ID          uuid.UUID   `json:"id"`
	UserID      uuid.UUID   `json:"user_id"`
	Currency    Currency    `json:"currency"`
	Amount      int64       `json:"amount"`
	RelatedKind RelatedKind `json:"related_kind"`
	RelatedID   *uuid.UUID  `json:"related_id,omitempty"`
	Note        string      `json:"note,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type HistoryPage struct {
	Entries    []*Entry `json:"entries"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalCount int      `json:"total_count"`
}
