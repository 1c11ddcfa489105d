package reward

import (
	"time"

	"github.com/google/uuid"
)

// Reward is a redeemable store item paid for in coin. Stock is decremented
// atomically with the ledger debit.
type Reward struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    *string   `json:"image_url,omitempty"`
	CoinPrice   int64     `json:"coin_price"`
	Stock       int       `json:"stock"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Redemption struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	RewardID   uuid.UUID `json:"reward_id"`
	CoinSpent  int64     `json:"coin_spent"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
