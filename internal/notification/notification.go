package notification

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAchievementUnlocked Type = "achievement_unlocked"
	TypeChallengeCompleted  Type = "challenge_completed"
	TypeRewardRedeemed      Type = "reward_redeemed"
	TypeRankMilestone       Type = "rank_milestone"
)

type Notification struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    uuid.UUID      `json:"user_id" db:"user_id"`
	Title     string         `json:"title" db:"title"`
	Body      string         `json:"body" db:"body"`
	Data      map[string]any `json:"data" db:"data"`
	ReadAt    *time.Time     `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

type DeviceToken struct {
	ID       uuid.UUID `json:"id" db:"id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Token    string    `json:"token" db:"token"`
	Platform string    `json:"platform" db:"platform"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}
