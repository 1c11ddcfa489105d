package audit

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the engine. These are explicit writes from the
// granter and admin operations, not model-save hooks, so every emission is
// visible in the call graph.
const (
	ActionGrant            = "grant"
	ActionAdminGrant       = "admin_grant"
	ActionRewardRedemption = "reward_redemption"
	ActionResetBatch       = "leaderboard_reset_batch"
	ActionResetStarted     = "leaderboard_reset_started"
	ActionResetFinished    = "leaderboard_reset_finished"
)

type Entry struct {
	ID        uuid.UUID      `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}
