package leaderboard

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Window string

const (
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

type SnapshotStatus string

const (
	SnapshotActive   SnapshotStatus = "active"
	SnapshotInactive SnapshotStatus = "inactive"
)

// UnrankedSentinel is returned for users absent from the board entirely.
const UnrankedSentinel = 0

// Positioned returns a copy of e with the unranked rule applied: a user with
// zero exp holds no place on the board, whatever rank was baked into the
// snapshot they came from.
func Positioned(e Entry) Entry {
	if e.TotalExp == 0 {
		e.Rank = UnrankedSentinel
	}
	return e
}

type Entry struct {
	Rank         int       `json:"rank"`
	UserID       uuid.UUID `json:"user_id"`
	Username     string    `json:"username"`
	TotalExp     int64     `json:"total_exp"`
	TotalCoin    int64     `json:"total_coin"`
	TotalCheckin int       `json:"total_checkin"`
}

// Snapshot is a persisted, ranked materialization of the board. At most one
// snapshot is active per competition period.
type Snapshot struct {
	ID        uuid.UUID      `json:"id"`
	Status    SnapshotStatus `json:"status"`
	Entries   []Entry        `json:"entries"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Board struct {
	Entries      []Entry `json:"entries"`
	UserPosition *Entry  `json:"user_position"`
	TotalUsers   int     `json:"total_users"`
}

// SortAndRank orders entries by exp descending, coin descending, then user
// id ascending, and assigns ranks 1..N in place. Every ranked read path goes
// through this single tie-break rule.
func SortAndRank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalExp != b.TotalExp {
			return a.TotalExp > b.TotalExp
		}
		if a.TotalCoin != b.TotalCoin {
			return a.TotalCoin > b.TotalCoin
		}
		return a.UserID.String() < b.UserID.String()
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}
