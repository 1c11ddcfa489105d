package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placeQuestAPI/internal/leaderboard"
)

func rankedEntries(n int) []leaderboard.Entry {
	entries := make([]leaderboard.Entry, n)
	for i := range entries {
		entries[i] = leaderboard.Entry{
			Rank:     i + 1,
			UserID:   uuid.New(),
			TotalExp: int64((n - i) * 100),
		}
	}
	return entries
}

func TestLeaderboardCache_HitUntilTTL(t *testing.T) {
	svc := NewLeaderboardService(nil, nil)
	svc.cacheTTL = 50 * time.Millisecond

	svc.store("alltime:10", rankedEntries(3), 10)

	_, ok := svc.cached("alltime:10")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = svc.cached("alltime:10")
	assert.False(t, ok, "entry must expire after TTL")
}

func TestLeaderboardCache_StoreTrimsToLimit(t *testing.T) {
	svc := NewLeaderboardService(nil, nil)

	c := svc.store("alltime:2", rankedEntries(5), 2)

	assert.Len(t, c.entries, 2)
	assert.Len(t, c.full, 5)
	assert.Equal(t, 5, c.totalUsers)
}

func TestLeaderboardCache_Invalidate(t *testing.T) {
	svc := NewLeaderboardService(nil, nil)

	svc.store("alltime:10", rankedEntries(3), 10)
	svc.store("week:10", rankedEntries(3), 10)

	svc.ClearCache()

	_, ok := svc.cached("alltime:10")
	assert.False(t, ok)
	_, ok = svc.cached("week:10")
	assert.False(t, ok)
}

func TestLocalize_FindsUserBelowVisiblePage(t *testing.T) {
	full := rankedEntries(5)
	svc := NewLeaderboardService(nil, nil)
	c := svc.store("alltime:2", full, 2)

	// Rank 4 sits below the two visible entries but must still be reported.
	board := localize(c, full[3].UserID)

	require.NotNil(t, board.UserPosition)
	assert.Equal(t, 4, board.UserPosition.Rank)
	assert.Len(t, board.Entries, 2)
	assert.Equal(t, 5, board.TotalUsers)
}

func TestLocalize_UnknownUserHasNoPosition(t *testing.T) {
	svc := NewLeaderboardService(nil, nil)
	c := svc.store("alltime:10", rankedEntries(3), 10)

	board := localize(c, uuid.New())

	assert.Nil(t, board.UserPosition)
}
