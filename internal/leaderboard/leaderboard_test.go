package leaderboard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSortAndRank_ExpThenCoin(t *testing.T) {
	a := Entry{UserID: uuid.New(), Username: "a", TotalExp: 500, TotalCoin: 10}
	b := Entry{UserID: uuid.New(), Username: "b", TotalExp: 500, TotalCoin: 20}
	c := Entry{UserID: uuid.New(), Username: "c", TotalExp: 300, TotalCoin: 5}

	entries := []Entry{a, b, c}
	SortAndRank(entries)

	assert.Equal(t, "b", entries[0].Username)
	assert.Equal(t, "a", entries[1].Username)
	assert.Equal(t, "c", entries[2].Username)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestSortAndRank_FullTieBreaksOnUserID(t *testing.T) {
	id1 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	entries := []Entry{
		{UserID: id2, TotalExp: 100, TotalCoin: 100},
		{UserID: id1, TotalExp: 100, TotalCoin: 100},
	}
	SortAndRank(entries)

	assert.Equal(t, id1, entries[0].UserID)
	assert.Equal(t, id2, entries[1].UserID)
}

func TestSortAndRank_Deterministic(t *testing.T) {
	entries := []Entry{
		{UserID: uuid.New(), TotalExp: 50, TotalCoin: 1},
		{UserID: uuid.New(), TotalExp: 50, TotalCoin: 1},
		{UserID: uuid.New(), TotalExp: 90, TotalCoin: 0},
	}

	first := make([]Entry, len(entries))
	copy(first, entries)
	SortAndRank(first)

	// Shuffle the input order and re-rank: the outcome must not change.
	shuffled := []Entry{entries[2], entries[0], entries[1]}
	SortAndRank(shuffled)

	for i := range first {
		assert.Equal(t, first[i].UserID, shuffled[i].UserID)
		assert.Equal(t, first[i].Rank, shuffled[i].Rank)
	}
}

func TestSortAndRank_Empty(t *testing.T) {
	SortAndRank(nil)
	SortAndRank([]Entry{})
}

func TestPositioned_ZeroExpIsUnranked(t *testing.T) {
	// A zero-exp user can still sit in a snapshot with a baked rank, for
	// example right after a monthly reset. Reading their position must give
	// the same answer as a live count would.
	e := Entry{UserID: uuid.New(), Rank: 7, TotalExp: 0, TotalCoin: 42}

	got := Positioned(e)

	assert.Equal(t, UnrankedSentinel, got.Rank)
	assert.Equal(t, 7, e.Rank, "input entry must not be mutated")
}

func TestPositioned_KeepsRankWithExp(t *testing.T) {
	e := Entry{UserID: uuid.New(), Rank: 3, TotalExp: 150}

	assert.Equal(t, 3, Positioned(e).Rank)
}
