package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"placeQuestAPI/internal/definition"
)

func TestPeriodFor_Daily(t *testing.T) {
	now := time.Date(2026, 3, 14, 17, 42, 9, 0, time.UTC)

	got := PeriodFor(definition.ResetDaily, now)

	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), got)
}

func TestPeriodFor_WeeklyStartsMonday(t *testing.T) {
	// 2026-03-11 is a Wednesday; its ISO week starts Monday 2026-03-09.
	wednesday := time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC)

	got := PeriodFor(definition.ResetWeekly, wednesday)

	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestPeriodFor_WeeklySundayBelongsToPreviousMonday(t *testing.T) {
	// 2026-03-15 is a Sunday; it must not start a new week.
	sunday := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)

	got := PeriodFor(definition.ResetWeekly, sunday)

	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), got)
}

func TestPeriodFor_MondayStartsItsOwnWeek(t *testing.T) {
	monday := time.Date(2026, 3, 9, 0, 0, 1, 0, time.UTC)

	got := PeriodFor(definition.ResetWeekly, monday)

	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), got)
}

func TestPeriodFor_NoneIsZeroSentinel(t *testing.T) {
	now := time.Date(2026, 3, 14, 17, 42, 9, 0, time.UTC)

	got := PeriodFor(definition.ResetNone, now)

	assert.True(t, got.IsZero())
}

func TestComplete(t *testing.T) {
	r := &Record{Status: StatusIncomplete}
	assert.False(t, r.Complete())

	r.Status = StatusComplete
	assert.True(t, r.Complete())
}
