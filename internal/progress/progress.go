package progress

import (
	"time"

	"github.com/google/uuid"

	"placeQuestAPI/internal/definition"
)

type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
)

// Record tracks one user's progress against one definition within one
// period bucket. The zero PeriodDate is the sentinel for non-resettable
// definitions (stored as 0001-01-01).
type Record struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	DefinitionID uuid.UUID  `json:"definition_id"`
	PeriodDate   time.Time  `json:"period_date"`
	CurrentCount int        `json:"current_count"`
	TargetCount  int        `json:"target_count"`
	Status       Status     `json:"status"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (r *Record) Complete() bool {
	return r.Status == StatusComplete
}

// WithDefinition joins a progress record with its definition for the
// user-facing progress list. Records that were never started carry zero
// counts.
type WithDefinition struct {
	Definition   definition.Definition `json:"definition"`
	CurrentCount int                   `json:"current_count"`
	TargetCount  int                   `json:"target_count"`
	Status       Status                `json:"status"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
	PeriodDate   *time.Time            `json:"period_date,omitempty"`
}

// PeriodFor maps a reset schedule onto its bucket start: midnight of the
// current day for daily, midnight Monday of the current ISO week for weekly,
// and the zero time sentinel for non-resettable definitions.
func PeriodFor(schedule definition.ResetSchedule, now time.Time) time.Time {
	switch schedule {
	case definition.ResetDaily:
		return DayStart(now)
	case definition.ResetWeekly:
		return WeekStart(now)
	default:
		return time.Time{}
	}
}

func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekStart returns midnight of the Monday beginning t's ISO week.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := int(day.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7 // Sunday belongs to the week that started the previous Monday
	}
	return day.AddDate(0, 0, -offset)
}
