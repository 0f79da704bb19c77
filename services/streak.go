package services

import "time"

type StreakAction string

const (
	StreakFirst     StreakAction = "FIRST"
	StreakSameWeek  StreakAction = "SAME_WEEK"
	StreakIncrement StreakAction = "INCREMENT"
	StreakReset     StreakAction = "RESET"
)

// StreakDecision is what a qualifying submission does to a weekly streak.
type StreakDecision struct {
	Action           StreakAction
	CurrentWeekStart time.Time
}

// Apply returns the streak value after the decision.
func (d StreakDecision) Apply(current int) int {
	switch d.Action {
	case StreakSameWeek:
		return current
	case StreakIncrement:
		return current + 1
	default: // FIRST, RESET: this submission is week one
		return 1
	}
}

// WeekStart returns the Monday (UTC midnight) of the ISO week containing t's
// UTC calendar date. Sunday belongs to the week of the preceding Monday.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0 … Sunday=6
	return day.AddDate(0, 0, -offset)
}

// ComputeStreak decides how a submission on submissionDate affects a streak whose
// last qualifying week started on lastWeekStart (nil if there never was one).
func ComputeStreak(lastWeekStart *time.Time, submissionDate time.Time) StreakDecision {
	current := WeekStart(submissionDate)
	decision := StreakDecision{CurrentWeekStart: current}

	if lastWeekStart == nil {
		decision.Action = StreakFirst
		return decision
	}

	last := WeekStart(*lastWeekStart)
	switch {
	case current.Equal(last):
		decision.Action = StreakSameWeek
	case current.Equal(last.AddDate(0, 0, 7)):
		decision.Action = StreakIncrement
	default:
		decision.Action = StreakReset
	}
	return decision
}
