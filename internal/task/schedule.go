package task

import (
	"fmt"
	"time"

	"github.com/dukerupert/chorebank/internal/recurrence"
)

// ParseFrequency validates a task frequency. Empty means a one-off task.
// COUNT is rejected because each occurrence is its own task and the series
// origin is not kept.
func ParseFrequency(freq string) (*recurrence.Rule, error) {
	if freq == "" {
		return nil, nil
	}
	rule, err := recurrence.Parse(freq)
	if err != nil {
		return nil, err
	}
	if rule.Count > 0 {
		return nil, fmt.Errorf("COUNT is not supported for tasks; use UNTIL")
	}
	return &rule, nil
}

// NextDue returns the first due time of the series after both due and now,
// or false for a one-off task or a series that has ended. Occurrences missed
// while a task sat overdue are skipped rather than spawned already late.
func NextDue(freq string, due, now time.Time) (time.Time, bool) {
	rule, err := ParseFrequency(freq)
	if err != nil || rule == nil {
		return time.Time{}, false
	}
	after := due
	if now.After(after) {
		after = now
	}
	return recurrence.Next(*rule, due, after)
}

// Describe returns a readable schedule such as "Every week on Mon, Wed".
func Describe(freq string) string {
	rule, err := ParseFrequency(freq)
	if err != nil || rule == nil {
		return "Once"
	}
	return rule.Describe()
}

// Upcoming lists the due times of the series in [due, until), starting with
// due itself. A one-off task yields only due.
func Upcoming(freq string, due, until time.Time) []time.Time {
	if !due.Before(until) {
		return nil
	}
	out := []time.Time{due}
	rule, err := ParseFrequency(freq)
	if err != nil || rule == nil {
		return out
	}
	for _, t := range recurrence.Between(*rule, due, due, until) {
		if !t.Equal(due) {
			out = append(out, t)
		}
	}
	return out
}
