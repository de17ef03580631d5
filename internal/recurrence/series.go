package recurrence

import "time"

// maxPeriods bounds the search for rules that can never match again, such as
// BYMONTHDAY=31 stepping twelve months from a short month.
const maxPeriods = 5000

// series walks the due times of a rule anchored at its first due time.
// Times keep the anchor's clock and location.
type series struct {
	rule    Rule
	anchor  time.Time
	period  int
	pending []time.Time
	emitted int
}

func newSeries(rule Rule, anchor time.Time) *series {
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	return &series{rule: rule, anchor: anchor}
}

// next returns the following due time, or false once the series has ended.
func (s *series) next() (time.Time, bool) {
	for len(s.pending) == 0 {
		if s.period >= maxPeriods {
			return time.Time{}, false
		}
		s.pending = s.dueIn(s.period)
		s.period++
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	if s.rule.Until != nil && t.After(*s.rule.Until) {
		return time.Time{}, false
	}
	if s.rule.Count > 0 && s.emitted >= s.rule.Count {
		return time.Time{}, false
	}
	s.emitted++
	return t, true
}

// dueIn lists the due times falling in the k-th period after the anchor's.
func (s *series) dueIn(k int) []time.Time {
	a, step := s.anchor, k*s.rule.Interval
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, a.Hour(), a.Minute(), a.Second(), 0, a.Location())
	}

	switch s.rule.Freq {
	case Daily:
		return []time.Time{a.AddDate(0, 0, step)}

	case Weekly:
		if len(s.rule.ByDay) == 0 {
			return []time.Time{a.AddDate(0, 0, 7*step)}
		}
		monday := a.AddDate(0, 0, 7*step-mondayOffset(a.Weekday()))
		var out []time.Time
		for _, d := range s.rule.ByDay {
			t := at(monday.Year(), monday.Month(), monday.Day()+mondayOffset(d))
			if !t.Before(a) {
				out = append(out, t)
			}
		}
		return out

	case Monthly:
		day := s.rule.ByMonthDay
		if day == 0 {
			day = a.Day()
		}
		first := time.Date(a.Year(), a.Month()+time.Month(step), 1, 0, 0, 0, 0, a.Location())
		if day > daysIn(first.Year(), first.Month()) {
			return nil
		}
		t := at(first.Year(), first.Month(), day)
		if t.Before(a) {
			return nil
		}
		return []time.Time{t}

	case Yearly:
		y := a.Year() + step
		if a.Day() > daysIn(y, a.Month()) {
			return nil
		}
		return []time.Time{at(y, a.Month(), a.Day())}
	}
	return nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Next returns the first due time strictly after after, for a series whose
// first due time is anchor. It reports false once the series has ended.
func Next(rule Rule, anchor, after time.Time) (time.Time, bool) {
	s := newSeries(rule, anchor)
	for {
		t, ok := s.next()
		if !ok {
			return time.Time{}, false
		}
		if t.After(after) {
			return t, true
		}
	}
}

// Between lists the due times in [from, until).
func Between(rule Rule, anchor, from, until time.Time) []time.Time {
	var out []time.Time
	s := newSeries(rule, anchor)
	for {
		t, ok := s.next()
		if !ok || !t.Before(until) {
			return out
		}
		if !t.Before(from) {
			out = append(out, t)
		}
	}
}
