// Package recurrence parses the RRULE subset used for repeating tasks and
// generates their due times.
package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqs = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

var weekdays = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// Rule is a parsed recurrence. Interval is at least 1.
type Rule struct {
	Freq       Freq
	Interval   int
	ByDay      []time.Weekday // weekly only; Monday first
	ByMonthDay int            // monthly only; 0 means the anchor's day
	Count      int
	Until      *time.Time
}

const untilLayout = "20060102T150405Z"

// Parse reads a rule such as "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,TH".
func Parse(s string) (Rule, error) {
	r := Rule{Interval: 1}
	seenFreq := false
	for _, part := range strings.Split(s, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("malformed rule part %q", part)
		}
		switch key {
		case "FREQ":
			f, ok := freqs[val]
			if !ok {
				return Rule{}, fmt.Errorf("unsupported frequency %q", val)
			}
			r.Freq, seenFreq = f, true
		case "INTERVAL":
			n, err := positive(val)
			if err != nil {
				return Rule{}, fmt.Errorf("interval: %w", err)
			}
			r.Interval = n
		case "BYDAY":
			days, err := parseDays(val)
			if err != nil {
				return Rule{}, err
			}
			r.ByDay = days
		case "BYMONTHDAY":
			n, err := positive(val)
			if err != nil || n > 31 {
				return Rule{}, fmt.Errorf("day of month %q out of range", val)
			}
			r.ByMonthDay = n
		case "COUNT":
			n, err := positive(val)
			if err != nil {
				return Rule{}, fmt.Errorf("count: %w", err)
			}
			r.Count = n
		case "UNTIL":
			t, err := time.Parse(untilLayout, val)
			if err != nil {
				if t, err = time.Parse("20060102", val); err != nil {
					return Rule{}, fmt.Errorf("until %q is not a date", val)
				}
			}
			r.Until = &t
		default:
			return Rule{}, fmt.Errorf("unsupported rule part %q", key)
		}
	}
	if !seenFreq {
		return Rule{}, fmt.Errorf("rule has no FREQ")
	}
	if len(r.ByDay) > 0 && r.Freq != Weekly {
		return Rule{}, fmt.Errorf("BYDAY requires FREQ=WEEKLY")
	}
	if r.ByMonthDay > 0 && r.Freq != Monthly {
		return Rule{}, fmt.Errorf("BYMONTHDAY requires FREQ=MONTHLY")
	}
	return r, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%q is not a positive number", s)
	}
	return n, nil
}

func parseDays(s string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var days []time.Weekday
	for _, name := range strings.Split(s, ",") {
		d, ok := weekdays[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return mondayOffset(days[i]) < mondayOffset(days[j]) })
	return days, nil
}

func mondayOffset(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Describe renders the rule for people, e.g. "Every 2 weeks on Mon, Thu".
func (r Rule) Describe() string {
	unit := map[Freq]string{Daily: "day", Weekly: "week", Monthly: "month", Yearly: "year"}[r.Freq]
	var b strings.Builder
	if r.Interval > 1 {
		fmt.Fprintf(&b, "Every %d %ss", r.Interval, unit)
	} else {
		b.WriteString("Every " + unit)
	}
	if len(r.ByDay) > 0 {
		names := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			names[i] = d.String()[:3]
		}
		b.WriteString(" on " + strings.Join(names, ", "))
	}
	if r.ByMonthDay > 0 {
		fmt.Fprintf(&b, " on day %d", r.ByMonthDay)
	}
	if r.Until != nil {
		b.WriteString(" until " + r.Until.Format("Jan 2, 2006"))
	}
	return b.String()
}
