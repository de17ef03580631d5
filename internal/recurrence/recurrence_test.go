package recurrence

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	r, err := Parse("FREQ=WEEKLY;INTERVAL=2;BYDAY=TH,MO,TH;UNTIL=20260601")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Freq != Weekly || r.Interval != 2 {
		t.Errorf("freq/interval = %v/%d, want weekly/2", r.Freq, r.Interval)
	}
	if len(r.ByDay) != 2 || r.ByDay[0] != time.Monday || r.ByDay[1] != time.Thursday {
		t.Errorf("byday = %v, want [Monday Thursday]", r.ByDay)
	}
	if r.Until == nil || !r.Until.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("until = %v", r.Until)
	}

	r, err = Parse("FREQ=DAILY")
	if err != nil {
		t.Fatalf("parse daily: %v", err)
	}
	if r.Interval != 1 || r.Count != 0 || r.Until != nil {
		t.Errorf("daily defaults = %+v", r)
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"WEEKLY",
		"INTERVAL=2",
		"FREQ=HOURLY",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=WEEKLY;BYDAY=XX",
		"FREQ=DAILY;BYDAY=MO",
		"FREQ=MONTHLY;BYMONTHDAY=32",
		"FREQ=WEEKLY;BYMONTHDAY=3",
		"FREQ=DAILY;COUNT=-1",
		"FREQ=DAILY;UNTIL=tomorrow",
		"FREQ=DAILY;BYSETPOS=1",
	} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		rule string
		want string
	}{
		{"FREQ=DAILY", "Every day"},
		{"FREQ=DAILY;INTERVAL=3", "Every 3 days"},
		{"FREQ=WEEKLY", "Every week"},
		{"FREQ=WEEKLY;INTERVAL=2;BYDAY=FR,MO", "Every 2 weeks on Mon, Fri"},
		{"FREQ=MONTHLY;BYMONTHDAY=15", "Every month on day 15"},
		{"FREQ=YEARLY", "Every year"},
		{"FREQ=DAILY;UNTIL=20260601", "Every day until Jun 1, 2026"},
	}
	for _, tt := range tests {
		r, err := Parse(tt.rule)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.rule, err)
		}
		if got := r.Describe(); got != tt.want {
			t.Errorf("Describe(%q) = %q, want %q", tt.rule, got, tt.want)
		}
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 18, 30, 0, 0, time.UTC)
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		anchor time.Time
		from   time.Time
		until  time.Time
		want   []time.Time
	}{
		{
			name:   "daily",
			rule:   "FREQ=DAILY",
			anchor: date(2026, 3, 2),
			from:   date(2026, 3, 2),
			until:  date(2026, 3, 5),
			want:   []time.Time{date(2026, 3, 2), date(2026, 3, 3), date(2026, 3, 4)},
		},
		{
			name:   "weekly keeps the anchor weekday",
			rule:   "FREQ=WEEKLY",
			anchor: date(2026, 3, 3),
			from:   date(2026, 3, 1),
			until:  date(2026, 3, 25),
			want:   []time.Time{date(2026, 3, 3), date(2026, 3, 10), date(2026, 3, 17), date(2026, 3, 24)},
		},
		{
			name:   "biweekly by day skips days before the anchor",
			rule:   "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,FR",
			anchor: date(2026, 3, 4), // Wednesday
			from:   date(2026, 3, 1),
			until:  date(2026, 3, 31),
			want:   []time.Time{date(2026, 3, 6), date(2026, 3, 16), date(2026, 3, 20), date(2026, 3, 30)},
		},
		{
			name:   "sunday falls at the end of the week",
			rule:   "FREQ=WEEKLY;BYDAY=SU",
			anchor: date(2026, 3, 2),
			from:   date(2026, 3, 2),
			until:  date(2026, 3, 16),
			want:   []time.Time{date(2026, 3, 8), date(2026, 3, 15)},
		},
		{
			name:   "monthly on the 31st skips short months",
			rule:   "FREQ=MONTHLY",
			anchor: date(2026, 1, 31),
			from:   date(2026, 1, 1),
			until:  date(2026, 6, 1),
			want:   []time.Time{date(2026, 1, 31), date(2026, 3, 31), date(2026, 5, 31)},
		},
		{
			name:   "monthly by day of month",
			rule:   "FREQ=MONTHLY;BYMONTHDAY=15",
			anchor: date(2026, 1, 20),
			from:   date(2026, 1, 1),
			until:  date(2026, 4, 1),
			want:   []time.Time{date(2026, 2, 15), date(2026, 3, 15)},
		},
		{
			name:   "leap day recurs only in leap years",
			rule:   "FREQ=YEARLY",
			anchor: date(2024, 2, 29),
			from:   date(2024, 1, 1),
			until:  date(2033, 1, 1),
			want:   []time.Time{date(2024, 2, 29), date(2028, 2, 29), date(2032, 2, 29)},
		},
		{
			name:   "count limits the series",
			rule:   "FREQ=DAILY;COUNT=2",
			anchor: date(2026, 3, 2),
			from:   date(2026, 3, 1),
			until:  date(2026, 4, 1),
			want:   []time.Time{date(2026, 3, 2), date(2026, 3, 3)},
		},
		{
			name:   "until is inclusive",
			rule:   "FREQ=DAILY;UNTIL=20260304T183000Z",
			anchor: date(2026, 3, 2),
			from:   date(2026, 3, 1),
			until:  date(2026, 4, 1),
			want:   []time.Time{date(2026, 3, 2), date(2026, 3, 3), date(2026, 3, 4)},
		},
		{
			name:   "from filters earlier due times",
			rule:   "FREQ=DAILY;INTERVAL=2",
			anchor: date(2026, 3, 2),
			from:   date(2026, 3, 5),
			until:  date(2026, 3, 10),
			want:   []time.Time{date(2026, 3, 6), date(2026, 3, 8)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.rule)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got := Between(r, tt.anchor, tt.from, tt.until)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if !got[i].Equal(tt.want[i]) {
					t.Errorf("[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNext(t *testing.T) {
	r, _ := Parse("FREQ=WEEKLY;BYDAY=MO,TH")
	anchor := date(2026, 3, 2)

	next, ok := Next(r, anchor, anchor)
	if !ok || !next.Equal(date(2026, 3, 5)) {
		t.Errorf("Next = %v, %v; want Mar 5", next, ok)
	}
	next, ok = Next(r, anchor, date(2026, 3, 5))
	if !ok || !next.Equal(date(2026, 3, 9)) {
		t.Errorf("Next after Thursday = %v, %v; want Mar 9", next, ok)
	}
}

func TestNextEnded(t *testing.T) {
	r, _ := Parse("FREQ=DAILY;UNTIL=20260303")
	if _, ok := Next(r, date(2026, 3, 2), date(2026, 3, 2)); ok {
		t.Error("expected the series to have ended")
	}

	r, _ = Parse("FREQ=YEARLY")
	if _, ok := Next(r, date(2026, 2, 28), date(2026, 2, 28)); !ok {
		t.Error("expected a yearly series to continue")
	}
}

func TestNextUnreachable(t *testing.T) {
	r, _ := Parse("FREQ=MONTHLY;INTERVAL=12;BYMONTHDAY=30")
	if _, ok := Next(r, date(2026, 2, 1), date(2026, 2, 1)); ok {
		t.Error("expected no due time for the 30th of February")
	}
}
