package commitment

import (
	"testing"
	"time"
)

// Tuesday 10:00 UTC.
var refTime = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func TestDueDateParser_Parse(t *testing.T) {
	p := DefaultDueDateParser(time.UTC)

	tests := []struct {
		text     string
		want     time.Time
		wantConf float64
	}{
		{"tomorrow", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), 0.9},
		{"tomorrow afternoon", time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC), 0.9},
		{"today", time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), 0.9},
		{"by eod", time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), 0.8},
		{"by 3:30 pm", time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC), 0.9},
		{"by noon", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 0.9},
		{"next week", time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC), 0.8},
		{"next business day", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), 0.9},
		{"within 4 business days", time.Date(2026, 3, 16, 17, 0, 0, 0, time.UTC), 0.9},
		{"within 2 hours", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 0.9},
		{"in 2 weeks", time.Date(2026, 3, 24, 9, 0, 0, 0, time.UTC), 0.8},
		{"by friday", time.Date(2026, 3, 13, 17, 0, 0, 0, time.UTC), 0.8},
		{"end of the week", time.Date(2026, 3, 13, 17, 0, 0, 0, time.UTC), 0.8},
		{"soon", refTime.Add(72 * time.Hour), 0.4},
		{"", time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, conf := p.Parse(tt.text, refTime)
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
			if conf != tt.wantConf {
				t.Errorf("Parse(%q) confidence = %v, want %v", tt.text, conf, tt.wantConf)
			}
		})
	}
}

func TestDueDateParser_BusinessDaysSkipWeekend(t *testing.T) {
	p := DefaultDueDateParser(time.UTC)
	friday := time.Date(2026, 3, 13, 11, 0, 0, 0, time.UTC)

	got, _ := p.Parse("next business day", friday)
	want := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next business day from Friday = %v, want %v", got, want)
	}
}

func TestDueDateParser_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	p := DefaultDueDateParser(ny)

	got, _ := p.Parse("tomorrow", refTime)
	if got.Location() != ny || got.Hour() != 9 {
		t.Errorf("Parse(tomorrow) = %v, want 09:00 America/New_York", got)
	}
}
