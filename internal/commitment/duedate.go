package commitment

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DueDateParser resolves phrases like "tomorrow" or "within 2 business days"
// against a reference time. Business hours default to 9:00-17:00.
type DueDateParser struct {
	Location      *time.Location
	BusinessStart int
	BusinessEnd   int
}

// DefaultDueDateParser uses the agency's local time zone.
func DefaultDueDateParser(loc *time.Location) DueDateParser {
	if loc == nil {
		loc = time.UTC
	}
	return DueDateParser{Location: loc, BusinessStart: 9, BusinessEnd: 17}
}

var (
	reBusinessDays = regexp.MustCompile(`within (\d+) business days?`)
	reWithinHours  = regexp.MustCompile(`within (\d+) hours?`)
	reInDays       = regexp.MustCompile(`in (\d+) (day|week)s?`)
	reClock        = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	reEndOfDay     = regexp.MustCompile(`\b(end of (?:the )?day|eod|close of business|cob)\b`)
	reEndOfWeek    = regexp.MustCompile(`\bend of (?:the )?week\b`)
	reNoon         = regexp.MustCompile(`\bnoon\b`)
)

var partsOfDay = []struct {
	word string
	hour int
}{
	{"morning", 9},
	{"afternoon", 14},
	{"evening", 16},
	{"tonight", 18},
}

// Parse returns the due time for text and a confidence in [0,1].
func (p DueDateParser) Parse(text string, ref time.Time) (time.Time, float64) {
	if p.Location != nil {
		ref = ref.In(p.Location)
	}
	text = strings.ToLower(strings.TrimSpace(text))

	if strings.Contains(text, "next business day") {
		return p.at(addBusinessDays(ref, 1), p.BusinessStart, 0), 0.9
	}
	if m := reBusinessDays.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return p.at(addBusinessDays(ref, n), p.BusinessEnd, 0), 0.9
	}
	if strings.Contains(text, "within the hour") {
		return ref.Add(time.Hour), 0.9
	}
	if m := reWithinHours.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return ref.Add(time.Duration(n) * time.Hour), 0.9
	}

	day := ref
	offset := false
	confidence := 0.6
	switch {
	case strings.Contains(text, "tomorrow"):
		day, offset, confidence = ref.AddDate(0, 0, 1), true, 0.9
	case strings.Contains(text, "next week"):
		day, offset, confidence = ref.AddDate(0, 0, 7), true, 0.8
	case reEndOfWeek.MatchString(text):
		day, offset, confidence = endOfWeek(ref), true, 0.8
	case reInDays.MatchString(text):
		m := reInDays.FindStringSubmatch(text)
		n, _ := strconv.Atoi(m[1])
		if m[2] == "week" {
			n *= 7
		}
		day, offset, confidence = ref.AddDate(0, 0, n), true, 0.8
	case weekdayIn(text) >= 0:
		wd := time.Weekday(weekdayIn(text))
		day, confidence = ref.AddDate(0, 0, (int(wd)-int(ref.Weekday())+7)%7), 0.8
	case strings.Contains(text, "today"):
		confidence = 0.9
	case strings.Contains(text, "soon"):
		return ref.Add(72 * time.Hour), 0.4
	}

	if m := reClock.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour <= 12 && minute < 60 {
			if m[3] == "pm" && hour < 12 {
				hour += 12
			}
			if m[3] == "am" && hour == 12 {
				hour = 0
			}
			return p.at(day, hour, minute), 0.9
		}
	}
	if reNoon.MatchString(text) {
		return p.at(day, 12, 0), 0.9
	}
	if reEndOfDay.MatchString(text) {
		return p.at(day, p.BusinessEnd, 0), 0.8
	}
	for _, pd := range partsOfDay {
		if strings.Contains(text, pd.word) {
			return p.at(day, pd.hour, 0), max(confidence, 0.7)
		}
	}
	if offset && !reEndOfWeek.MatchString(text) {
		return p.at(day, p.BusinessStart, 0), confidence
	}
	return p.at(day, p.BusinessEnd, 0), confidence
}

func (p DueDateParser) at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func addBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

var weekdays = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// weekdayIn returns the time.Weekday named in text, or -1.
func weekdayIn(text string) int {
	for i, name := range weekdays {
		if strings.Contains(text, name) {
			return i
		}
	}
	return -1
}

// endOfWeek returns the Friday of t's week, or t itself on weekends.
func endOfWeek(t time.Time) time.Time {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return t
	}
	return t.AddDate(0, 0, int(time.Friday-wd))
}
