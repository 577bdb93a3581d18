package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the canonical date format.
	DateLayout = "2006-01-02"
	// ClockLayout is the canonical time-of-day format.
	ClockLayout = "15:04:05"
)

var (
	clockPattern  = regexp.MustCompile(`^(\d{1,2})(?:[:h](\d{2})?(?::(\d{2}))?)?$`)
	brDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

var weekdayLabels = [...]string{
	time.Sunday:    "domingo",
	time.Monday:    "segunda-feira",
	time.Tuesday:   "terça-feira",
	time.Wednesday: "quarta-feira",
	time.Thursday:  "quinta-feira",
	time.Friday:    "sexta-feira",
	time.Saturday:  "sábado",
}

// CanonicalTime normalizes "9", "9h", "9h30", "09:30" or "09:30:00" to HH:MM:SS.
func CanonicalTime(raw string) (string, error) {
	secs, err := ParseClock(raw)
	if err != nil {
		return "", err
	}
	return FormatClock(secs), nil
}

// ParseClock returns the seconds since midnight for a loosely formatted time of day.
func ParseClock(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: time %q", ErrInvalidFormat, raw)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, second := 0, 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}
	if hour > 23 || minute > 59 || second > 59 {
		return 0, fmt.Errorf("%w: time %q", ErrInvalidFormat, raw)
	}
	return hour*3600 + minute*60 + second, nil
}

// FormatClock renders seconds since midnight as HH:MM:SS.
func FormatClock(secs int) string {
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// CanonicalDate normalizes YYYY-MM-DD or DD/MM/YYYY to YYYY-MM-DD.
func CanonicalDate(raw string) (string, error) {
	d, err := ParseDate(raw, time.UTC)
	if err != nil {
		return "", err
	}
	return d.Format(DateLayout), nil
}

// ParseDate parses a loosely formatted date as midnight in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	if m := brDatePattern.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidFormat, raw)
		}
		return t, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidFormat, raw)
	}
	return t, nil
}

// Midnight truncates t to the start of its day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// WeekdayLabel returns the Portuguese weekday name.
func WeekdayLabel(d time.Weekday) string {
	return weekdayLabels[d]
}

// DisplayDate renders YYYY-MM-DD as DD/MM/YYYY.
func DisplayDate(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("02/01/2006")
}

// DisplayTime renders HH:MM:SS as HH:MM.
func DisplayTime(clock string) string {
	if len(clock) >= 5 {
		return clock[:5]
	}
	return clock
}
