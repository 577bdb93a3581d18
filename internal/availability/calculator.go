// Package availability derives open appointment slots from weekly templates, date
// exceptions and confirmed bookings.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/internal/schedule"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultMaxDaySpan bounds how far ahead a search may look.
	DefaultMaxDaySpan = 60
	// DefaultMargin is the look-ahead applied to today's slots.
	DefaultMargin = 60 * time.Minute

	scanStep = 10
)

var availabilityTracer = otel.Tracer("clinic.internal.availability")

// Source is the read side of the schedule repository. Date bounds are inclusive YYYY-MM-DD.
type Source interface {
	WeeklyTemplates(ctx context.Context) ([]schedule.WeeklyTemplate, error)
	ActiveExceptions(ctx context.Context, from, to string) ([]schedule.Exception, error)
	ConfirmedSlots(ctx context.Context, from, to string) ([]schedule.Slot, error)
}

// Day is one date with at least one open slot.
type Day struct {
	Date         string   `json:"date"`
	WeekdayLabel string   `json:"weekday"`
	Slots        []string `json:"slots"`
}

// DayStatus explains why a date has or lacks slots.
type DayStatus string

const (
	DayOpen       DayStatus = "open"
	DayPast       DayStatus = "past"
	DayException  DayStatus = "exception"
	DayNoTemplate DayStatus = "no_template"
)

// DaySlots is the full derivation for a single date.
type DaySlots struct {
	Date   string
	Status DayStatus
	// Grid holds template slots still in the future, booked or not.
	Grid []string
	// Free is Grid minus confirmed bookings.
	Free []string
}

// Calculator computes availability. It holds no state between calls.
type Calculator struct {
	source Source
	loc    *time.Location
	margin time.Duration
	now    func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithLocation sets the clinic timezone used to decide "today".
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithMargin sets the look-ahead applied to today's slots.
func WithMargin(margin time.Duration) Option {
	return func(c *Calculator) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCalculator builds a Calculator over source.
func NewCalculator(source Source, opts ...Option) *Calculator {
	if source == nil {
		panic("availability: source required")
	}
	c := &Calculator{
		source: source,
		loc:    time.UTC,
		margin: DefaultMargin,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the clinic timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Margin returns the look-ahead applied to today's slots.
func (c *Calculator) Margin() time.Duration {
	return c.margin
}

// Now returns the current time in the clinic timezone.
func (c *Calculator) Now() time.Time {
	return c.now().In(c.loc)
}

// ComputeAvailableDays scans forward from fromDate in widening windows of 10, 20, ... days
// until neededDayCount open days are found or maxDaySpan days have been scanned. An empty
// result means nothing is open in range; only storage failures return an error.
func (c *Calculator) ComputeAvailableDays(ctx context.Context, fromDate time.Time, neededDayCount, maxDaySpan int) ([]Day, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.compute_days")
	defer span.End()

	days := make([]Day, 0, max(neededDayCount, 0))
	if neededDayCount <= 0 {
		return days, nil
	}
	if maxDaySpan <= 0 {
		maxDaySpan = DefaultMaxDaySpan
	}

	templates, err := c.templatesByWeekday(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(templates) == 0 {
		return days, nil
	}

	now := c.Now()
	today := schedule.Midnight(now, c.loc)
	start := schedule.Midnight(fromDate, c.loc)
	if start.Before(today) {
		start = today
	}

	scanned := 0
	for _, window := range scanWindows(maxDaySpan) {
		rangeStart := start.AddDate(0, 0, scanned)
		rangeEnd := start.AddDate(0, 0, window-1)
		closed, booked, err := c.loadRange(ctx, rangeStart, rangeEnd)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		for offset := scanned; offset < window; offset++ {
			date := start.AddDate(0, 0, offset)
			derived := c.derive(date, templates, closed, booked, now, today)
			if len(derived.Free) == 0 {
				continue
			}
			days = append(days, Day{
				Date:         derived.Date,
				WeekdayLabel: schedule.WeekdayLabel(date.Weekday()),
				Slots:        derived.Free,
			})
			if len(days) == neededDayCount {
				span.SetAttributes(attribute.Int("clinic.availability.scanned_days", offset+1))
				return days, nil
			}
		}
		scanned = window
	}

	span.SetAttributes(attribute.Int("clinic.availability.scanned_days", scanned))
	return days, nil
}

// SlotsForDate derives the slot grid and free slots for one date from fresh reads.
func (c *Calculator) SlotsForDate(ctx context.Context, date time.Time) (DaySlots, error) {
	ctx, span := availabilityTracer.Start(ctx, "availability.slots_for_date")
	defer span.End()

	templates, err := c.templatesByWeekday(ctx)
	if err != nil {
		span.RecordError(err)
		return DaySlots{}, err
	}
	now := c.Now()
	today := schedule.Midnight(now, c.loc)
	day := schedule.Midnight(date, c.loc)

	closed, booked, err := c.loadRange(ctx, day, day)
	if err != nil {
		span.RecordError(err)
		return DaySlots{}, err
	}
	return c.derive(day, templates, closed, booked, now, today), nil
}

func (c *Calculator) derive(date time.Time, templates map[time.Weekday]schedule.WeeklyTemplate, closed map[string]bool, booked map[string]map[string]struct{}, now, today time.Time) DaySlots {
	key := date.Format(schedule.DateLayout)
	out := DaySlots{Date: key, Status: DayOpen}

	if date.Before(today) {
		out.Status = DayPast
		return out
	}
	if closed[key] {
		out.Status = DayException
		return out
	}
	tmpl, ok := templates[date.Weekday()]
	if !ok {
		out.Status = DayNoTemplate
		return out
	}

	cutoff := -1
	if date.Equal(today) {
		elapsed := now.Sub(today) + c.margin
		cutoff = int(elapsed / time.Second)
	}

	seen := make(map[int]struct{})
	var grid []int
	step := tmpl.IntervalMinutes * 60
	for _, w := range tmpl.Windows() {
		startSecs, err := schedule.ParseClock(w.Start)
		if err != nil {
			continue
		}
		endSecs, err := schedule.ParseClock(w.End)
		if err != nil {
			continue
		}
		for t := startSecs; t <= endSecs; t += step {
			if t < cutoff {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			grid = append(grid, t)
		}
	}
	sort.Ints(grid)

	occupied := booked[key]
	for _, t := range grid {
		label := schedule.FormatClock(t)
		out.Grid = append(out.Grid, label)
		if _, taken := occupied[label]; taken {
			continue
		}
		out.Free = append(out.Free, label)
	}
	return out
}

func (c *Calculator) templatesByWeekday(ctx context.Context) (map[time.Weekday]schedule.WeeklyTemplate, error) {
	list, err := c.source.WeeklyTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("availability: load templates: %w", err)
	}
	out := make(map[time.Weekday]schedule.WeeklyTemplate, len(list))
	for _, tmpl := range list {
		if tmpl.Validate() != nil {
			continue
		}
		out[tmpl.Weekday] = tmpl
	}
	return out, nil
}

func (c *Calculator) loadRange(ctx context.Context, from, to time.Time) (map[string]bool, map[string]map[string]struct{}, error) {
	fromKey := from.Format(schedule.DateLayout)
	toKey := to.Format(schedule.DateLayout)

	exceptions, err := c.source.ActiveExceptions(ctx, fromKey, toKey)
	if err != nil {
		return nil, nil, fmt.Errorf("availability: load exceptions: %w", err)
	}
	closed := make(map[string]bool, len(exceptions))
	for _, ex := range exceptions {
		if ex.Active && ex.Kind.Closes() {
			closed[ex.Date] = true
		}
	}

	slots, err := c.source.ConfirmedSlots(ctx, fromKey, toKey)
	if err != nil {
		return nil, nil, fmt.Errorf("availability: load bookings: %w", err)
	}
	booked := make(map[string]map[string]struct{})
	for _, s := range slots {
		if booked[s.Date] == nil {
			booked[s.Date] = make(map[string]struct{})
		}
		booked[s.Date][s.Time] = struct{}{}
	}
	return closed, booked, nil
}

// scanWindows returns the cumulative window sizes 10, 20, ... capped at maxDaySpan.
func scanWindows(maxDaySpan int) []int {
	var out []int
	for w := scanStep; w < maxDaySpan; w += scanStep {
		out = append(out, w)
	}
	return append(out, maxDaySpan)
}
