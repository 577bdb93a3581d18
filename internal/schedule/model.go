// Package schedule holds the calendar data model shared by availability and bookings.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Window is one open stretch of a day, bounds in HH:MM:SS.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklyTemplate is the recurring open-hours definition for one weekday.
type WeeklyTemplate struct {
	Weekday         time.Weekday `json:"weekday"`
	Morning         *Window      `json:"morning,omitempty"`
	Afternoon       *Window      `json:"afternoon,omitempty"`
	IntervalMinutes int          `json:"interval_minutes"`
}

// Windows returns the configured windows in chronological order.
func (t WeeklyTemplate) Windows() []Window {
	var out []Window
	if t.Morning != nil {
		out = append(out, *t.Morning)
	}
	if t.Afternoon != nil {
		out = append(out, *t.Afternoon)
	}
	return out
}

// Validate enforces interval > 0 and start < end for every window.
func (t WeeklyTemplate) Validate() error {
	if t.IntervalMinutes <= 0 {
		return fmt.Errorf("schedule: %s template interval must be positive", t.Weekday)
	}
	for _, w := range t.Windows() {
		start, err := ParseClock(w.Start)
		if err != nil {
			return fmt.Errorf("schedule: %s window start: %w", t.Weekday, err)
		}
		end, err := ParseClock(w.End)
		if err != nil {
			return fmt.Errorf("schedule: %s window end: %w", t.Weekday, err)
		}
		if start >= end {
			return fmt.Errorf("schedule: %s window %s-%s must start before it ends", t.Weekday, w.Start, w.End)
		}
	}
	return nil
}

// ExceptionKind classifies a date-specific override.
type ExceptionKind string

const (
	ExceptionHoliday ExceptionKind = "holiday"
	ExceptionDayOff  ExceptionKind = "day_off"
	ExceptionClosed  ExceptionKind = "closed"
	ExceptionEvent   ExceptionKind = "event"
)

// Closes reports whether an active exception of this kind removes the day's slots.
func (k ExceptionKind) Closes() bool {
	switch k {
	case ExceptionHoliday, ExceptionDayOff, ExceptionClosed:
		return true
	default:
		return false
	}
}

// Exception overrides the weekly template on a single date.
type Exception struct {
	ID          string        `json:"id"`
	Date        string        `json:"date"`
	Kind        ExceptionKind `json:"kind"`
	Description string        `json:"description,omitempty"`
	Active      bool          `json:"active"`
}

// AppointmentStatus is confirmed or cancelled; cancelled is terminal.
type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked slot joined with its patient.
type Appointment struct {
	ID          string            `json:"id"`
	PatientID   string            `json:"patient_id"`
	PatientName string            `json:"patient_name"`
	Phone       string            `json:"phone"`
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	Procedure   string            `json:"procedure,omitempty"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
}

// Slot identifies a (date, time) pair.
type Slot struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Patient is identified durably by phone.
type Patient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrInvalidFormat is returned when a date or time cannot be canonicalized.
var ErrInvalidFormat = errors.New("schedule: invalid date or time format")
