// Package bookings validates and commits appointment creates, cancels and reschedules.
package bookings

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/identity"
	"github.com/wolfman30/clinic-booking-assistant/internal/schedule"
	"github.com/wolfman30/clinic-booking-assistant/pkg/apperr"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

var bookingsTracer = otel.Tracer("clinic.internal.bookings")

// Slot rejection reasons, surfaced to the model as-is.
const (
	ReasonInvalidFormat   = "invalid date or time format"
	ReasonPastDate        = "date is in the past"
	ReasonTooSoon         = "time already passed or too close to now"
	ReasonClosed          = "clinic closed on this date"
	ReasonOccupied        = "slot already occupied"
	ReasonOutsideSchedule = "time outside clinic schedule"
)

const maxAlternatives = 3

// Operation labels used for metrics.
const (
	OpCreate     = "create"
	OpCancel     = "cancel"
	OpReschedule = "reschedule"
)

// Recorder receives one observation per booking operation.
type Recorder interface {
	ObserveBooking(operation, outcome string)
}

// SlotValidation is the result of ValidateSlot.
type SlotValidation struct {
	Valid        bool            `json:"valid"`
	Date         string          `json:"date,omitempty"`
	Time         string          `json:"time,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Alternatives []schedule.Slot `json:"alternatives,omitempty"`
}

// SlotUnavailableError carries the failed validation behind a Conflict or Validation error.
type SlotUnavailableError struct {
	Validation SlotValidation
}

func (e *SlotUnavailableError) Error() string {
	return "bookings: " + e.Validation.Reason
}

// CreateRequest is the input of CreateAppointment.
type CreateRequest struct {
	Name      string
	Phone     string
	Date      string
	Time      string
	Procedure string
	SessionID string
}

// CancelRequest identifies the appointment to cancel.
type CancelRequest struct {
	Name  string
	Phone string
	Date  string
	Time  string
}

// RescheduleRequest moves an appointment from the old slot to the new one.
type RescheduleRequest struct {
	Name    string
	Phone   string
	OldDate string
	OldTime string
	NewDate string
	NewTime string
}

// Confirmation is the normalized payload returned after a create or reschedule.
type Confirmation struct {
	AppointmentID string         `json:"appointment_id"`
	Patient       string         `json:"patient"`
	Phone         string         `json:"phone"`
	Date          string         `json:"date"`
	DateFormatted string         `json:"date_formatted"`
	Weekday       string         `json:"weekday"`
	Time          string         `json:"time"`
	TimeFormatted string         `json:"time_formatted"`
	Procedure     string         `json:"procedure,omitempty"`
	Previous      *schedule.Slot `json:"previous,omitempty"`
}

// Service is the booking engine.
type Service struct {
	repo     Repository
	calc     *availability.Calculator
	logger   *logging.Logger
	recorder Recorder
}

// NewService constructs a bookings service.
func NewService(repo Repository, calc *availability.Calculator, logger *logging.Logger, recorder Recorder) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if calc == nil {
		panic("bookings: availability calculator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, calc: calc, logger: logger, recorder: recorder}
}

// Today returns the current clinic date as YYYY-MM-DD.
func (s *Service) Today() string {
	return s.calc.Now().Format(schedule.DateLayout)
}

// ListAvailableDays returns up to needed open days starting at from ("" means today).
func (s *Service) ListAvailableDays(ctx context.Context, from string, needed int) ([]availability.Day, error) {
	start := s.calc.Now()
	if strings.TrimSpace(from) != "" {
		parsed, err := schedule.ParseDate(from, s.calc.Location())
		if err != nil {
			return nil, apperr.Validation(ReasonInvalidFormat)
		}
		start = parsed
	}
	if needed <= 0 {
		needed = 3
	}
	days, err := s.calc.ComputeAvailableDays(ctx, start, needed, availability.DefaultMaxDaySpan)
	if err != nil {
		return nil, apperr.Internal("availability lookup failed", err)
	}
	return days, nil
}

// ValidateSlot re-derives the free slots for date and checks literal membership of the
// canonical time. Only storage failures return an error.
func (s *Service) ValidateSlot(ctx context.Context, date, clock string) (SlotValidation, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.validate_slot")
	defer span.End()

	canonDate, dateErr := schedule.CanonicalDate(date)
	canonTime, timeErr := schedule.CanonicalTime(clock)
	if dateErr != nil || timeErr != nil {
		return SlotValidation{Reason: ReasonInvalidFormat}, nil
	}
	span.SetAttributes(
		attribute.String("clinic.slot.date", canonDate),
		attribute.String("clinic.slot.time", canonTime),
	)

	day, err := schedule.ParseDate(canonDate, s.calc.Location())
	if err != nil {
		return SlotValidation{Reason: ReasonInvalidFormat}, nil
	}
	derived, err := s.calc.SlotsForDate(ctx, day)
	if err != nil {
		span.RecordError(err)
		return SlotValidation{}, err
	}

	v := SlotValidation{Date: canonDate, Time: canonTime}
	switch derived.Status {
	case availability.DayPast:
		v.Reason = ReasonPastDate
	case availability.DayException, availability.DayNoTemplate:
		v.Reason = ReasonClosed
	default:
		switch {
		case contains(derived.Free, canonTime):
			v.Valid = true
			return v, nil
		case contains(derived.Grid, canonTime):
			v.Reason = ReasonOccupied
		case s.tooSoon(canonDate, canonTime):
			v.Reason = ReasonTooSoon
		default:
			v.Reason = ReasonOutsideSchedule
		}
	}

	alternatives, err := s.alternatives(ctx, day, derived, canonTime)
	if err != nil {
		return SlotValidation{}, err
	}
	v.Alternatives = alternatives
	return v, nil
}

// CreateAppointment validates identity and slot, then books it.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (conf Confirmation, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()
	defer func() { s.observe(OpCreate, err) }()

	name, phone, err := validateIdentity(req.Name, req.Phone)
	if err != nil {
		return Confirmation{}, err
	}

	validation, err := s.ValidateSlot(ctx, req.Date, req.Time)
	if err != nil {
		span.RecordError(err)
		return Confirmation{}, apperr.Internal("slot validation failed", err)
	}
	if !validation.Valid {
		return Confirmation{}, slotError(validation)
	}

	appt, err := s.repo.CreateAppointment(ctx, NewAppointment{
		Patient:   schedule.Patient{Name: name, Phone: phone, SessionID: req.SessionID},
		Slot:      schedule.Slot{Date: validation.Date, Time: validation.Time},
		Procedure: strings.TrimSpace(req.Procedure),
	})
	if errors.Is(err, ErrSlotTaken) {
		return Confirmation{}, slotError(SlotValidation{Date: validation.Date, Time: validation.Time, Reason: ReasonOccupied})
	}
	if err != nil {
		span.RecordError(err)
		return Confirmation{}, apperr.Internal("could not save appointment", err)
	}

	s.logger.Info("appointment created", "appointment_id", appt.ID, "date", appt.Date, "time", appt.Time)
	return confirmationFrom(appt), nil
}

// CancelAppointment cancels the confirmed appointment at phone, date and time when the
// given name shares at least one token with the patient's.
func (s *Service) CancelAppointment(ctx context.Context, req CancelRequest) (appt schedule.Appointment, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	defer func() { s.observe(OpCancel, err) }()

	key, err := s.appointmentKey(req.Name, req.Phone, req.Date, req.Time)
	if err != nil {
		return schedule.Appointment{}, err
	}

	appt, err = s.repo.CancelAppointment(ctx, key, ownershipGuard(req.Name))
	if err != nil {
		return schedule.Appointment{}, mapRepoError(err, "could not cancel appointment")
	}

	s.logger.Info("appointment cancelled", "appointment_id", appt.ID, "date", appt.Date, "time", appt.Time)
	return appt, nil
}

// RescheduleAppointment validates the new slot, then cancels the old appointment and books
// the new one atomically.
func (s *Service) RescheduleAppointment(ctx context.Context, req RescheduleRequest) (conf Confirmation, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.reschedule")
	defer span.End()
	defer func() { s.observe(OpReschedule, err) }()

	key, err := s.appointmentKey(req.Name, req.Phone, req.OldDate, req.OldTime)
	if err != nil {
		return Confirmation{}, err
	}

	validation, err := s.ValidateSlot(ctx, req.NewDate, req.NewTime)
	if err != nil {
		span.RecordError(err)
		return Confirmation{}, apperr.Internal("slot validation failed", err)
	}
	if validation.Date == key.Date && validation.Time == key.Time {
		return Confirmation{}, apperr.Validation("new slot must differ from the current appointment")
	}
	if !validation.Valid {
		return Confirmation{}, slotError(validation)
	}

	to := schedule.Slot{Date: validation.Date, Time: validation.Time}
	appt, err := s.repo.RescheduleAppointment(ctx, key, ownershipGuard(req.Name), to)
	if errors.Is(err, ErrSlotTaken) {
		return Confirmation{}, slotError(SlotValidation{Date: to.Date, Time: to.Time, Reason: ReasonOccupied})
	}
	if err != nil {
		return Confirmation{}, mapRepoError(err, "could not reschedule appointment")
	}

	s.logger.Info("appointment rescheduled", "appointment_id", appt.ID,
		"from_date", key.Date, "from_time", key.Time, "date", appt.Date, "time", appt.Time)
	conf = confirmationFrom(appt)
	conf.Previous = &schedule.Slot{Date: key.Date, Time: key.Time}
	return conf, nil
}

// FindAppointments lists the patient's upcoming confirmed appointments.
func (s *Service) FindAppointments(ctx context.Context, phone string) ([]schedule.Appointment, error) {
	normalized, err := identity.NormalizePhone(phone)
	if err != nil {
		return nil, apperr.Validation("invalid phone number")
	}
	appts, err := s.repo.UpcomingAppointments(ctx, normalized, s.Today())
	if err != nil {
		return nil, apperr.Internal("could not load appointments", err)
	}
	return appts, nil
}

func (s *Service) appointmentKey(name, phone, date, clock string) (AppointmentKey, error) {
	if strings.TrimSpace(name) == "" {
		return AppointmentKey{}, apperr.Validation("patient name required")
	}
	normalized, err := identity.NormalizePhone(phone)
	if err != nil {
		return AppointmentKey{}, apperr.Validation("invalid phone number")
	}
	canonDate, err := schedule.CanonicalDate(date)
	if err != nil {
		return AppointmentKey{}, apperr.Validation(ReasonInvalidFormat)
	}
	canonTime, err := schedule.CanonicalTime(clock)
	if err != nil {
		return AppointmentKey{}, apperr.Validation(ReasonInvalidFormat)
	}
	return AppointmentKey{Phone: normalized, Date: canonDate, Time: canonTime}, nil
}

func (s *Service) tooSoon(date, clock string) bool {
	now := s.calc.Now()
	if date != now.Format(schedule.DateLayout) {
		return false
	}
	secs, err := schedule.ParseClock(clock)
	if err != nil {
		return false
	}
	midnight := schedule.Midnight(now, s.calc.Location())
	return time.Duration(secs)*time.Second < now.Sub(midnight)+s.calc.Margin()
}

// alternatives picks the free slots nearest to the requested time, or the first slot of
// each of the next open days when the date has none.
func (s *Service) alternatives(ctx context.Context, day time.Time, derived availability.DaySlots, clock string) ([]schedule.Slot, error) {
	if len(derived.Free) > 0 {
		target, _ := schedule.ParseClock(clock)
		free := append([]string(nil), derived.Free...)
		sort.SliceStable(free, func(i, j int) bool {
			return distance(free[i], target) < distance(free[j], target)
		})
		if len(free) > maxAlternatives {
			free = free[:maxAlternatives]
		}
		sort.Strings(free)
		out := make([]schedule.Slot, 0, len(free))
		for _, t := range free {
			out = append(out, schedule.Slot{Date: derived.Date, Time: t})
		}
		return out, nil
	}

	days, err := s.calc.ComputeAvailableDays(ctx, day.AddDate(0, 0, 1), maxAlternatives, availability.DefaultMaxDaySpan)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Slot, 0, len(days))
	for _, d := range days {
		out = append(out, schedule.Slot{Date: d.Date, Time: d.Slots[0]})
	}
	return out, nil
}

func (s *Service) observe(operation string, err error) {
	if s.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	s.recorder.ObserveBooking(operation, outcome)
}

func validateIdentity(rawName, rawPhone string) (string, string, error) {
	name := strings.Join(strings.Fields(rawName), " ")
	if err := identity.ValidateName(name); err != nil {
		return "", "", apperr.Validation("invalid patient name: first and last name required")
	}
	phone, err := identity.NormalizePhone(rawPhone)
	if err != nil {
		return "", "", apperr.Validation("invalid phone number")
	}
	return name, phone, nil
}

func ownershipGuard(name string) Guard {
	return func(appt schedule.Appointment) error {
		if !identity.NamesMatch(name, appt.PatientName) {
			return apperr.NotFound("appointment not found")
		}
		if appt.Status == schedule.StatusCancelled {
			return apperr.Validation("appointment already cancelled")
		}
		return nil
	}
}

func slotError(v SlotValidation) error {
	kind := apperr.KindValidation
	if v.Reason == ReasonOccupied {
		kind = apperr.KindConflict
	}
	return &apperr.Error{Kind: kind, Message: v.Reason, Err: &SlotUnavailableError{Validation: v}}
}

func mapRepoError(err error, fallback string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ErrAppointmentNotFound):
		return apperr.NotFound("appointment not found")
	default:
		return apperr.Internal(fallback, err)
	}
}

func confirmationFrom(appt schedule.Appointment) Confirmation {
	weekday := ""
	if d, err := time.Parse(schedule.DateLayout, appt.Date); err == nil {
		weekday = schedule.WeekdayLabel(d.Weekday())
	}
	return Confirmation{
		AppointmentID: appt.ID,
		Patient:       appt.PatientName,
		Phone:         appt.Phone,
		Date:          appt.Date,
		DateFormatted: schedule.DisplayDate(appt.Date),
		Weekday:       weekday,
		Time:          appt.Time,
		TimeFormatted: schedule.DisplayTime(appt.Time),
		Procedure:     appt.Procedure,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func distance(clock string, target int) int {
	secs, err := schedule.ParseClock(clock)
	if err != nil {
		return 1 << 30
	}
	if secs > target {
		return secs - target
	}
	return target - secs
}
