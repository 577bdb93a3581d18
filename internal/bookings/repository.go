package bookings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/schedule"
)

var (
	// ErrSlotTaken is returned when storage already holds a confirmed appointment at the slot.
	ErrSlotTaken = errors.New("bookings: slot already occupied")
	// ErrAppointmentNotFound is returned when no appointment matches phone, date and time.
	ErrAppointmentNotFound = errors.New("bookings: appointment not found")
)

// NewAppointment is the input of a create.
type NewAppointment struct {
	Patient   schedule.Patient
	Slot      schedule.Slot
	Procedure string
}

// AppointmentKey locates an appointment by patient phone and slot.
type AppointmentKey struct {
	Phone string
	Date  string
	Time  string
}

// Guard inspects a locked appointment and vetoes the change by returning an error.
type Guard func(schedule.Appointment) error

// Repository is the schedule store. Cancel and reschedule run the guard and the writes in
// one transaction so a veto or failure leaves storage untouched.
type Repository interface {
	availability.Source
	CreateAppointment(ctx context.Context, in NewAppointment) (schedule.Appointment, error)
	CancelAppointment(ctx context.Context, key AppointmentKey, guard Guard) (schedule.Appointment, error)
	RescheduleAppointment(ctx context.Context, key AppointmentKey, guard Guard, to schedule.Slot) (schedule.Appointment, error)
	UpcomingAppointments(ctx context.Context, phone, fromDate string) ([]schedule.Appointment, error)
}

// DefaultWeeklyTemplates is the schedule used when nothing is configured: weekdays
// 08:00-12:00 and 14:00-18:00, Saturdays 08:00-12:00, 30 minute slots.
func DefaultWeeklyTemplates() []schedule.WeeklyTemplate {
	out := make([]schedule.WeeklyTemplate, 0, 6)
	for d := time.Monday; d <= time.Friday; d++ {
		out = append(out, schedule.WeeklyTemplate{
			Weekday:         d,
			Morning:         &schedule.Window{Start: "08:00:00", End: "12:00:00"},
			Afternoon:       &schedule.Window{Start: "14:00:00", End: "18:00:00"},
			IntervalMinutes: 30,
		})
	}
	out = append(out, schedule.WeeklyTemplate{
		Weekday:         time.Saturday,
		Morning:         &schedule.Window{Start: "08:00:00", End: "12:00:00"},
		IntervalMinutes: 30,
	})
	return out
}

// MemoryRepository is a mutex-guarded Repository for tests and local runs. It enforces the
// same confirmed-slot uniqueness as the database index.
type MemoryRepository struct {
	mu           sync.Mutex
	templates    map[time.Weekday]schedule.WeeklyTemplate
	exceptions   map[string]schedule.Exception
	patients     map[string]schedule.Patient
	appointments []schedule.Appointment
	now          func() time.Time
	// failNextInsert makes the next appointment insert fail, for rollback tests.
	failNextInsert error
}

// NewMemoryRepository seeds the given templates.
func NewMemoryRepository(templates []schedule.WeeklyTemplate) *MemoryRepository {
	r := &MemoryRepository{
		templates:  make(map[time.Weekday]schedule.WeeklyTemplate),
		exceptions: make(map[string]schedule.Exception),
		patients:   make(map[string]schedule.Patient),
		now:        time.Now,
	}
	for _, t := range templates {
		r.templates[t.Weekday] = t
	}
	return r
}

// AddException stores an exception; an active one replaces any other on the same date.
func (r *MemoryRepository) AddException(ex schedule.Exception) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	r.exceptions[ex.Date] = ex
}

// WeeklyTemplates implements availability.Source.
func (r *MemoryRepository) WeeklyTemplates(context.Context) ([]schedule.WeeklyTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schedule.WeeklyTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

// ActiveExceptions implements availability.Source.
func (r *MemoryRepository) ActiveExceptions(_ context.Context, from, to string) ([]schedule.Exception, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.Exception
	for date, ex := range r.exceptions {
		if ex.Active && date >= from && date <= to {
			out = append(out, ex)
		}
	}
	return out, nil
}

// ConfirmedSlots implements availability.Source.
func (r *MemoryRepository) ConfirmedSlots(_ context.Context, from, to string) ([]schedule.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.Slot
	for _, a := range r.appointments {
		if a.Status == schedule.StatusConfirmed && a.Date >= from && a.Date <= to {
			out = append(out, schedule.Slot{Date: a.Date, Time: a.Time})
		}
	}
	return out, nil
}

// CreateAppointment implements Repository.
func (r *MemoryRepository) CreateAppointment(_ context.Context, in NewAppointment) (schedule.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slotTakenLocked(in.Slot) {
		return schedule.Appointment{}, ErrSlotTaken
	}
	patient := r.upsertPatientLocked(in.Patient)
	return r.insertLocked(patient, in.Slot, in.Procedure)
}

// CancelAppointment implements Repository.
func (r *MemoryRepository) CancelAppointment(_ context.Context, key AppointmentKey, guard Guard) (schedule.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, err := r.lockLocked(key, guard)
	if err != nil {
		return schedule.Appointment{}, err
	}
	r.cancelLocked(idx)
	return r.appointments[idx], nil
}

// RescheduleAppointment implements Repository.
func (r *MemoryRepository) RescheduleAppointment(_ context.Context, key AppointmentKey, guard Guard, to schedule.Slot) (schedule.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, err := r.lockLocked(key, guard)
	if err != nil {
		return schedule.Appointment{}, err
	}
	if r.slotTakenLocked(to) {
		return schedule.Appointment{}, ErrSlotTaken
	}
	old := r.appointments[idx]
	created, err := r.insertLocked(r.patients[old.Phone], to, old.Procedure)
	if err != nil {
		return schedule.Appointment{}, err
	}
	r.cancelLocked(idx)
	return created, nil
}

// UpcomingAppointments implements Repository.
func (r *MemoryRepository) UpcomingAppointments(_ context.Context, phone, fromDate string) ([]schedule.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schedule.Appointment
	for _, a := range r.appointments {
		if a.Phone == phone && a.Status == schedule.StatusConfirmed && a.Date >= fromDate {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

// Appointments returns a copy of every stored appointment.
func (r *MemoryRepository) Appointments() []schedule.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schedule.Appointment(nil), r.appointments...)
}

func (r *MemoryRepository) slotTakenLocked(slot schedule.Slot) bool {
	for _, a := range r.appointments {
		if a.Status == schedule.StatusConfirmed && a.Date == slot.Date && a.Time == slot.Time {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) upsertPatientLocked(p schedule.Patient) schedule.Patient {
	existing, ok := r.patients[p.Phone]
	if !ok {
		p.ID = uuid.NewString()
		r.patients[p.Phone] = p
		return p
	}
	existing.Name = p.Name
	if p.SessionID != "" {
		existing.SessionID = p.SessionID
	}
	r.patients[p.Phone] = existing
	return existing
}

func (r *MemoryRepository) insertLocked(patient schedule.Patient, slot schedule.Slot, procedure string) (schedule.Appointment, error) {
	if r.failNextInsert != nil {
		err := r.failNextInsert
		r.failNextInsert = nil
		return schedule.Appointment{}, err
	}
	appt := schedule.Appointment{
		ID:          uuid.NewString(),
		PatientID:   patient.ID,
		PatientName: patient.Name,
		Phone:       patient.Phone,
		Date:        slot.Date,
		Time:        slot.Time,
		Procedure:   procedure,
		Status:      schedule.StatusConfirmed,
		CreatedAt:   r.now().UTC(),
	}
	r.appointments = append(r.appointments, appt)
	return appt, nil
}

// lockLocked finds the appointment for key, preferring a confirmed row, and applies guard.
func (r *MemoryRepository) lockLocked(key AppointmentKey, guard Guard) (int, error) {
	idx := -1
	for i, a := range r.appointments {
		if a.Phone != key.Phone || a.Date != key.Date || a.Time != key.Time {
			continue
		}
		if idx == -1 || a.Status == schedule.StatusConfirmed {
			idx = i
		}
	}
	if idx == -1 {
		return -1, ErrAppointmentNotFound
	}
	appt := r.appointments[idx]
	appt.PatientName = r.patients[appt.Phone].Name
	if guard != nil {
		if err := guard(appt); err != nil {
			return -1, err
		}
	}
	return idx, nil
}

func (r *MemoryRepository) cancelLocked(idx int) {
	now := r.now().UTC()
	r.appointments[idx].Status = schedule.StatusCancelled
	r.appointments[idx].CancelledAt = &now
}
