package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-assistant/internal/schedule"
)

// Querier is satisfied by both the pool and a pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool the repository needs.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Repository on Postgres.
type PostgresRepository struct {
	pool PgxPool
}

// NewPostgresRepository wraps a pgx pool.
func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const appointmentColumns = `
	a.id::text, a.patient_id::text, p.name, p.phone,
	to_char(a.appt_date, 'YYYY-MM-DD'), to_char(a.appt_time, 'HH24:MI:SS'),
	COALESCE(a.procedure, ''), a.status, a.created_at, a.cancelled_at`

// WeeklyTemplates implements availability.Source.
func (r *PostgresRepository) WeeklyTemplates(ctx context.Context) ([]schedule.WeeklyTemplate, error) {
	query := `
		SELECT weekday,
			COALESCE(to_char(morning_start, 'HH24:MI:SS'), ''),
			COALESCE(to_char(morning_end, 'HH24:MI:SS'), ''),
			COALESCE(to_char(afternoon_start, 'HH24:MI:SS'), ''),
			COALESCE(to_char(afternoon_end, 'HH24:MI:SS'), ''),
			slot_interval_minutes
		FROM weekly_templates
		ORDER BY weekday
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("bookings: query templates: %w", err)
	}
	defer rows.Close()

	var out []schedule.WeeklyTemplate
	for rows.Next() {
		var (
			weekday, interval            int
			morningStart, morningEnd     string
			afternoonStart, afternoonEnd string
		)
		if err := rows.Scan(&weekday, &morningStart, &morningEnd, &afternoonStart, &afternoonEnd, &interval); err != nil {
			return nil, fmt.Errorf("bookings: scan template: %w", err)
		}
		out = append(out, schedule.WeeklyTemplate{
			Weekday:         time.Weekday(weekday),
			Morning:         window(morningStart, morningEnd),
			Afternoon:       window(afternoonStart, afternoonEnd),
			IntervalMinutes: interval,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate templates: %w", err)
	}
	return out, nil
}

// ActiveExceptions implements availability.Source.
func (r *PostgresRepository) ActiveExceptions(ctx context.Context, from, to string) ([]schedule.Exception, error) {
	query := `
		SELECT id::text, to_char(exception_date, 'YYYY-MM-DD'), kind, COALESCE(description, ''), active
		FROM schedule_exceptions
		WHERE active AND exception_date BETWEEN $1::date AND $2::date
		ORDER BY exception_date
	`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: query exceptions: %w", err)
	}
	defer rows.Close()

	var out []schedule.Exception
	for rows.Next() {
		var ex schedule.Exception
		var kind string
		if err := rows.Scan(&ex.ID, &ex.Date, &kind, &ex.Description, &ex.Active); err != nil {
			return nil, fmt.Errorf("bookings: scan exception: %w", err)
		}
		ex.Kind = schedule.ExceptionKind(kind)
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate exceptions: %w", err)
	}
	return out, nil
}

// ConfirmedSlots implements availability.Source.
func (r *PostgresRepository) ConfirmedSlots(ctx context.Context, from, to string) ([]schedule.Slot, error) {
	query := `
		SELECT to_char(appt_date, 'YYYY-MM-DD'), to_char(appt_time, 'HH24:MI:SS')
		FROM appointments
		WHERE status = 'confirmed' AND appt_date BETWEEN $1::date AND $2::date
	`
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: query confirmed slots: %w", err)
	}
	defer rows.Close()

	var out []schedule.Slot
	for rows.Next() {
		var s schedule.Slot
		if err := rows.Scan(&s.Date, &s.Time); err != nil {
			return nil, fmt.Errorf("bookings: scan slot: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate slots: %w", err)
	}
	return out, nil
}

// CreateAppointment upserts the patient by phone and inserts a confirmed appointment in
// one transaction.
func (r *PostgresRepository) CreateAppointment(ctx context.Context, in NewAppointment) (appt schedule.Appointment, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return appt, fmt.Errorf("bookings: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	patientID, err := upsertPatient(ctx, tx, in.Patient)
	if err != nil {
		return appt, err
	}
	appt, err = insertAppointment(ctx, tx, patientID, in.Slot, in.Procedure)
	if err != nil {
		return appt, err
	}
	appt.PatientName = in.Patient.Name
	appt.Phone = in.Patient.Phone

	if err = tx.Commit(ctx); err != nil {
		return schedule.Appointment{}, fmt.Errorf("bookings: commit create: %w", err)
	}
	return appt, nil
}

// CancelAppointment locks the appointment row, applies guard and cancels it.
func (r *PostgresRepository) CancelAppointment(ctx context.Context, key AppointmentKey, guard Guard) (appt schedule.Appointment, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return appt, fmt.Errorf("bookings: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	appt, err = lockAppointment(ctx, tx, key, guard)
	if err != nil {
		return schedule.Appointment{}, err
	}
	cancelledAt, err := cancelAppointment(ctx, tx, appt.ID)
	if err != nil {
		return schedule.Appointment{}, err
	}
	appt.Status = schedule.StatusCancelled
	appt.CancelledAt = &cancelledAt

	if err = tx.Commit(ctx); err != nil {
		return schedule.Appointment{}, fmt.Errorf("bookings: commit cancel: %w", err)
	}
	return appt, nil
}

// RescheduleAppointment cancels the old appointment and books the new slot in a single
// transaction; any failure leaves the old appointment confirmed.
func (r *PostgresRepository) RescheduleAppointment(ctx context.Context, key AppointmentKey, guard Guard, to schedule.Slot) (appt schedule.Appointment, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return appt, fmt.Errorf("bookings: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	old, err := lockAppointment(ctx, tx, key, guard)
	if err != nil {
		return schedule.Appointment{}, err
	}
	if _, err = cancelAppointment(ctx, tx, old.ID); err != nil {
		return schedule.Appointment{}, err
	}
	appt, err = insertAppointment(ctx, tx, old.PatientID, to, old.Procedure)
	if err != nil {
		return schedule.Appointment{}, err
	}
	appt.PatientName = old.PatientName
	appt.Phone = old.Phone

	if err = tx.Commit(ctx); err != nil {
		return schedule.Appointment{}, fmt.Errorf("bookings: commit reschedule: %w", err)
	}
	return appt, nil
}

// UpcomingAppointments lists confirmed appointments for phone from fromDate on.
func (r *PostgresRepository) UpcomingAppointments(ctx context.Context, phone, fromDate string) ([]schedule.Appointment, error) {
	query := `SELECT` + appointmentColumns + `
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE p.phone = $1 AND a.status = 'confirmed' AND a.appt_date >= $2::date
		ORDER BY a.appt_date, a.appt_time
	`
	rows, err := r.pool.Query(ctx, query, phone, fromDate)
	if err != nil {
		return nil, fmt.Errorf("bookings: query upcoming: %w", err)
	}
	defer rows.Close()

	var out []schedule.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate upcoming: %w", err)
	}
	return out, nil
}

func upsertPatient(ctx context.Context, q Querier, p schedule.Patient) (string, error) {
	query := `
		INSERT INTO patients (id, name, phone, session_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (phone) DO UPDATE
		SET name = EXCLUDED.name,
			session_id = COALESCE(EXCLUDED.session_id, patients.session_id),
			updated_at = now()
		RETURNING id::text
	`
	var id string
	if err := q.QueryRow(ctx, query, uuid.NewString(), p.Name, p.Phone, p.SessionID).Scan(&id); err != nil {
		return "", fmt.Errorf("bookings: upsert patient: %w", err)
	}
	return id, nil
}

func insertAppointment(ctx context.Context, q Querier, patientID string, slot schedule.Slot, procedure string) (schedule.Appointment, error) {
	query := `
		INSERT INTO appointments (id, patient_id, appt_date, appt_time, procedure, status)
		VALUES ($1, $2::uuid, $3::date, $4::time, NULLIF($5, ''), 'confirmed')
		RETURNING created_at
	`
	appt := schedule.Appointment{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Date:      slot.Date,
		Time:      slot.Time,
		Procedure: procedure,
		Status:    schedule.StatusConfirmed,
	}
	if err := q.QueryRow(ctx, query, appt.ID, patientID, slot.Date, slot.Time, procedure).Scan(&appt.CreatedAt); err != nil {
		if isSlotConflict(err) {
			return schedule.Appointment{}, ErrSlotTaken
		}
		return schedule.Appointment{}, fmt.Errorf("bookings: insert appointment: %w", err)
	}
	return appt, nil
}

func lockAppointment(ctx context.Context, q Querier, key AppointmentKey, guard Guard) (schedule.Appointment, error) {
	query := `SELECT` + appointmentColumns + `
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE p.phone = $1 AND a.appt_date = $2::date AND a.appt_time = $3::time
		ORDER BY (a.status = 'confirmed') DESC, a.created_at DESC
		LIMIT 1
		FOR UPDATE OF a
	`
	appt, err := scanAppointment(q.QueryRow(ctx, query, key.Phone, key.Date, key.Time))
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Appointment{}, ErrAppointmentNotFound
	}
	if err != nil {
		return schedule.Appointment{}, err
	}
	if guard != nil {
		if err := guard(appt); err != nil {
			return schedule.Appointment{}, err
		}
	}
	return appt, nil
}

func cancelAppointment(ctx context.Context, q Querier, id string) (time.Time, error) {
	query := `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = now()
		WHERE id = $1::uuid AND status = 'confirmed'
		RETURNING cancelled_at
	`
	var cancelledAt time.Time
	if err := q.QueryRow(ctx, query, id).Scan(&cancelledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrAppointmentNotFound
		}
		return time.Time{}, fmt.Errorf("bookings: cancel appointment: %w", err)
	}
	return cancelledAt, nil
}

func scanAppointment(row pgx.Row) (schedule.Appointment, error) {
	var (
		appt        schedule.Appointment
		status      string
		cancelledAt *time.Time
	)
	err := row.Scan(&appt.ID, &appt.PatientID, &appt.PatientName, &appt.Phone,
		&appt.Date, &appt.Time, &appt.Procedure, &status, &appt.CreatedAt, &cancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.Appointment{}, err
	}
	if err != nil {
		return schedule.Appointment{}, fmt.Errorf("bookings: scan appointment: %w", err)
	}
	appt.Status = schedule.AppointmentStatus(status)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func window(start, end string) *schedule.Window {
	if start == "" || end == "" {
		return nil
	}
	return &schedule.Window{Start: start, End: end}
}

// confirmedSlotIndex is the partial unique index over confirmed (date, time) pairs.
const confirmedSlotIndex = "appointments_confirmed_slot_key"

// isSlotConflict reports a unique violation on the confirmed-slot index. Other unique
// violations are storage faults, not double bookings.
func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == confirmedSlotIndex
}
