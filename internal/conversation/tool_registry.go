package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/bookings"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/schedule"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
	"github.com/wolfman30/clinic-booking-assistant/pkg/apperr"
)

const (
	defaultSlotDays = 3
	maxSlotDays     = 5
)

// BookingService is the calendar surface the tools drive.
type BookingService interface {
	ListAvailableDays(ctx context.Context, from string, needed int) ([]availability.Day, error)
	ValidateSlot(ctx context.Context, date, clock string) (bookings.SlotValidation, error)
	CreateAppointment(ctx context.Context, req bookings.CreateRequest) (bookings.Confirmation, error)
	CancelAppointment(ctx context.Context, req bookings.CancelRequest) (schedule.Appointment, error)
	RescheduleAppointment(ctx context.Context, req bookings.RescheduleRequest) (bookings.Confirmation, error)
	FindAppointments(ctx context.Context, phone string) ([]schedule.Appointment, error)
}

// ToolEnv is the per-turn state handlers may read.
type ToolEnv struct {
	SessionID string
	Session   session.Record
	Clinic    *clinic.Config
}

// ToolHandler executes one tool call whose required arguments are present.
type ToolHandler func(ctx context.Context, call tools.Call, env ToolEnv) tools.Result

// ToolRegistry maps every catalog kind to its handler.
type ToolRegistry struct {
	catalog  map[tools.Kind]tools.Declaration
	order    []tools.Declaration
	handlers map[tools.Kind]ToolHandler
}

// NewToolRegistry registers the booking and clinic handlers.
func NewToolRegistry(svc BookingService) *ToolRegistry {
	if svc == nil {
		panic("conversation: booking service required")
	}
	r := newEmptyRegistry()
	b := bookingTools{svc: svc}
	r.Register(tools.KindListAvailableSlots, b.listAvailableSlots)
	r.Register(tools.KindValidateSlot, b.validateSlot)
	r.Register(tools.KindCreateAppointment, b.createAppointment)
	r.Register(tools.KindCancelAppointment, b.cancelAppointment)
	r.Register(tools.KindRescheduleAppointment, b.rescheduleAppointment)
	r.Register(tools.KindFindAppointments, b.findAppointments)
	r.Register(tools.KindListServices, listServices)
	r.Register(tools.KindListProfessionals, listProfessionals)
	r.Register(tools.KindListInsurancePlans, listInsurancePlans)
	r.Register(tools.KindClinicInfo, clinicInfo)
	return r
}

func newEmptyRegistry() *ToolRegistry {
	r := &ToolRegistry{
		catalog:  make(map[tools.Kind]tools.Declaration),
		handlers: make(map[tools.Kind]ToolHandler),
	}
	for _, decl := range tools.Catalog() {
		r.catalog[decl.Kind] = decl
		r.order = append(r.order, decl)
	}
	return r
}

// Register sets or replaces the handler for kind.
func (r *ToolRegistry) Register(kind tools.Kind, h ToolHandler) {
	r.handlers[kind] = h
}

// Validate checks that every declared tool has a handler and every handler is declared.
func (r *ToolRegistry) Validate() error {
	var missing []string
	for _, decl := range r.order {
		if r.handlers[decl.Kind] == nil {
			missing = append(missing, decl.Name())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("conversation: no handler for tools %v", missing)
	}
	for kind := range r.handlers {
		if _, ok := r.catalog[kind]; !ok {
			return fmt.Errorf("conversation: handler registered for undeclared tool %s", kind)
		}
	}
	return nil
}

// Declarations returns the catalog in declaration order.
func (r *ToolRegistry) Declarations() []tools.Declaration {
	return append([]tools.Declaration(nil), r.order...)
}

// Execute fills identity arguments from the session, checks required arguments and runs
// the handler. It never returns an error: failures become structured results.
func (r *ToolRegistry) Execute(ctx context.Context, call tools.Call, env ToolEnv) toolOutcome {
	kind, ok := call.Kind()
	out := toolOutcome{Kind: kind, Call: call}
	if !ok {
		out.Result = tools.Failure(apperr.Validation("unknown tool "+call.Name), nil)
		return out
	}
	handler := r.handlers[kind]
	if handler == nil {
		out.Result = tools.Failure(apperr.Internal("tool not registered", nil), nil)
		return out
	}

	call = fillIdentity(call, kind, env.Session)
	out.Call = call

	// Identity fields stay optional in the schema because the session may hold them.
	var missing []string
	seen := make(map[string]bool)
	for _, field := range append(kind.IdentityFields(), r.catalog[kind].Required()...) {
		if seen[field] {
			continue
		}
		seen[field] = true
		if call.String(field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		out.Result = tools.Missing(missing)
		return out
	}

	out.Result = handler(ctx, call, env)
	return out
}

// fillIdentity copies captured name and phone into empty identity arguments.
func fillIdentity(call tools.Call, kind tools.Kind, rec session.Record) tools.Call {
	fields := kind.IdentityFields()
	if len(fields) == 0 {
		return call
	}
	args := make(map[string]any, len(call.Arguments)+len(fields))
	for k, v := range call.Arguments {
		args[k] = v
	}
	for _, field := range fields {
		if call.String(field) != "" {
			continue
		}
		switch field {
		case tools.ArgName:
			if rec.Name != "" {
				args[field] = rec.Name
			}
		case tools.ArgPhone:
			if rec.Phone != "" {
				args[field] = rec.Phone
			}
		}
	}
	call.Arguments = args
	return call
}

type bookingTools struct {
	svc BookingService
}

func (b bookingTools) listAvailableSlots(ctx context.Context, call tools.Call, _ ToolEnv) tools.Result {
	days := call.Int(tools.ArgDays, defaultSlotDays)
	if days < 1 {
		days = 1
	}
	if days > maxSlotDays {
		days = maxSlotDays
	}
	found, err := b.svc.ListAvailableDays(ctx, call.String(tools.ArgFromDate), days)
	if err != nil {
		return tools.Failure(err, nil)
	}
	if found == nil {
		found = []availability.Day{}
	}
	return tools.OK(SlotsPayload{Days: found})
}

func (b bookingTools) validateSlot(ctx context.Context, call tools.Call, _ ToolEnv) tools.Result {
	v, err := b.svc.ValidateSlot(ctx, call.String(tools.ArgDate), call.String(tools.ArgTime))
	if err != nil {
		return tools.Failure(apperr.Internal("slot validation failed", err), nil)
	}
	if v.Valid {
		return tools.OK(v)
	}
	if v.Reason == bookings.ReasonOccupied {
		return tools.Failure(apperr.Conflict(v.Reason), v)
	}
	return tools.Failure(apperr.Validation(v.Reason), v)
}

func (b bookingTools) createAppointment(ctx context.Context, call tools.Call, env ToolEnv) tools.Result {
	conf, err := b.svc.CreateAppointment(ctx, bookings.CreateRequest{
		Name:      call.String(tools.ArgName),
		Phone:     call.String(tools.ArgPhone),
		Date:      call.String(tools.ArgDate),
		Time:      call.String(tools.ArgTime),
		Procedure: call.String(tools.ArgProcedure),
		SessionID: env.SessionID,
	})
	if err != nil {
		return slotFailure(err)
	}
	return tools.OK(conf)
}

func (b bookingTools) cancelAppointment(ctx context.Context, call tools.Call, _ ToolEnv) tools.Result {
	appt, err := b.svc.CancelAppointment(ctx, bookings.CancelRequest{
		Name:  call.String(tools.ArgName),
		Phone: call.String(tools.ArgPhone),
		Date:  call.String(tools.ArgDate),
		Time:  call.String(tools.ArgTime),
	})
	if err != nil {
		return tools.Failure(err, nil)
	}
	return tools.OK(appt)
}

func (b bookingTools) rescheduleAppointment(ctx context.Context, call tools.Call, _ ToolEnv) tools.Result {
	conf, err := b.svc.RescheduleAppointment(ctx, bookings.RescheduleRequest{
		Name:    call.String(tools.ArgName),
		Phone:   call.String(tools.ArgPhone),
		OldDate: call.String(tools.ArgOldDate),
		OldTime: call.String(tools.ArgOldTime),
		NewDate: call.String(tools.ArgNewDate),
		NewTime: call.String(tools.ArgNewTime),
	})
	if err != nil {
		return slotFailure(err)
	}
	return tools.OK(conf)
}

func (b bookingTools) findAppointments(ctx context.Context, call tools.Call, _ ToolEnv) tools.Result {
	appts, err := b.svc.FindAppointments(ctx, call.String(tools.ArgPhone))
	if err != nil {
		return tools.Failure(err, nil)
	}
	if appts == nil {
		appts = []schedule.Appointment{}
	}
	return tools.OK(appts)
}

// slotFailure attaches the failed validation, with its alternatives, to the result.
func slotFailure(err error) tools.Result {
	var unavailable *bookings.SlotUnavailableError
	if errors.As(err, &unavailable) {
		return tools.Failure(err, unavailable.Validation)
	}
	return tools.Failure(err, nil)
}

func listServices(_ context.Context, _ tools.Call, env ToolEnv) tools.Result {
	if env.Clinic == nil {
		return tools.OK([]clinic.Service{})
	}
	return tools.OK(env.Clinic.Services)
}

func listProfessionals(_ context.Context, _ tools.Call, env ToolEnv) tools.Result {
	if env.Clinic == nil {
		return tools.OK([]clinic.Professional{})
	}
	return tools.OK(env.Clinic.Professionals)
}

func listInsurancePlans(_ context.Context, _ tools.Call, env ToolEnv) tools.Result {
	data := map[string]any{"insurance_plans": []string{}, "payment_methods": []string{}, "private_only": true}
	if env.Clinic != nil {
		plans := append([]string(nil), env.Clinic.InsurancePlans...)
		sort.Strings(plans)
		data["insurance_plans"] = plans
		data["payment_methods"] = env.Clinic.PaymentMethods
		data["private_only"] = len(plans) == 0
	}
	return tools.OK(data)
}

func clinicInfo(_ context.Context, _ tools.Call, env ToolEnv) tools.Result {
	cfg := env.Clinic
	if cfg == nil {
		return tools.Failure(apperr.NotFound("clinic information unavailable"), nil)
	}
	return tools.OK(map[string]any{
		"name":          cfg.Name,
		"address":       cfg.Address,
		"phone":         cfg.Phone,
		"opening_hours": cfg.OpeningHours,
		"faq":           cfg.FAQ,
	})
}
