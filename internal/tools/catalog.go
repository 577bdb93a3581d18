// Package tools declares the capabilities the model may invoke and the result envelope
// returned to it.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/pkg/apperr"
)

// Kind identifies one tool. The zero value is invalid.
type Kind int

const (
	KindListAvailableSlots Kind = iota + 1
	KindValidateSlot
	KindCreateAppointment
	KindCancelAppointment
	KindRescheduleAppointment
	KindFindAppointments
	KindListServices
	KindListProfessionals
	KindListInsurancePlans
	KindClinicInfo
)

var kindNames = map[Kind]string{
	KindListAvailableSlots:    "list_available_slots",
	KindValidateSlot:          "validate_slot",
	KindCreateAppointment:     "create_appointment",
	KindCancelAppointment:     "cancel_appointment",
	KindRescheduleAppointment: "reschedule_appointment",
	KindFindAppointments:      "find_appointments",
	KindListServices:          "list_services",
	KindListProfessionals:     "list_professionals",
	KindListInsurancePlans:    "list_insurance_plans",
	KindClinicInfo:            "clinic_info",
}

// Name returns the wire name of the tool.
func (k Kind) Name() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown_tool_%d", int(k))
}

func (k Kind) String() string { return k.Name() }

// ParseKind maps a wire name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	name = strings.TrimSpace(name)
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// All lists every kind in declaration order.
func All() []Kind {
	return []Kind{
		KindListAvailableSlots, KindValidateSlot, KindCreateAppointment, KindCancelAppointment,
		KindRescheduleAppointment, KindFindAppointments, KindListServices, KindListProfessionals,
		KindListInsurancePlans, KindClinicInfo,
	}
}

// IdentityFields lists the patient fields a kind needs, in the order they are filled.
func (k Kind) IdentityFields() []string {
	switch k {
	case KindCreateAppointment, KindCancelAppointment, KindRescheduleAppointment:
		return []string{ArgName, ArgPhone}
	case KindFindAppointments:
		return []string{ArgPhone}
	default:
		return nil
	}
}

// Argument names shared across declarations and handlers.
const (
	ArgName      = "name"
	ArgPhone     = "phone"
	ArgDate      = "date"
	ArgTime      = "time"
	ArgProcedure = "procedure"
	ArgFromDate  = "from_date"
	ArgDays      = "days"
	ArgOldDate   = "old_date"
	ArgOldTime   = "old_time"
	ArgNewDate   = "new_date"
	ArgNewTime   = "new_time"
)

// Parameter is one declared argument.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Declaration describes a tool to the model.
type Declaration struct {
	Kind        Kind
	Description string
	Parameters  []Parameter
}

// Name returns the wire name.
func (d Declaration) Name() string {
	return d.Kind.Name()
}

// Required returns the names of required parameters.
func (d Declaration) Required() []string {
	var out []string
	for _, p := range d.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// JSONSchema renders the parameters as a JSON Schema object.
func (d Declaration) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	for _, p := range d.Parameters {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := d.Required(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

var (
	paramName      = Parameter{Name: ArgName, Type: "string", Description: "Patient full name (first and last name)."}
	paramPhone     = Parameter{Name: ArgPhone, Type: "string", Description: "Patient phone with area code."}
	paramDate      = Parameter{Name: ArgDate, Type: "string", Description: "Date as YYYY-MM-DD.", Required: true}
	paramTime      = Parameter{Name: ArgTime, Type: "string", Description: "Time as HH:MM (24h).", Required: true}
	paramProcedure = Parameter{Name: ArgProcedure, Type: "string", Description: "Requested service or procedure, if known."}
)

// Catalog returns the fixed tool set.
func Catalog() []Declaration {
	return []Declaration{
		{
			Kind:        KindListAvailableSlots,
			Description: "List open appointment slots for the next days with availability.",
			Parameters: []Parameter{
				{Name: ArgFromDate, Type: "string", Description: "First date to consider, YYYY-MM-DD. Defaults to today."},
				{Name: ArgDays, Type: "integer", Description: "How many open days to return (1-5). Defaults to 3."},
			},
		},
		{
			Kind:        KindValidateSlot,
			Description: "Check whether a specific date and time is bookable right now.",
			Parameters:  []Parameter{paramDate, paramTime},
		},
		{
			Kind:        KindCreateAppointment,
			Description: "Book an appointment. Only call after the patient confirmed date and time.",
			Parameters:  []Parameter{paramName, paramPhone, paramDate, paramTime, paramProcedure},
		},
		{
			Kind:        KindCancelAppointment,
			Description: "Cancel an existing appointment identified by phone, date and time.",
			Parameters:  []Parameter{paramName, paramPhone, paramDate, paramTime},
		},
		{
			Kind:        KindRescheduleAppointment,
			Description: "Move an existing appointment to a new date and time.",
			Parameters: []Parameter{
				paramName, paramPhone,
				{Name: ArgOldDate, Type: "string", Description: "Current appointment date, YYYY-MM-DD.", Required: true},
				{Name: ArgOldTime, Type: "string", Description: "Current appointment time, HH:MM.", Required: true},
				{Name: ArgNewDate, Type: "string", Description: "New date, YYYY-MM-DD.", Required: true},
				{Name: ArgNewTime, Type: "string", Description: "New time, HH:MM.", Required: true},
			},
		},
		{
			Kind:        KindFindAppointments,
			Description: "List the patient's upcoming confirmed appointments.",
			Parameters:  []Parameter{paramPhone},
		},
		{Kind: KindListServices, Description: "List services offered with prices and durations."},
		{Kind: KindListProfessionals, Description: "List the clinic's professionals and specialties."},
		{Kind: KindListInsurancePlans, Description: "List accepted insurance plans and payment methods."},
		{Kind: KindClinicInfo, Description: "Clinic address, phone, opening hours and frequently asked questions."},
	}
}

// Call is a tool invocation requested by the model.
type Call struct {
	// ID correlates the result with the request on protocols that need it.
	ID        string
	Name      string
	Arguments map[string]any
}

// Kind resolves the call's tool kind.
func (c Call) Kind() (Kind, bool) {
	return ParseKind(c.Name)
}

// String returns a trimmed string argument, formatting numbers when the model sent one.
func (c Call) String(key string) string {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// Int returns an integer argument or fallback.
func (c Call) Int(key string, fallback int) int {
	switch val := c.Arguments[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(val), "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

// ErrorDetail is the structured failure the model must surface.
type ErrorDetail struct {
	Kind          string   `json:"kind"`
	Message       string   `json:"message"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// Result is what a handler returns to the model.
type Result struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// OK wraps a successful payload.
func OK(data any) Result {
	return Result{Success: true, Data: data}
}

// Failure converts err into a structured result, carrying data alongside when given.
func Failure(err error, data any) Result {
	kind := apperr.KindOf(err)
	message := apperr.MessageOf(err, "internal error")
	if kind == apperr.KindInternal {
		message = "internal error"
	}
	return Result{Data: data, Error: &ErrorDetail{Kind: string(kind), Message: message}}
}

// Missing reports required fields that are still empty.
func Missing(fields []string) Result {
	return Result{Error: &ErrorDetail{
		Kind:          string(apperr.KindValidation),
		Message:       "missing required fields: " + strings.Join(fields, ", "),
		MissingFields: fields,
	}}
}

// JSON encodes the result for the model.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":{"kind":"internal","message":"internal error"}}`
	}
	return string(data)
}
