package conversation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/bookings"
	"github.com/wolfman30/clinic-booking-assistant/internal/schedule"
	"github.com/wolfman30/clinic-booking-assistant/internal/tools"
)

// toolOutcome is one executed tool call and the result returned to the model.
type toolOutcome struct {
	Kind   tools.Kind
	Call   tools.Call
	Result tools.Result
}

// SlotsPayload is the data of a successful list_available_slots call.
type SlotsPayload struct {
	Days []availability.Day `json:"days"`
}

// overrideReply returns the fixed rendering that replaces model prose for the outcome, if
// the outcome's tool has one.
func overrideReply(out *toolOutcome) (string, bool) {
	if out == nil || !out.Result.Success {
		return "", false
	}
	switch data := out.Result.Data.(type) {
	case SlotsPayload:
		if out.Kind == tools.KindListAvailableSlots {
			return renderSlots(data.Days), true
		}
	case bookings.Confirmation:
		if out.Kind == tools.KindCreateAppointment || out.Kind == tools.KindRescheduleAppointment {
			return renderConfirmation(data), true
		}
	}
	return "", false
}

func renderSlots(days []availability.Day) string {
	if len(days) == 0 {
		return "No momento não encontrei horários disponíveis nos próximos dias. Posso ajudar com mais alguma coisa?"
	}
	var b strings.Builder
	b.WriteString("Estes são os próximos horários disponíveis:\n")
	for _, day := range days {
		clocks := make([]string, 0, len(day.Slots))
		for _, slot := range day.Slots {
			clocks = append(clocks, schedule.DisplayTime(slot))
		}
		fmt.Fprintf(&b, "\n%s, %s:\n%s\n", day.WeekdayLabel, schedule.DisplayDate(day.Date), strings.Join(clocks, ", "))
	}
	b.WriteString("\nQual horário fica melhor para você?")
	return b.String()
}

func renderConfirmation(conf bookings.Confirmation) string {
	var b strings.Builder
	if conf.Previous != nil {
		fmt.Fprintf(&b, "Consulta remarcada com sucesso!\nDe: %s às %s\n",
			schedule.DisplayDate(conf.Previous.Date), schedule.DisplayTime(conf.Previous.Time))
		fmt.Fprintf(&b, "Para: %s, %s às %s\n", conf.Weekday, conf.DateFormatted, conf.TimeFormatted)
	} else {
		b.WriteString("Agendamento confirmado!\n")
		fmt.Fprintf(&b, "Data: %s, %s\n", conf.Weekday, conf.DateFormatted)
		fmt.Fprintf(&b, "Horário: %s\n", conf.TimeFormatted)
	}
	fmt.Fprintf(&b, "Paciente: %s\n", conf.Patient)
	if conf.Procedure != "" {
		fmt.Fprintf(&b, "Procedimento: %s\n", conf.Procedure)
	}
	b.WriteString("Se precisar remarcar ou cancelar, é só me avisar.")
	return b.String()
}

var missingFieldLabels = map[string]string{
	tools.ArgName:    "seu nome completo",
	tools.ArgPhone:   "seu telefone com DDD",
	tools.ArgDate:    "a data desejada",
	tools.ArgTime:    "o horário desejado",
	tools.ArgOldDate: "a data atual da consulta",
	tools.ArgOldTime: "o horário atual da consulta",
	tools.ArgNewDate: "a nova data",
	tools.ArgNewTime: "o novo horário",
}

// cannedReply turns the last tool result into a reply when the model could not produce one.
func cannedReply(out *toolOutcome) string {
	if out == nil {
		return ApologyReply
	}
	if text, ok := overrideReply(out); ok {
		return text
	}
	res := out.Result
	if !res.Success {
		if res.Error != nil && len(res.Error.MissingFields) > 0 {
			labels := make([]string, 0, len(res.Error.MissingFields))
			for _, f := range res.Error.MissingFields {
				if label, ok := missingFieldLabels[f]; ok {
					labels = append(labels, label)
				} else {
					labels = append(labels, f)
				}
			}
			return "Para continuar, preciso de " + joinPortuguese(labels) + "."
		}
		if v, ok := res.Data.(bookings.SlotValidation); ok && len(v.Alternatives) > 0 {
			return "Esse horário não está disponível. Posso oferecer: " + renderAlternatives(v.Alternatives) + ". Algum desses serve?"
		}
		return "Não consegui concluir essa solicitação. Pode confirmar os dados, por favor?"
	}
	switch data := res.Data.(type) {
	case schedule.Appointment:
		if out.Kind == tools.KindCancelAppointment {
			return fmt.Sprintf("Sua consulta de %s às %s foi cancelada.",
				schedule.DisplayDate(data.Date), schedule.DisplayTime(data.Time))
		}
	case bookings.SlotValidation:
		if data.Valid {
			return fmt.Sprintf("O horário de %s às %s está disponível. Posso confirmar o agendamento?",
				schedule.DisplayDate(data.Date), schedule.DisplayTime(data.Time))
		}
	case []schedule.Appointment:
		if len(data) == 0 {
			return "Não encontrei consultas futuras para esse telefone."
		}
		lines := make([]string, 0, len(data))
		for _, a := range data {
			lines = append(lines, fmt.Sprintf("- %s às %s", schedule.DisplayDate(a.Date), schedule.DisplayTime(a.Time)))
		}
		return "Encontrei estas consultas:\n" + strings.Join(lines, "\n")
	}
	return "Certo! Posso ajudar com mais alguma coisa?"
}

func renderAlternatives(slots []schedule.Slot) string {
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		parts = append(parts, fmt.Sprintf("%s às %s", schedule.DisplayDate(s.Date), schedule.DisplayTime(s.Time)))
	}
	return joinPortuguese(parts)
}

func joinPortuguese(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " e " + items[len(items)-1]
}
