package notification

import (
	"fmt"
	"io"

	"github.com/valyala/fasttemplate"

	"shopqueue-backend/internal/apperr"
)

const (
	TemplateQueueUpdate        = "QUEUE_UPDATE"
	TemplateQueueJoined        = "QUEUE_JOINED"
	TemplateAvailabilityUpdate = "AVAILABILITY_UPDATE"
	TemplateAppointmentBooked  = "APPOINTMENT_BOOKED"
	TemplateAppointmentCancel  = "APPOINTMENT_CANCELLED"
)

// Languages lists every language a template must be declared in.
var Languages = []string{"en", "es"}

type template struct {
	Title string
	Body  string
}

var templates = map[string]map[string]template{
	TemplateQueueUpdate: {
		"en": {
			Title: "Queue Update",
			Body:  "Your turn at {shop_name} is coming up! You are number {position}. Estimated wait time: {wait_time} minutes",
		},
		"es": {
			Title: "Actualización de Cola",
			Body:  "¡Tu turno en {shop_name} se acerca! Eres el número {position}. Tiempo estimado de espera: {wait_time} minutos",
		},
	},
	TemplateQueueJoined: {
		"en": {
			Title: "You're in line",
			Body:  "You joined the queue at {shop_name} as number {position}. Estimated wait time: {wait_time} minutes",
		},
		"es": {
			Title: "Estás en la fila",
			Body:  "Te uniste a la fila de {shop_name} con el número {position}. Tiempo estimado de espera: {wait_time} minutos",
		},
	},
	TemplateAvailabilityUpdate: {
		"en": {
			Title: "New availability",
			Body:  "{staff_name} at {shop_name} has new availability:\nDate: {date}\nTimes: {time_slots}\nBook now: {booking_url}",
		},
		"es": {
			Title: "Nueva disponibilidad",
			Body:  "{staff_name} en {shop_name} tiene nueva disponibilidad:\nFecha: {date}\nHorarios: {time_slots}\nReserva ahora: {booking_url}",
		},
	},
	TemplateAppointmentBooked: {
		"en": {
			Title: "Appointment confirmed",
			Body:  "Your appointment at {shop_name} is booked for {date} at {time}.",
		},
		"es": {
			Title: "Cita confirmada",
			Body:  "Tu cita en {shop_name} está reservada para el {date} a las {time}.",
		},
	},
	TemplateAppointmentCancel: {
		"en": {
			Title: "Appointment cancelled",
			Body:  "Your appointment at {shop_name} on {date} at {time} was cancelled.",
		},
		"es": {
			Title: "Cita cancelada",
			Body:  "Tu cita en {shop_name} el {date} a las {time} fue cancelada.",
		},
	},
}

// Rendered is a notification ready to be sent.
type Rendered struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Render fills the template for key in lang. It fails when the template has
// no text for lang or when a placeholder has no value in vars.
func Render(key, lang string, vars map[string]string) (Rendered, error) {
	byLang, ok := templates[key]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: unknown template %q", apperr.ErrNotificationDeliveryFailed, key)
	}
	tpl, ok := byLang[lang]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: template %q has no %q text", apperr.ErrNotificationDeliveryFailed, key, lang)
	}

	title, err := fill(tpl.Title, vars)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: template %q/%s: %v", apperr.ErrNotificationDeliveryFailed, key, lang, err)
	}
	body, err := fill(tpl.Body, vars)
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: template %q/%s: %v", apperr.ErrNotificationDeliveryFailed, key, lang, err)
	}
	return Rendered{Title: title, Body: body}, nil
}

func fill(text string, vars map[string]string) (string, error) {
	return fasttemplate.ExecuteFuncStringWithErr(text, "{", "}", func(w io.Writer, tag string) (int, error) {
		v, ok := vars[tag]
		if !ok {
			return 0, fmt.Errorf("missing value for {%s}", tag)
		}
		return w.Write([]byte(v))
	})
}

// Validate checks that every template is declared in every language.
func Validate() error {
	for key, byLang := range templates {
		for _, lang := range Languages {
			if _, ok := byLang[lang]; !ok {
				return fmt.Errorf("template %q is missing language %q", key, lang)
			}
		}
	}
	return nil
}
