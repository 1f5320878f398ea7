package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

const (
	AggregateAppointment = "appointment"

	// Topic names equal the event type.
	EventAppointmentBooked        = "booking.appointment.booked.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type appointmentPayload struct {
	AppointmentID    string `json:"appointment_id"`
	CustomerID       string `json:"customer_id"`
	ScheduleWindowID string `json:"schedule_window_id,omitempty"`
	SeriesID         string `json:"series_id,omitempty"`
	Date             string `json:"scheduled_date"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	PreviousStatus   string `json:"previous_status,omitempty"`
	OccurredAt       string `json:"occurred_at"`
}

func newPayload(a model.Appointment, now time.Time) appointmentPayload {
	return appointmentPayload{
		AppointmentID:    a.ID,
		CustomerID:       a.CustomerID,
		ScheduleWindowID: a.ScheduleWindowID,
		SeriesID:         a.SeriesID,
		Date:             model.FormatDate(a.ScheduledDate),
		StartTime:        a.StartTime.String(),
		EndTime:          a.EndTime.String(),
		Status:           string(a.Status),
		OccurredAt:       now.UTC().Format(time.RFC3339),
	}
}

// AppointmentBooked builds the event written for each newly inserted appointment.
func AppointmentBooked(a model.Appointment, now time.Time) (Event, error) {
	payload, err := json.Marshal(newPayload(a, now))
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     EventAppointmentBooked,
		Payload:       payload,
	}, nil
}

func AppointmentStatusChanged(a model.Appointment, from model.Status, now time.Time) (Event, error) {
	p := newPayload(a, now)
	p.PreviousStatus = string(from)
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     EventAppointmentStatusChanged,
		Payload:       payload,
	}, nil
}
