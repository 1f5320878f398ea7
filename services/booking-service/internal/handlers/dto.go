package handlers

import (
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

type appointmentItem struct {
	ID               string `json:"id"`
	CustomerID       string `json:"customer_id"`
	ScheduleWindowID string `json:"schedule_window_id,omitempty"`
	SeriesID         string `json:"series_id,omitempty"`
	ScheduledDate    string `json:"scheduled_date"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

func toItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		ID:               a.ID,
		CustomerID:       a.CustomerID,
		ScheduleWindowID: a.ScheduleWindowID,
		SeriesID:         a.SeriesID,
		ScheduledDate:    model.FormatDate(a.ScheduledDate),
		StartTime:        a.StartTime.String(),
		EndTime:          a.EndTime.String(),
		Status:           string(a.Status),
		Notes:            a.Notes,
	}
	if !a.CreatedAt.IsZero() {
		item.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func toItems(appts []model.Appointment) []appointmentItem {
	out := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		out = append(out, toItem(a))
	}
	return out
}

type listAppointmentsResponse struct {
	Appointments []appointmentItem `json:"appointments"`
}

type createAppointmentRequest struct {
	Date      string            `json:"date"`
	WindowID  string            `json:"window_id"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Notes     string            `json:"notes"`
	Recurring *recurringRequest `json:"recurring"`
}

type recurringRequest struct {
	Frequency string `json:"frequency"`
	Count     int    `json:"count"`
}

type createAppointmentResponse struct {
	AppointmentIDs []string          `json:"appointment_ids"`
	SeriesID       string            `json:"series_id,omitempty"`
	Appointments   []appointmentItem `json:"appointments"`
}

type slotsResponse struct {
	Date  string           `json:"date"`
	Slots []model.TimeSlot `json:"slots"`
}

type dayItem struct {
	Date     string `json:"date"`
	InMonth  bool   `json:"in_month"`
	HasSlots bool   `json:"has_slots"`
}

type monthResponse struct {
	Year  int       `json:"year"`
	Month int       `json:"month"`
	Days  []dayItem `json:"days"`
}

func toDays(hints []availability.DayHint) []dayItem {
	out := make([]dayItem, 0, len(hints))
	for _, d := range hints {
		out = append(out, dayItem{Date: model.FormatDate(d.Date), InMonth: d.InMonth, HasSlots: d.HasSlots})
	}
	return out
}

type createScheduleRequest struct {
	DayOfWeek       *int   `json:"day_of_week"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	MaxAppointments *int   `json:"max_appointments"`
	IsActive        *bool  `json:"is_active"`
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

type schedulesResponse struct {
	Windows []model.ScheduleWindow `json:"windows"`
}
