package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

const (
	defaultWindowStart = "09:00"
	defaultWindowEnd   = "17:00"
)

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	windows, err := h.schedules.List(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if windows == nil {
		windows = []model.ScheduleWindow{}
	}
	httpx.WriteJSON(w, http.StatusOK, schedulesResponse{Windows: windows})
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var body createScheduleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.DayOfWeek == nil {
		httpx.WriteError(w, http.StatusBadRequest, "day_of_week is required")
		return
	}
	in := booking.WindowInput{
		ManagerID:       identity(r).UserID,
		DayOfWeek:       time.Weekday(*body.DayOfWeek),
		MaxAppointments: 1,
		IsActive:        true,
	}
	var err error
	if in.StartTime, err = model.ParseClock(orDefault(body.StartTime, defaultWindowStart)); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start_time: "+err.Error())
		return
	}
	if in.EndTime, err = model.ParseClock(orDefault(body.EndTime, defaultWindowEnd)); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end_time: "+err.Error())
		return
	}
	if body.MaxAppointments != nil {
		in.MaxAppointments = *body.MaxAppointments
	}
	if body.IsActive != nil {
		in.IsActive = *body.IsActive
	}

	window, err := h.schedules.Create(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, window)
}

// QuickSchedule creates Monday to Friday 09:00-17:00 windows.
func (h *Handler) QuickSchedule(w http.ResponseWriter, r *http.Request) {
	windows, err := h.schedules.Quick(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, schedulesResponse{Windows: windows})
}

func (h *Handler) SetScheduleActive(w http.ResponseWriter, r *http.Request) {
	var body setActiveRequest
	if err := httpx.DecodeJSON(r, &body); err != nil || body.IsActive == nil {
		httpx.WriteError(w, http.StatusBadRequest, "is_active is required")
		return
	}
	window, err := h.schedules.SetActive(r.Context(), r.PathValue("id"), *body.IsActive)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, window)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
