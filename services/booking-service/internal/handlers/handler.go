package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

type SlotLister interface {
	Slots(ctx context.Context, date time.Time) ([]model.TimeSlot, error)
}

type MonthIndex interface {
	Month(ctx context.Context, year int, month time.Month) ([]availability.DayHint, error)
}

type Booker interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
	Cancel(ctx context.Context, customerID, appointmentID string) (model.Appointment, error)
	Confirm(ctx context.Context, appointmentID string) (model.Appointment, error)
	Reject(ctx context.Context, appointmentID string) (model.Appointment, error)
	ListMine(ctx context.Context, customerID string) ([]model.Appointment, error)
	ListForDate(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error)
}

type Scheduler interface {
	Create(ctx context.Context, in booking.WindowInput) (model.ScheduleWindow, error)
	Quick(ctx context.Context, managerID string) ([]model.ScheduleWindow, error)
	List(ctx context.Context) ([]model.ScheduleWindow, error)
	SetActive(ctx context.Context, id string, active bool) (model.ScheduleWindow, error)
}

// Idempotency replays responses for repeated Idempotency-Key headers.
type Idempotency interface {
	Reserve(ctx context.Context, scope, key, requestHash string) (*cache.StoredResponse, error)
	Complete(ctx context.Context, scope, key string, resp cache.StoredResponse) error
	Release(ctx context.Context, scope, key string) error
}

type Handler struct {
	slots     SlotLister
	index     MonthIndex
	bookings  Booker
	schedules Scheduler
	idem      Idempotency
	logger    *slog.Logger
	location  *time.Location
	now       func() time.Time
}

type Options struct {
	// Idempotency is optional; without it the Idempotency-Key header is ignored.
	Idempotency Idempotency
	Location    *time.Location
	Now         func() time.Time
}

func New(slots SlotLister, index MonthIndex, bookings Booker, schedules Scheduler, logger *slog.Logger, opts Options) *Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		slots:     slots,
		index:     index,
		bookings:  bookings,
		schedules: schedules,
		idem:      opts.Idempotency,
		logger:    logger,
		location:  opts.Location,
		now:       opts.Now,
	}
}

// Register mounts the API on mux. Identity must already be on the request context
// (see auth.Authenticate).
func (h *Handler) Register(mux *http.ServeMux) {
	customer := func(f http.HandlerFunc) http.Handler { return auth.RequireRole(f, auth.RoleCustomer) }
	manager := func(f http.HandlerFunc) http.Handler { return auth.RequireRole(f, auth.RoleManager) }

	mux.HandleFunc("GET /api/v1/slots", h.Slots)
	mux.HandleFunc("GET /api/v1/availability/month", h.Month)

	mux.Handle("POST /api/v1/appointments", customer(h.CreateAppointment))
	mux.Handle("GET /api/v1/appointments/mine", customer(h.ListMine))
	mux.Handle("POST /api/v1/appointments/{id}/cancel", customer(h.Cancel))

	mux.Handle("GET /api/v1/appointments", manager(h.ListForDate))
	mux.Handle("POST /api/v1/appointments/{id}/confirm", manager(h.Confirm))
	mux.Handle("POST /api/v1/appointments/{id}/reject", manager(h.Reject))

	mux.Handle("GET /api/v1/schedules", manager(h.ListSchedules))
	mux.Handle("POST /api/v1/schedules", manager(h.CreateSchedule))
	mux.Handle("POST /api/v1/schedules/quick", manager(h.QuickSchedule))
	mux.Handle("POST /api/v1/schedules/{id}/active", manager(h.SetScheduleActive))
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

// statusFor maps domain errors to an HTTP status and a message safe to return.
func statusFor(err error) (int, string) {
	var verr *booking.ValidationError
	var serr *booking.StoreError
	switch {
	case errors.As(err, &verr):
		if verr.Code == booking.CodeNotAuthenticated {
			return http.StatusUnauthorized, verr.Error()
		}
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, booking.ErrSlotFull):
		return http.StatusConflict, "the selected slot is fully booked"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "the appointment's status does not allow this change"
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, availability.ErrLoadFailed):
		return http.StatusServiceUnavailable, "availability load failed, please retry"
	case errors.As(err, &serr):
		if serr.Code != "" {
			return http.StatusUnprocessableEntity, serr.Message
		}
		return http.StatusServiceUnavailable, serr.Message
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
	} else if status == http.StatusUnprocessableEntity {
		h.logger.Warn("store rejected request", "path", r.URL.Path, "err", err)
	}
	httpx.WriteError(w, status, msg)
}
