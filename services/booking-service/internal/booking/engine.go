package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/recurrence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ScheduleStore interface {
	ListActive(ctx context.Context, day *time.Weekday) ([]model.ScheduleWindow, error)
	ListAll(ctx context.Context) ([]model.ScheduleWindow, error)
	CreateMany(ctx context.Context, windows []model.ScheduleWindow) ([]model.ScheduleWindow, error)
	SetActive(ctx context.Context, id string, active bool) (model.ScheduleWindow, error)
}

type AppointmentStore interface {
	ListByDateAndStatus(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error)
	ListByCustomer(ctx context.Context, customerID string) ([]model.Appointment, error)
	InsertBatch(ctx context.Context, appts []model.Appointment, guard *model.CapacityGuard) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, change model.StatusChange) (model.Appointment, model.Status, bool, error)
}

type Metrics interface {
	ObserveBooking(recurring bool, outcome string)
	ObserveTransition(from, to string)
	ObserveStore(op string, start time.Time, err error)
}

type Config struct {
	// CountedStatuses consume slot capacity.
	CountedStatuses []model.Status
	// EnforceCapacity re-checks the anchor slot inside the insert transaction.
	EnforceCapacity bool
	MaxRecurring    int
	SlotLength      time.Duration
	// Location decides what "today" is when rejecting past dates.
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

type Engine struct {
	schedules    ScheduleStore
	appointments AppointmentStore
	logger       *slog.Logger
	metrics      Metrics
	cfg          Config
}

func NewEngine(schedules ScheduleStore, appointments AppointmentStore, logger *slog.Logger, metrics Metrics, cfg Config) *Engine {
	if len(cfg.CountedStatuses) == 0 {
		cfg.CountedStatuses = availability.DefaultCountedStatuses()
	}
	if cfg.MaxRecurring <= 0 {
		cfg.MaxRecurring = recurrence.DefaultMaxCount
	}
	if cfg.SlotLength <= 0 {
		cfg.SlotLength = availability.DefaultSlotLength
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{schedules: schedules, appointments: appointments, logger: logger, metrics: metrics, cfg: cfg}
}

// SlotSelection is the slot the customer picked from the slot listing. WindowID may be empty,
// in which case the largest active window offering StartTime is used.
type SlotSelection struct {
	WindowID  string
	StartTime model.Clock
	EndTime   model.Clock
}

type RecurringOptions struct {
	Frequency recurrence.Frequency
	Count     int
}

type Request struct {
	CustomerID string
	Date       time.Time
	Slot       *SlotSelection
	Notes      string
	Recurring  *RecurringOptions
}

type Result struct {
	SeriesID     string
	Appointments []model.Appointment
}

func (r Result) AppointmentIDs() []string {
	ids := make([]string, len(r.Appointments))
	for i, a := range r.Appointments {
		ids[i] = a.ID
	}
	return ids
}

// Book creates one appointment per date of the (possibly recurring) selection in a single batch.
// Only the anchor date is checked against the slot's window; later dates are created pending.
func (e *Engine) Book(ctx context.Context, req Request) (Result, error) {
	recurring := req.Recurring != nil && req.Recurring.Count > 1

	ctx, span := otelx.Tracer("booking").Start(ctx, "booking.Book")
	defer span.End()
	span.SetAttributes(attribute.Bool("booking.recurring", recurring))

	res, err := e.book(ctx, req)
	e.observeBooking(recurring, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "booking failed")
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("booking.appointments", len(res.Appointments)))
	e.logger.Info("appointments booked",
		"customer_id", req.CustomerID,
		"date", model.FormatDate(req.Date),
		"start_time", req.Slot.StartTime.String(),
		"count", len(res.Appointments),
		"series_id", res.SeriesID,
	)
	return res, nil
}

func (e *Engine) book(ctx context.Context, req Request) (Result, error) {
	if req.CustomerID == "" {
		return Result{}, &ValidationError{Code: CodeNotAuthenticated, Message: "sign in to book an appointment"}
	}
	if req.Date.IsZero() || req.Slot == nil {
		return Result{}, &ValidationError{Code: CodeIncompleteSelection, Message: "select a date and a time slot"}
	}

	date := model.DateOf(req.Date)
	today := model.DateOf(e.cfg.Now().In(e.cfg.Location))
	if date.Before(today) {
		return Result{}, invalid("date", "cannot book a date in the past")
	}

	start := req.Slot.StartTime
	if req.Slot.EndTime != 0 && req.Slot.EndTime != start.Add(e.cfg.SlotLength) {
		return Result{}, invalid("slot", "slot end does not match the slot length")
	}

	window, err := e.resolveWindow(ctx, date, *req.Slot)
	if err != nil {
		return Result{}, err
	}

	occurrences := []recurrence.Occurrence{{Date: date, Status: model.StatusScheduled}}
	if req.Recurring != nil {
		occurrences, err = recurrence.Expand(date, req.Recurring.Frequency, req.Recurring.Count, e.cfg.MaxRecurring)
		if err != nil {
			return Result{}, invalid("recurring", err.Error())
		}
	}

	var seriesID string
	if len(occurrences) > 1 {
		seriesID = e.cfg.NewID()
	}
	appts := make([]model.Appointment, 0, len(occurrences))
	for _, occ := range occurrences {
		appts = append(appts, model.Appointment{
			ID:               e.cfg.NewID(),
			CustomerID:       req.CustomerID,
			ScheduleWindowID: window.ID,
			SeriesID:         seriesID,
			ScheduledDate:    occ.Date,
			StartTime:        start,
			EndTime:          start.Add(e.cfg.SlotLength),
			Status:           occ.Status,
			Notes:            req.Notes,
		})
	}

	var guard *model.CapacityGuard
	if e.cfg.EnforceCapacity {
		guard = &model.CapacityGuard{
			Date:      date,
			StartTime: start,
			Max:       window.MaxAppointments,
			Statuses:  e.cfg.CountedStatuses,
		}
	}

	began := time.Now()
	created, err := e.appointments.InsertBatch(ctx, appts, guard)
	e.observeStore("insert_batch", began, err)
	if err != nil {
		if errors.Is(err, model.ErrSlotFull) {
			return Result{}, ErrSlotFull
		}
		return Result{}, newStoreError("insert_batch", err)
	}
	return Result{SeriesID: seriesID, Appointments: created}, nil
}

func (e *Engine) resolveWindow(ctx context.Context, date time.Time, slot SlotSelection) (model.ScheduleWindow, error) {
	day := date.Weekday()
	began := time.Now()
	windows, err := e.schedules.ListActive(ctx, &day)
	e.observeStore("list_active_windows", began, err)
	if err != nil {
		return model.ScheduleWindow{}, newStoreError("list_active_windows", err)
	}
	// Bookings are counted per (date, start) across windows, so among overlapping windows the
	// one with the largest capacity has the most seats left.
	var (
		best  model.ScheduleWindow
		found bool
	)
	for _, w := range windows {
		if slot.WindowID != "" && w.ID != slot.WindowID {
			continue
		}
		if !w.IsActive || !w.Offers(slot.StartTime, e.cfg.SlotLength) {
			continue
		}
		if !found || w.MaxAppointments > best.MaxAppointments {
			best, found = w, true
		}
	}
	if !found {
		return model.ScheduleWindow{}, invalid("slot", "the selected slot is not offered on this date")
	}
	return best, nil
}

func (e *Engine) observeBooking(recurring bool, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	var verr *ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		outcome = "invalid"
	case errors.Is(err, ErrSlotFull):
		outcome = "slot_full"
	default:
		outcome = "store_error"
	}
	e.metrics.ObserveBooking(recurring, outcome)
}

func (e *Engine) observeStore(op string, began time.Time, err error) {
	if e.metrics != nil {
		e.metrics.ObserveStore(op, began, err)
	}
}
