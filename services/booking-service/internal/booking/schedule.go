package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// IndexInvalidator drops cached availability hints after a schedule change.
type IndexInvalidator interface {
	Invalidate(ctx context.Context) error
}

type ScheduleService struct {
	store  ScheduleStore
	index  IndexInvalidator
	logger *slog.Logger
	newID  func() string
}

func NewScheduleService(store ScheduleStore, index IndexInvalidator, logger *slog.Logger) *ScheduleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleService{store: store, index: index, logger: logger, newID: uuid.NewString}
}

type WindowInput struct {
	ManagerID       string
	DayOfWeek       time.Weekday
	StartTime       model.Clock
	EndTime         model.Clock
	MaxAppointments int
	IsActive        bool
}

// Quick schedule: Monday to Friday, 09:00-17:00, three appointments per slot.
const (
	quickStart = model.Clock(9 * 60)
	quickEnd   = model.Clock(17 * 60)
	quickMax   = 3
)

func (s *ScheduleService) Create(ctx context.Context, in WindowInput) (model.ScheduleWindow, error) {
	if in.ManagerID == "" {
		return model.ScheduleWindow{}, &ValidationError{Code: CodeNotAuthenticated, Message: "sign in as a manager"}
	}
	w := model.ScheduleWindow{
		ID:              s.newID(),
		ManagerID:       in.ManagerID,
		DayOfWeek:       in.DayOfWeek,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		MaxAppointments: in.MaxAppointments,
		IsActive:        in.IsActive,
	}
	if err := w.Validate(); err != nil {
		return model.ScheduleWindow{}, windowValidation(err)
	}
	created, err := s.store.CreateMany(ctx, []model.ScheduleWindow{w})
	if err != nil {
		return model.ScheduleWindow{}, newStoreError("create_window", err)
	}
	s.invalidate(ctx)
	return created[0], nil
}

// Quick creates the default weekday schedule in one transaction.
func (s *ScheduleService) Quick(ctx context.Context, managerID string) ([]model.ScheduleWindow, error) {
	if managerID == "" {
		return nil, &ValidationError{Code: CodeNotAuthenticated, Message: "sign in as a manager"}
	}
	windows := make([]model.ScheduleWindow, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		windows = append(windows, model.ScheduleWindow{
			ID:              s.newID(),
			ManagerID:       managerID,
			DayOfWeek:       d,
			StartTime:       quickStart,
			EndTime:         quickEnd,
			MaxAppointments: quickMax,
			IsActive:        true,
		})
	}
	created, err := s.store.CreateMany(ctx, windows)
	if err != nil {
		return nil, newStoreError("create_windows", err)
	}
	s.invalidate(ctx)
	return created, nil
}

func (s *ScheduleService) List(ctx context.Context) ([]model.ScheduleWindow, error) {
	windows, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, newStoreError("list_windows", err)
	}
	return windows, nil
}

func (s *ScheduleService) SetActive(ctx context.Context, id string, active bool) (model.ScheduleWindow, error) {
	w, err := s.store.SetActive(ctx, id, active)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ScheduleWindow{}, ErrNotFound
		}
		return model.ScheduleWindow{}, newStoreError("set_window_active", err)
	}
	s.invalidate(ctx)
	return w, nil
}

func (s *ScheduleService) invalidate(ctx context.Context) {
	if s.index == nil {
		return
	}
	if err := s.index.Invalidate(ctx); err != nil {
		s.logger.Warn("availability cache invalidate failed", "err", err)
	}
}

func windowValidation(err error) *ValidationError {
	switch {
	case errors.Is(err, model.ErrInvalidWeekday):
		return invalid("day_of_week", err.Error())
	case errors.Is(err, model.ErrInvalidRange):
		return invalid("end_time", err.Error())
	case errors.Is(err, model.ErrInvalidCapacity):
		return invalid("max_appointments", err.Error())
	default:
		return invalid("", err.Error())
	}
}
