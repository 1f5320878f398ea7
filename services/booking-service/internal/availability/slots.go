package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// ErrLoadFailed wraps any store failure while computing availability. Callers may retry.
var ErrLoadFailed = errors.New("availability load failed")

const DefaultSlotLength = 60 * time.Minute

// ScheduleSource lists active windows, optionally for one weekday only.
type ScheduleSource interface {
	ListActive(ctx context.Context, day *time.Weekday) ([]model.ScheduleWindow, error)
}

// AppointmentSource lists appointments on a date whose status is in statuses.
type AppointmentSource interface {
	ListByDateAndStatus(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error)
}

type Observer interface {
	ObserveSlotQuery(outcome string, slots int)
}

type Generator struct {
	schedules    ScheduleSource
	appointments AppointmentSource
	counted      []model.Status
	slotLength   time.Duration
	observer     Observer
}

type GeneratorConfig struct {
	// CountedStatuses are the appointment statuses that consume slot capacity.
	CountedStatuses []model.Status
	SlotLength      time.Duration
	Observer        Observer
}

func NewGenerator(schedules ScheduleSource, appointments AppointmentSource, cfg GeneratorConfig) *Generator {
	if cfg.SlotLength <= 0 {
		cfg.SlotLength = DefaultSlotLength
	}
	if len(cfg.CountedStatuses) == 0 {
		cfg.CountedStatuses = DefaultCountedStatuses()
	}
	return &Generator{
		schedules:    schedules,
		appointments: appointments,
		counted:      cfg.CountedStatuses,
		slotLength:   cfg.SlotLength,
		observer:     cfg.Observer,
	}
}

func DefaultCountedStatuses() []model.Status {
	return []model.Status{model.StatusScheduled, model.StatusConfirmed}
}

func (g *Generator) SlotLength() time.Duration { return g.slotLength }

func (g *Generator) CountedStatuses() []model.Status { return g.counted }

// Slots returns the bookable slots for date. A date without matching windows yields an empty slice.
func (g *Generator) Slots(ctx context.Context, date time.Time) ([]model.TimeSlot, error) {
	date = model.DateOf(date)
	day := date.Weekday()
	windows, err := g.schedules.ListActive(ctx, &day)
	if err != nil {
		g.observe("error", 0)
		return nil, fmt.Errorf("%w: schedules: %v", ErrLoadFailed, err)
	}
	if len(windows) == 0 {
		g.observe("empty", 0)
		return []model.TimeSlot{}, nil
	}

	appts, err := g.appointments.ListByDateAndStatus(ctx, date, g.counted)
	if err != nil {
		g.observe("error", 0)
		return nil, fmt.Errorf("%w: appointments: %v", ErrLoadFailed, err)
	}

	slots := GenerateSlots(windows, appts, g.slotLength, g.counted)
	g.observe("ok", len(slots))
	return slots, nil
}

func (g *Generator) observe(outcome string, n int) {
	if g.observer != nil {
		g.observer.ObserveSlotQuery(outcome, n)
	}
}

// GenerateSlots cuts each window into slotLength increments, dropping a trailing remainder shorter
// than slotLength. Every increment is checked against its own window's capacity, so overlapping
// windows produce separate slots tagged with their window id. Appointments whose status is not in
// counted are ignored; appointments match a slot by start time.
func GenerateSlots(windows []model.ScheduleWindow, appts []model.Appointment, slotLength time.Duration, counted []model.Status) []model.TimeSlot {
	step := model.Clock(slotLength / time.Minute)
	if step <= 0 {
		return []model.TimeSlot{}
	}

	booked := make(map[model.Clock]int, len(appts))
	for _, a := range appts {
		if !model.ContainsStatus(counted, a.Status) {
			continue
		}
		booked[a.StartTime]++
	}

	ordered := make([]model.ScheduleWindow, len(windows))
	copy(ordered, windows)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime < ordered[j].StartTime
	})

	slots := []model.TimeSlot{}
	for _, w := range ordered {
		if !w.IsActive || w.MaxAppointments < 1 {
			continue
		}
		for start := w.StartTime; start+step <= w.EndTime; start += step {
			remaining := w.MaxAppointments - booked[start]
			if remaining < 0 {
				remaining = 0
			}
			slots = append(slots, model.TimeSlot{
				WindowID:  w.ID,
				StartTime: start,
				EndTime:   start + step,
				Available: remaining > 0,
				Remaining: remaining,
			})
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].StartTime < slots[j].StartTime
	})
	return slots
}
