package model

import (
	"errors"
	"time"
)

// ScheduleWindow is a weekly recurring availability rule owned by a manager.
// Once created only IsActive may change.
type ScheduleWindow struct {
	ID              string       `json:"id"`
	ManagerID       string       `json:"manager_id"`
	DayOfWeek       time.Weekday `json:"day_of_week"`
	StartTime       Clock        `json:"start_time"`
	EndTime         Clock        `json:"end_time"`
	MaxAppointments int          `json:"max_appointments"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
}

var (
	ErrInvalidWeekday  = errors.New("day_of_week must be between 0 (Sunday) and 6 (Saturday)")
	ErrInvalidRange    = errors.New("start_time must be before end_time")
	ErrInvalidCapacity = errors.New("max_appointments must be at least 1")
)

func (w ScheduleWindow) Validate() error {
	if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
		return ErrInvalidWeekday
	}
	if !w.StartTime.Valid() || !w.EndTime.Valid() || w.StartTime >= w.EndTime {
		return ErrInvalidRange
	}
	if w.MaxAppointments < 1 {
		return ErrInvalidCapacity
	}
	return nil
}

// Offers reports whether [start, start+length) is one of the window's slot increments.
func (w ScheduleWindow) Offers(start Clock, length time.Duration) bool {
	step := Clock(length / time.Minute)
	if step <= 0 || start < w.StartTime {
		return false
	}
	return (start-w.StartTime)%step == 0 && start+step <= w.EndTime
}

// TimeSlot is derived per query and never persisted.
type TimeSlot struct {
	WindowID  string `json:"window_id"`
	StartTime Clock  `json:"start_time"`
	EndTime   Clock  `json:"end_time"`
	Available bool   `json:"available"`
	Remaining int    `json:"remaining"`
}
