package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusScheduled, StatusPending, StatusConfirmed, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
}

// ParseStatuses parses a list of statuses, rejecting unknown names.
func ParseStatuses(raw []string) ([]Status, error) {
	out := make([]Status, 0, len(raw))
	for _, r := range raw {
		st, err := ParseStatus(r)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func StatusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func ContainsStatus(statuses []Status, s Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Appointment is never deleted; cancellation is a status change.
type Appointment struct {
	ID               string
	CustomerID       string
	ScheduleWindowID string
	SeriesID         string
	ScheduledDate    time.Time
	StartTime        Clock
	EndTime          Clock
	Status           Status
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CapacityGuard asks the store to re-count bookings for one slot inside the insert transaction
// and refuse the batch when the slot is already full.
type CapacityGuard struct {
	Date      time.Time
	StartTime Clock
	Max       int
	Statuses  []Status
}

// StatusChange moves one appointment to To when its current status is in From.
// CustomerID, when set, scopes the change to that customer's own appointment.
type StatusChange struct {
	AppointmentID string
	CustomerID    string
	From          []Status
	To            Status
}

var (
	ErrNotFound       = errors.New("not found")
	ErrSlotFull       = errors.New("slot is fully booked")
	ErrStatusConflict = errors.New("appointment status does not allow this change")
	ErrForbidden      = errors.New("appointment belongs to another customer")
)
