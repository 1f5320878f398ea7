package booking

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Cancel moves one of the customer's own appointments to cancelled. Cancelling twice is a no-op.
func (e *Engine) Cancel(ctx context.Context, customerID, appointmentID string) (model.Appointment, error) {
	if customerID == "" {
		return model.Appointment{}, &ValidationError{Code: CodeNotAuthenticated, Message: "sign in to cancel an appointment"}
	}
	return e.transition(ctx, model.StatusChange{
		AppointmentID: appointmentID,
		CustomerID:    customerID,
		From:          []model.Status{model.StatusScheduled, model.StatusPending, model.StatusConfirmed},
		To:            model.StatusCancelled,
	})
}

// Confirm is the manager approving a scheduled or pending appointment.
func (e *Engine) Confirm(ctx context.Context, appointmentID string) (model.Appointment, error) {
	return e.transition(ctx, model.StatusChange{
		AppointmentID: appointmentID,
		From:          []model.Status{model.StatusScheduled, model.StatusPending},
		To:            model.StatusConfirmed,
	})
}

// Reject is the manager declining a scheduled or pending appointment.
func (e *Engine) Reject(ctx context.Context, appointmentID string) (model.Appointment, error) {
	return e.transition(ctx, model.StatusChange{
		AppointmentID: appointmentID,
		From:          []model.Status{model.StatusScheduled, model.StatusPending},
		To:            model.StatusCancelled,
	})
}

func (e *Engine) transition(ctx context.Context, change model.StatusChange) (model.Appointment, error) {
	if change.AppointmentID == "" {
		return model.Appointment{}, invalid("id", "appointment id is required")
	}
	began := time.Now()
	appt, from, changed, err := e.appointments.UpdateStatus(ctx, change)
	e.observeStore("update_status", began, err)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			return model.Appointment{}, ErrNotFound
		case errors.Is(err, model.ErrForbidden):
			return model.Appointment{}, ErrForbidden
		case errors.Is(err, model.ErrStatusConflict):
			return model.Appointment{}, ErrInvalidTransition
		}
		return model.Appointment{}, newStoreError("update_status", err)
	}
	if changed {
		if e.metrics != nil {
			e.metrics.ObserveTransition(string(from), string(change.To))
		}
		e.logger.Info("appointment status changed", "appointment_id", appt.ID, "from", from, "to", change.To)
	}
	return appt, nil
}

func (e *Engine) ListMine(ctx context.Context, customerID string) ([]model.Appointment, error) {
	if customerID == "" {
		return nil, &ValidationError{Code: CodeNotAuthenticated, Message: "sign in to see your appointments"}
	}
	began := time.Now()
	appts, err := e.appointments.ListByCustomer(ctx, customerID)
	e.observeStore("list_by_customer", began, err)
	if err != nil {
		return nil, newStoreError("list_by_customer", err)
	}
	return appts, nil
}

// ListForDate lists a date's appointments for managers; no statuses means all of them.
func (e *Engine) ListForDate(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error) {
	if date.IsZero() {
		return nil, &ValidationError{Code: CodeIncompleteSelection, Field: "date", Message: "date is required"}
	}
	began := time.Now()
	appts, err := e.appointments.ListByDateAndStatus(ctx, model.DateOf(date), statuses)
	e.observeStore("list_by_date", began, err)
	if err != nil {
		return nil, newStoreError("list_by_date", err)
	}
	return appts, nil
}
