package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/pashagolub/pgxmock/v4"
)

var (
	windowCols = []string{"id", "manager_id", "day_of_week", "start_minute", "end_minute", "max_appointments", "is_active", "created_at"}
	apptCols   = []string{"id", "customer_id", "schedule_window_id", "series_id", "scheduled_date", "start_minute", "end_minute", "status", "notes", "created_at", "updated_at"}
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func verify(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestScheduleListActiveForDay(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("FROM schedule_windows").
		WithArgs(1).
		WillReturnRows(pgxmock.NewRows(windowCols).
			AddRow("w1", "m1", 1, 540, 1020, 3, true, now))

	day := time.Monday
	windows, err := NewScheduleRepository(mock).ListActive(context.Background(), &day)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	w := windows[0]
	if w.DayOfWeek != time.Monday || w.StartTime.String() != "09:00" || w.EndTime.String() != "17:00" || w.MaxAppointments != 3 {
		t.Fatalf("unexpected window %+v", w)
	}
	verify(t, mock)
}

func TestScheduleSetActiveNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("UPDATE schedule_windows").
		WithArgs("missing", false).
		WillReturnError(pgx.ErrNoRows)

	_, err := NewScheduleRepository(mock).SetActive(context.Background(), "missing", false)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestScheduleCreateManyIsOneTransaction(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO schedule_windows").
		WithArgs("w1", "m1", 1, 540, 1020, 3, true).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectQuery("INSERT INTO schedule_windows").
		WithArgs("w2", "m1", 2, 540, 1020, 3, true).
		WillReturnError(&pgconn.PgError{Code: "23514"})
	mock.ExpectRollback()

	windows := []model.ScheduleWindow{
		{ID: "w1", ManagerID: "m1", DayOfWeek: time.Monday, StartTime: 540, EndTime: 1020, MaxAppointments: 3, IsActive: true},
		{ID: "w2", ManagerID: "m1", DayOfWeek: time.Tuesday, StartTime: 540, EndTime: 1020, MaxAppointments: 3, IsActive: true},
	}
	if _, err := NewScheduleRepository(mock).CreateMany(context.Background(), windows); err == nil {
		t.Fatal("expected error")
	}
	verify(t, mock)
}

func TestAppointmentListByDateAndStatus(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	mock.ExpectQuery("status = ANY").
		WithArgs(date, []string{"scheduled", "confirmed"}).
		WillReturnRows(pgxmock.NewRows(apptCols).
			AddRow("a1", "c1", "w1", "", date, 540, 600, "scheduled", "", now, now))

	appts, err := NewAppointmentRepository(mock, outbox.NewRepository()).
		ListByDateAndStatus(context.Background(), date, []model.Status{model.StatusScheduled, model.StatusConfirmed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 1 || appts[0].StartTime != 540 || appts[0].Status != model.StatusScheduled {
		t.Fatalf("unexpected appointments %+v", appts)
	}
	verify(t, mock)
}

func TestInsertBatchWithGuard(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("2024-01-05 09:00").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT count").
		WithArgs(date, 540, []string{"scheduled", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(
			"a1", "c1", "w1", "s1", date, 540, 600, "scheduled", nil,
			"a2", "c1", "w1", "s1", date.AddDate(0, 0, 7), 540, 600, "pending", nil,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("a1", now, now).
			AddRow("a2", now, now))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(outbox.AggregateAppointment, "a1", outbox.EventAppointmentBooked, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(outbox.AggregateAppointment, "a2", outbox.EventAppointmentBooked, pgxmock.AnyArg(), "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appts := []model.Appointment{
		{ID: "a1", CustomerID: "c1", ScheduleWindowID: "w1", SeriesID: "s1", ScheduledDate: date, StartTime: 540, EndTime: 600, Status: model.StatusScheduled},
		{ID: "a2", CustomerID: "c1", ScheduleWindowID: "w1", SeriesID: "s1", ScheduledDate: date.AddDate(0, 0, 7), StartTime: 540, EndTime: 600, Status: model.StatusPending},
	}
	guard := &model.CapacityGuard{Date: date, StartTime: 540, Max: 3, Statuses: []model.Status{model.StatusScheduled, model.StatusConfirmed}}

	out, err := NewAppointmentRepository(mock, outbox.NewRepository()).InsertBatch(context.Background(), appts, guard)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(out) != 2 || out[1].Status != model.StatusPending || out[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected result %+v", out)
	}
	verify(t, mock)
}

func TestInsertBatchGuardRejectsFullSlot(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("2024-01-05 09:00").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT count").
		WithArgs(date, 540, []string{"scheduled"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	appts := []model.Appointment{{ID: "a1", CustomerID: "c1", ScheduledDate: date, StartTime: 540, EndTime: 600, Status: model.StatusScheduled}}
	guard := &model.CapacityGuard{Date: date, StartTime: 540, Max: 3, Statuses: []model.Status{model.StatusScheduled}}

	_, err := NewAppointmentRepository(mock, outbox.NewRepository()).InsertBatch(context.Background(), appts, guard)
	if !errors.Is(err, model.ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull, got %v", err)
	}
	verify(t, mock)
}

func TestInsertBatchConstraintViolationRollsBack(t *testing.T) {
	mock := newMock(t)
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key"})
	mock.ExpectRollback()

	appts := []model.Appointment{{ID: "a1", CustomerID: "ghost", ScheduledDate: date, StartTime: 540, EndTime: 600, Status: model.StatusScheduled}}
	_, err := NewAppointmentRepository(mock, outbox.NewRepository()).InsertBatch(context.Background(), appts, nil)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		t.Fatalf("expected pg error 23503, got %v", err)
	}
	verify(t, mock)
}

func TestUpdateStatus(t *testing.T) {
	date := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	pendingRow := func() *pgxmock.Rows {
		return pgxmock.NewRows(apptCols).AddRow("a2", "c1", "w1", "s1", date, 540, 600, "pending", "", now, now)
	}

	t.Run("confirm", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("a2").WillReturnRows(pendingRow())
		mock.ExpectQuery("UPDATE appointments").
			WithArgs("a2", "confirmed").
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectExec("INSERT INTO outbox_events").
			WithArgs(outbox.AggregateAppointment, "a2", outbox.EventAppointmentStatusChanged, pgxmock.AnyArg(), "", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		appt, prev, changed, err := NewAppointmentRepository(mock, outbox.NewRepository()).UpdateStatus(context.Background(), model.StatusChange{
			AppointmentID: "a2",
			From:          []model.Status{model.StatusScheduled, model.StatusPending},
			To:            model.StatusConfirmed,
		})
		if err != nil || !changed || prev != model.StatusPending || appt.Status != model.StatusConfirmed {
			t.Fatalf("unexpected %+v %s %v %v", appt, prev, changed, err)
		}
		verify(t, mock)
	})

	t.Run("other customer", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("a2").WillReturnRows(pendingRow())
		mock.ExpectRollback()

		_, _, _, err := NewAppointmentRepository(mock, outbox.NewRepository()).UpdateStatus(context.Background(), model.StatusChange{
			AppointmentID: "a2",
			CustomerID:    "c2",
			From:          []model.Status{model.StatusPending},
			To:            model.StatusCancelled,
		})
		if !errors.Is(err, model.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		verify(t, mock)
	})

	t.Run("already at target", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("a2").WillReturnRows(pendingRow())
		mock.ExpectRollback()

		_, _, changed, err := NewAppointmentRepository(mock, outbox.NewRepository()).UpdateStatus(context.Background(), model.StatusChange{
			AppointmentID: "a2",
			From:          []model.Status{model.StatusScheduled},
			To:            model.StatusPending,
		})
		if err != nil || changed {
			t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
		}
		verify(t, mock)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		_, _, _, err := NewAppointmentRepository(mock, outbox.NewRepository()).UpdateStatus(context.Background(), model.StatusChange{
			AppointmentID: "nope",
			To:            model.StatusCancelled,
		})
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		verify(t, mock)
	})
}
