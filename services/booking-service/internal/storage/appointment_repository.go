package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

type AppointmentRepository struct {
	conn   db.Conn
	outbox *outbox.Repository
	now    func() time.Time
}

func NewAppointmentRepository(conn db.Conn, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{conn: conn, outbox: outboxRepo, now: time.Now}
}

const appointmentColumns = `id, customer_id, COALESCE(schedule_window_id::text, ''), COALESCE(series_id::text, ''),
	scheduled_date, start_minute, end_minute, status, COALESCE(notes, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var start, end int
	var status string
	if err := row.Scan(&a.ID, &a.CustomerID, &a.ScheduleWindowID, &a.SeriesID, &a.ScheduledDate, &start, &end,
		&status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Appointment{}, err
	}
	a.ScheduledDate = model.DateOf(a.ScheduledDate)
	a.StartTime = model.Clock(start)
	a.EndTime = model.Clock(end)
	a.Status = model.Status(status)
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListByDateAndStatus returns appointments on date ordered by start time. An empty statuses
// slice means every status.
func (r *AppointmentRepository) ListByDateAndStatus(ctx context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = r.conn.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE scheduled_date = $1
			ORDER BY start_minute, created_at
		`, model.DateOf(date))
	} else {
		rows, err = r.conn.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE scheduled_date = $1 AND status = ANY($2)
			ORDER BY start_minute, created_at
		`, model.DateOf(date), model.StatusStrings(statuses))
	}
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *AppointmentRepository) ListByCustomer(ctx context.Context, customerID string) ([]model.Appointment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE customer_id = $1
		ORDER BY scheduled_date, start_minute
	`, customerID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// SlotLockKey identifies one (date, start time) slot for pg_advisory_xact_lock.
func SlotLockKey(date time.Time, start model.Clock) string {
	return model.FormatDate(date) + " " + start.String()
}

// InsertBatch writes every appointment in a single multi-row insert plus one outbox event per row,
// all in one transaction. With a guard, the slot is locked and re-counted first and the batch is
// refused with model.ErrSlotFull when the slot is already at capacity.
func (r *AppointmentRepository) InsertBatch(ctx context.Context, appts []model.Appointment, guard *model.CapacityGuard) ([]model.Appointment, error) {
	if len(appts) == 0 {
		return nil, nil
	}
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if guard != nil {
		if err := checkCapacity(ctx, tx, *guard); err != nil {
			return nil, err
		}
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(appts)*9)
	)
	sb.WriteString(`INSERT INTO appointments
		(id, customer_id, schedule_window_id, series_id, scheduled_date, start_minute, end_minute, status, notes)
		VALUES `)
	for i, a := range appts {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 9
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9)
		args = append(args, a.ID, a.CustomerID, nullable(a.ScheduleWindowID), nullable(a.SeriesID),
			model.DateOf(a.ScheduledDate), int(a.StartTime), int(a.EndTime), string(a.Status), nullable(a.Notes))
	}
	sb.WriteString(" RETURNING id, created_at, updated_at")

	rows, err := tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	stamps := make(map[string][2]time.Time, len(appts))
	for rows.Next() {
		var id string
		var created, updated time.Time
		if err := rows.Scan(&id, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		stamps[id] = [2]time.Time{created, updated}
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	now := r.now()
	out := make([]model.Appointment, len(appts))
	for i, a := range appts {
		a.ScheduledDate = model.DateOf(a.ScheduledDate)
		if ts, ok := stamps[a.ID]; ok {
			a.CreatedAt, a.UpdatedAt = ts[0], ts[1]
		}
		out[i] = a

		evt, err := outbox.AppointmentBooked(a, now)
		if err != nil {
			return nil, err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func checkCapacity(ctx context.Context, tx pgx.Tx, g model.CapacityGuard) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, SlotLockKey(g.Date, g.StartTime)); err != nil {
		return err
	}
	var booked int
	if err := tx.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE scheduled_date = $1 AND start_minute = $2 AND status = ANY($3)
	`, model.DateOf(g.Date), int(g.StartTime), model.StatusStrings(g.Statuses)).Scan(&booked); err != nil {
		return err
	}
	if booked >= g.Max {
		return model.ErrSlotFull
	}
	return nil
}

// UpdateStatus applies change under a row lock. It reports changed=false, with no write, when the
// appointment already has the target status.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, change model.StatusChange) (appt model.Appointment, previous model.Status, changed bool, err error) {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return model.Appointment{}, "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err = scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, change.AppointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, "", false, model.ErrNotFound
		}
		return model.Appointment{}, "", false, err
	}
	if change.CustomerID != "" && appt.CustomerID != change.CustomerID {
		return model.Appointment{}, "", false, model.ErrForbidden
	}
	previous = appt.Status
	if appt.Status == change.To {
		return appt, previous, false, nil
	}
	if !model.ContainsStatus(change.From, appt.Status) {
		return appt, previous, false, model.ErrStatusConflict
	}

	if err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, appt.ID, string(change.To)).Scan(&appt.UpdatedAt); err != nil {
		return model.Appointment{}, "", false, err
	}
	appt.Status = change.To

	evt, err := outbox.AppointmentStatusChanged(appt, previous, r.now())
	if err != nil {
		return model.Appointment{}, "", false, err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, "", false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, "", false, err
	}
	return appt, previous, true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
