// Package storage holds the Postgres-backed schedule and appointment stores.
//
// Times of day are stored as minutes since midnight (start_minute, end_minute);
// appointment dates are DATE columns.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

type ScheduleRepository struct {
	conn db.Conn
}

func NewScheduleRepository(conn db.Conn) *ScheduleRepository {
	return &ScheduleRepository{conn: conn}
}

const scheduleColumns = `id, manager_id, day_of_week, start_minute, end_minute, max_appointments, is_active, created_at`

func scanWindow(row pgx.Row) (model.ScheduleWindow, error) {
	var w model.ScheduleWindow
	var day, start, end int
	if err := row.Scan(&w.ID, &w.ManagerID, &day, &start, &end, &w.MaxAppointments, &w.IsActive, &w.CreatedAt); err != nil {
		return model.ScheduleWindow{}, err
	}
	w.DayOfWeek = time.Weekday(day)
	w.StartTime = model.Clock(start)
	w.EndTime = model.Clock(end)
	return w, nil
}

func collectWindows(rows pgx.Rows) ([]model.ScheduleWindow, error) {
	defer rows.Close()
	var out []model.ScheduleWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListActive returns active windows ordered by start time, restricted to day when it is non-nil.
func (r *ScheduleRepository) ListActive(ctx context.Context, day *time.Weekday) ([]model.ScheduleWindow, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if day != nil {
		rows, err = r.conn.Query(ctx, `
			SELECT `+scheduleColumns+`
			FROM schedule_windows
			WHERE is_active AND day_of_week = $1
			ORDER BY start_minute, id
		`, int(*day))
	} else {
		rows, err = r.conn.Query(ctx, `
			SELECT `+scheduleColumns+`
			FROM schedule_windows
			WHERE is_active
			ORDER BY day_of_week, start_minute, id
		`)
	}
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *ScheduleRepository) ListAll(ctx context.Context) ([]model.ScheduleWindow, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedule_windows
		ORDER BY day_of_week, start_minute, id
	`)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

// CreateMany inserts all windows in one transaction.
func (r *ScheduleRepository) CreateMany(ctx context.Context, windows []model.ScheduleWindow) ([]model.ScheduleWindow, error) {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]model.ScheduleWindow, 0, len(windows))
	for _, w := range windows {
		created, err := insertWindow(ctx, tx, w)
		if err != nil {
			return nil, fmt.Errorf("insert window %s %s-%s: %w", w.DayOfWeek, w.StartTime, w.EndTime, err)
		}
		out = append(out, created)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func insertWindow(ctx context.Context, tx pgx.Tx, w model.ScheduleWindow) (model.ScheduleWindow, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO schedule_windows (id, manager_id, day_of_week, start_minute, end_minute, max_appointments, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, w.ID, w.ManagerID, int(w.DayOfWeek), int(w.StartTime), int(w.EndTime), w.MaxAppointments, w.IsActive).Scan(&w.CreatedAt)
	return w, err
}

// SetActive is the only mutation allowed on an existing window.
func (r *ScheduleRepository) SetActive(ctx context.Context, id string, active bool) (model.ScheduleWindow, error) {
	w, err := scanWindow(r.conn.QueryRow(ctx, `
		UPDATE schedule_windows
		SET is_active = $2
		WHERE id = $1
		RETURNING `+scheduleColumns, id, active))
	if db.IsNotFound(err) {
		return model.ScheduleWindow{}, model.ErrNotFound
	}
	return w, err
}
