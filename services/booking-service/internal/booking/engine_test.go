package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/recurrence"
)

type memSchedules struct {
	mu          sync.Mutex
	windows     []model.ScheduleWindow
	err         error
	calls       int
	createCalls int
}

func (m *memSchedules) ListActive(_ context.Context, day *time.Weekday) ([]model.ScheduleWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []model.ScheduleWindow
	for _, w := range m.windows {
		if w.IsActive && (day == nil || w.DayOfWeek == *day) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memSchedules) ListAll(context.Context) ([]model.ScheduleWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return append([]model.ScheduleWindow(nil), m.windows...), m.err
}

func (m *memSchedules) CreateMany(_ context.Context, windows []model.ScheduleWindow) ([]model.ScheduleWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.err != nil {
		return nil, m.err
	}
	m.windows = append(m.windows, windows...)
	return windows, nil
}

func (m *memSchedules) SetActive(_ context.Context, id string, active bool) (model.ScheduleWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.windows {
		if m.windows[i].ID == id {
			m.windows[i].IsActive = active
			return m.windows[i], nil
		}
	}
	return model.ScheduleWindow{}, model.ErrNotFound
}

type memAppointments struct {
	mu          sync.Mutex
	appts       []model.Appointment
	insertCalls int
	guards      []*model.CapacityGuard
	insertErr   error
	calls       int
}

func (m *memAppointments) ListByDateAndStatus(_ context.Context, date time.Time, statuses []model.Status) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []model.Appointment
	for _, a := range m.appts {
		if a.ScheduledDate.Equal(date) && (len(statuses) == 0 || model.ContainsStatus(statuses, a.Status)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAppointments) ListByCustomer(_ context.Context, customerID string) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []model.Appointment
	for _, a := range m.appts {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAppointments) InsertBatch(_ context.Context, appts []model.Appointment, guard *model.CapacityGuard) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.insertCalls++
	m.guards = append(m.guards, guard)
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if guard != nil {
		n := 0
		for _, a := range m.appts {
			if a.ScheduledDate.Equal(guard.Date) && a.StartTime == guard.StartTime && model.ContainsStatus(guard.Statuses, a.Status) {
				n++
			}
		}
		if n >= guard.Max {
			return nil, model.ErrSlotFull
		}
	}
	m.appts = append(m.appts, appts...)
	return appts, nil
}

func (m *memAppointments) UpdateStatus(_ context.Context, change model.StatusChange) (model.Appointment, model.Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for i := range m.appts {
		a := &m.appts[i]
		if a.ID != change.AppointmentID {
			continue
		}
		if change.CustomerID != "" && a.CustomerID != change.CustomerID {
			return model.Appointment{}, "", false, model.ErrForbidden
		}
		prev := a.Status
		if prev == change.To {
			return *a, prev, false, nil
		}
		if !model.ContainsStatus(change.From, prev) {
			return *a, prev, false, model.ErrStatusConflict
		}
		a.Status = change.To
		return *a, prev, true, nil
	}
	return model.Appointment{}, "", false, model.ErrNotFound
}

type countingMetrics struct {
	mu          sync.Mutex
	bookings    map[string]int
	transitions int
}

func (c *countingMetrics) ObserveBooking(recurring bool, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bookings == nil {
		c.bookings = map[string]int{}
	}
	c.bookings[fmt.Sprintf("%v/%s", recurring, outcome)]++
}

func (c *countingMetrics) ObserveTransition(string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions++
}

func (c *countingMetrics) ObserveStore(string, time.Time, error) {}

var (
	today  = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) // Monday
	friday = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
)

func fridayWindow(capacity int) model.ScheduleWindow {
	return model.ScheduleWindow{ID: "w-fri", DayOfWeek: time.Friday, StartTime: 540, EndTime: 1020, MaxAppointments: capacity, IsActive: true}
}

func newTestEngine(s *memSchedules, a *memAppointments, m Metrics, enforce bool) *Engine {
	n := 0
	var mu sync.Mutex
	return NewEngine(s, a, slog.New(slog.NewTextHandler(io.Discard, nil)), m, Config{
		EnforceCapacity: enforce,
		Now:             func() time.Time { return today },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
}

func nineAM() *SlotSelection { return &SlotSelection{StartTime: 540, EndTime: 600} }

func TestBook_NoCustomerIsValidationErrorWithoutWrites(t *testing.T) {
	s := &memSchedules{windows: []model.ScheduleWindow{fridayWindow(3)}}
	a := &memAppointments{}
	e := newTestEngine(s, a, nil, true)

	_, err := e.Book(context.Background(), Request{Date: friday, Slot: nineAM()})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != CodeNotAuthenticated {
		t.Fatalf("expected not_authenticated ValidationError, got %v", err)
	}
	if a.calls != 0 || s.calls != 0 {
		t.Fatalf("expected zero store calls, got appointments=%d schedules=%d", a.calls, s.calls)
	}
}

func TestBook_IncompleteSelection(t *testing.T) {
	e := newTestEngine(&memSchedules{}, &memAppointments{}, nil, true)
	for _, req := range []Request{
		{CustomerID: "c1", Slot: nineAM()},
		{CustomerID: "c1", Date: friday},
	} {
		_, err := e.Book(context.Background(), req)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Code != CodeIncompleteSelection {
			t.Fatalf("expected incomplete_selection, got %v", err)
		}
	}
}

func TestBook_RejectsPastDateAndUnofferedSlot(t *testing.T) {
	a := &memAppointments{}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(3)}}, a, nil, true)

	_, err := e.Book(context.Background(), Request{CustomerID: "c1", Date: time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), Slot: nineAM()})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "date" {
		t.Fatalf("expected date validation error, got %v", err)
	}

	_, err = e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: &SlotSelection{StartTime: 1020}})
	if !errors.As(err, &verr) || verr.Field != "slot" {
		t.Fatalf("expected slot validation error, got %v", err)
	}

	_, err = e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: &SlotSelection{WindowID: "other", StartTime: 540}})
	if !errors.As(err, &verr) || verr.Field != "slot" {
		t.Fatalf("expected slot validation error for unknown window, got %v", err)
	}
	if a.insertCalls != 0 {
		t.Fatalf("expected no inserts, got %d", a.insertCalls)
	}
}

func TestBook_Single(t *testing.T) {
	a := &memAppointments{}
	m := &countingMetrics{}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(3)}}, a, m, true)

	res, err := e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: nineAM(), Notes: "first visit"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(res.Appointments) != 1 || res.SeriesID != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	appt := res.Appointments[0]
	if appt.Status != model.StatusScheduled || appt.ScheduleWindowID != "w-fri" || appt.EndTime != 600 || appt.Notes != "first visit" {
		t.Fatalf("unexpected appointment %+v", appt)
	}
	if ids := res.AppointmentIDs(); len(ids) != 1 || ids[0] != appt.ID {
		t.Fatalf("unexpected ids %v", ids)
	}
	if m.bookings["false/ok"] != 1 {
		t.Fatalf("unexpected metrics %v", m.bookings)
	}
}

func TestBook_RecurringIsOneBatch(t *testing.T) {
	a := &memAppointments{}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(3)}}, a, nil, true)

	res, err := e.Book(context.Background(), Request{
		CustomerID: "c1",
		Date:       friday,
		Slot:       nineAM(),
		Recurring:  &RecurringOptions{Frequency: recurrence.Weekly, Count: 3},
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if a.insertCalls != 1 {
		t.Fatalf("expected a single batch insert, got %d", a.insertCalls)
	}
	if len(res.Appointments) != 3 || res.SeriesID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	wantDates := []string{"2024-01-05", "2024-01-12", "2024-01-19"}
	for i, appt := range res.Appointments {
		if model.FormatDate(appt.ScheduledDate) != wantDates[i] || appt.SeriesID != res.SeriesID {
			t.Fatalf("appointment %d: unexpected %+v", i, appt)
		}
		want := model.StatusPending
		if i == 0 {
			want = model.StatusScheduled
		}
		if appt.Status != want {
			t.Fatalf("appointment %d: expected %s, got %s", i, want, appt.Status)
		}
	}
	g := a.guards[0]
	if g == nil || !g.Date.Equal(friday) || g.StartTime != 540 || g.Max != 3 {
		t.Fatalf("guard should cover only the anchor slot, got %+v", g)
	}

	_, err = e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: nineAM(), Recurring: &RecurringOptions{Frequency: recurrence.Weekly, Count: 13}})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "recurring" {
		t.Fatalf("expected recurring validation error, got %v", err)
	}
}

func TestBook_CapacityGuard(t *testing.T) {
	a := &memAppointments{}
	m := &countingMetrics{}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(1)}}, a, m, true)

	if _, err := e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: nineAM()}); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := e.Book(context.Background(), Request{CustomerID: "c2", Date: friday, Slot: nineAM()}); !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull, got %v", err)
	}
	if m.bookings["false/slot_full"] != 1 {
		t.Fatalf("unexpected metrics %v", m.bookings)
	}

	// Without enforcement the legacy check-then-act behaviour over-books.
	legacy := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(1)}}, a, nil, false)
	if _, err := legacy.Book(context.Background(), Request{CustomerID: "c3", Date: friday, Slot: nineAM()}); err != nil {
		t.Fatalf("legacy booking: %v", err)
	}
	if a.guards[len(a.guards)-1] != nil {
		t.Fatal("expected no guard when enforcement is off")
	}
}

func TestBook_OverlappingWindowsWithoutWindowID(t *testing.T) {
	small := model.ScheduleWindow{ID: "a-small", DayOfWeek: time.Friday, StartTime: 540, EndTime: 720, MaxAppointments: 1, IsActive: true}
	large := model.ScheduleWindow{ID: "b-large", DayOfWeek: time.Friday, StartTime: 540, EndTime: 720, MaxAppointments: 3, IsActive: true}
	a := &memAppointments{appts: []model.Appointment{
		{ID: "existing", CustomerID: "c0", ScheduleWindowID: "a-small", ScheduledDate: friday, StartTime: 540, EndTime: 600, Status: model.StatusScheduled},
	}}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{small, large}}, a, nil, true)

	res, err := e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: &SlotSelection{StartTime: 540}})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if got := res.Appointments[0].ScheduleWindowID; got != "b-large" {
		t.Fatalf("expected the larger window, got %s", got)
	}
	if g := a.guards[0]; g == nil || g.Max != 3 {
		t.Fatalf("guard should use the larger window's capacity, got %+v", g)
	}

	// An explicit window id is honoured even when it is the full one.
	_, err = e.Book(context.Background(), Request{CustomerID: "c2", Date: friday, Slot: &SlotSelection{WindowID: "a-small", StartTime: 540}})
	if !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull for the small window, got %v", err)
	}
}

func TestBook_ConcurrentLastSeat(t *testing.T) {
	a := &memAppointments{}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(1)}}, a, nil, true)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Book(context.Background(), Request{CustomerID: fmt.Sprintf("c%d", i), Date: friday, Slot: nineAM()})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || full != n-1 {
		t.Fatalf("expected exactly one booking, got ok=%d full=%d", ok, full)
	}
}

func TestBook_StoreErrorCarriesUserMessage(t *testing.T) {
	a := &memAppointments{insertErr: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})}
	e := newTestEngine(&memSchedules{windows: []model.ScheduleWindow{fridayWindow(3)}}, a, nil, true)

	_, err := e.Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: nineAM()})
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if serr.Code != "23505" || serr.Message != "this appointment has already been booked" || serr.Op != "insert_batch" {
		t.Fatalf("unexpected store error %+v", serr)
	}

	s := &memSchedules{err: errors.New("connection refused")}
	_, err = newTestEngine(s, &memAppointments{}, nil, true).Book(context.Background(), Request{CustomerID: "c1", Date: friday, Slot: nineAM()})
	if !errors.As(err, &serr) || serr.Code != "" {
		t.Fatalf("expected generic StoreError, got %v", err)
	}
}
