package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// WeekdaySet is a bitmask of weekdays (bit 0 = Sunday).
type WeekdaySet uint8

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) With(d time.Weekday) WeekdaySet { return s | 1<<uint(d) }

// WeekdaysOf collects the weekdays that have at least one active window.
func WeekdaysOf(windows []model.ScheduleWindow) WeekdaySet {
	var set WeekdaySet
	for _, w := range windows {
		if w.IsActive {
			set = set.With(w.DayOfWeek)
		}
	}
	return set
}

// WeekdayCache stores the active weekday set between schedule changes.
type WeekdayCache interface {
	GetWeekdays(ctx context.Context) (WeekdaySet, bool, error)
	SetWeekdays(ctx context.Context, set WeekdaySet) error
	InvalidateWeekdays(ctx context.Context) error
}

// DayHint is one grid cell of the month view.
type DayHint struct {
	Date     time.Time
	InMonth  bool
	HasSlots bool
}

// Index marks dates that have schedules. It never looks at bookings, so a fully booked date
// still shows as having slots.
type Index struct {
	schedules ScheduleSource
	cache     WeekdayCache
	onError   func(op string, err error)
}

func NewIndex(schedules ScheduleSource, cache WeekdayCache, onCacheError func(op string, err error)) *Index {
	if onCacheError == nil {
		onCacheError = func(string, error) {}
	}
	return &Index{schedules: schedules, cache: cache, onError: onCacheError}
}

func (i *Index) weekdays(ctx context.Context) (WeekdaySet, error) {
	if i.cache != nil {
		set, ok, err := i.cache.GetWeekdays(ctx)
		if err != nil {
			i.onError("get", err)
		} else if ok {
			return set, nil
		}
	}

	windows, err := i.schedules.ListActive(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: schedules: %v", ErrLoadFailed, err)
	}
	set := WeekdaysOf(windows)
	if i.cache != nil {
		if err := i.cache.SetWeekdays(ctx, set); err != nil {
			i.onError("set", err)
		}
	}
	return set, nil
}

// DatesWithSlots returns the dates in [from, to] whose weekday has an active window.
func (i *Index) DatesWithSlots(ctx context.Context, from, to time.Time) (map[string]bool, error) {
	set, err := i.weekdays(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, d := range Dates(model.DateOf(from), model.DateOf(to)) {
		if set.Has(d.Weekday()) {
			out[model.FormatDate(d)] = true
		}
	}
	return out, nil
}

// Month returns the 42-day grid for year/month with a schedule hint per day.
func (i *Index) Month(ctx context.Context, year int, month time.Month) ([]DayHint, error) {
	from, to := CalendarGrid(year, month)
	marked, err := i.DatesWithSlots(ctx, from, to)
	if err != nil {
		return nil, err
	}
	days := Dates(from, to)
	out := make([]DayHint, 0, len(days))
	for _, d := range days {
		out = append(out, DayHint{
			Date:     d,
			InMonth:  d.Month() == month,
			HasSlots: marked[model.FormatDate(d)],
		})
	}
	return out, nil
}

// Invalidate drops the cached weekday set after a schedule change.
func (i *Index) Invalidate(ctx context.Context) error {
	if i.cache == nil {
		return nil
	}
	return i.cache.InvalidateWeekdays(ctx)
}
