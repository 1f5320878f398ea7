package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

type Frequency string

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

const DefaultMaxCount = 12

var (
	ErrUnknownFrequency = errors.New("frequency must be weekly, biweekly or monthly")
	ErrCountOutOfRange  = errors.New("recurring count out of range")
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case Weekly, Biweekly, Monthly:
		return f, nil
	default:
		return "", ErrUnknownFrequency
	}
}

// Occurrence is one date of a series with the status it is created in.
type Occurrence struct {
	Date   time.Time
	Status model.Status
}

// Expand returns count dates starting at anchor. Only the anchor is scheduled; later dates are
// pending until a manager confirms them. Monthly steps keep the anchor's day of month, clamped
// to the last day of shorter months.
func Expand(anchor time.Time, freq Frequency, count, maxCount int) ([]Occurrence, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if count < 1 || count > maxCount {
		return nil, fmt.Errorf("%w: %d (1..%d)", ErrCountOutOfRange, count, maxCount)
	}
	if _, err := ParseFrequency(string(freq)); err != nil {
		return nil, err
	}

	anchor = model.DateOf(anchor)
	out := make([]Occurrence, 0, count)
	for i := 0; i < count; i++ {
		status := model.StatusPending
		if i == 0 {
			status = model.StatusScheduled
		}
		out = append(out, Occurrence{Date: step(anchor, freq, i), Status: status})
	}
	return out, nil
}

func step(anchor time.Time, freq Frequency, i int) time.Time {
	switch freq {
	case Weekly:
		return anchor.AddDate(0, 0, 7*i)
	case Biweekly:
		return anchor.AddDate(0, 0, 14*i)
	default:
		return addMonthsClamped(anchor, i)
	}
}

// addMonthsClamped always steps from the anchor so a clamp in February does not shorten later months.
func addMonthsClamped(anchor time.Time, months int) time.Time {
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
