package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

const MinutesPerDay = 24 * 60

var (
	ErrProviderNotFound = reason.New(reason.CodeNotFound, reason.KindNotFound, "provider not found")
	ErrInvalidWindow    = reason.New(reason.CodeInvalidWindow, reason.KindValidation, "invalid availability window")
)

// Window is a provider's open hours on one weekday, in minutes since midnight.
// End is exclusive and may be 1440 to mean "until midnight".
type Window struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

func (w Window) Contains(startMinute, endMinute int) bool {
	return startMinute >= w.StartMinute && endMinute <= w.EndMinute
}

func (w Window) String() string {
	return FormatClock(w.StartMinute) + "-" + FormatClock(w.EndMinute)
}

// Weekly maps a weekday to its single open window. Days absent from the map are closed.
type Weekly map[time.Weekday]Window

func (wk Weekly) Validate() error {
	for day, w := range wk {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("%w: unknown weekday %d", ErrInvalidWindow, day)
		}
		if w.StartMinute < 0 || w.EndMinute > MinutesPerDay {
			return fmt.Errorf("%w: %s %s out of day bounds", ErrInvalidWindow, day, w)
		}
		if w.StartMinute >= w.EndMinute {
			return fmt.Errorf("%w: %s start must be before end", ErrInvalidWindow, day)
		}
	}
	return nil
}

type Provider struct {
	ID            uuid.UUID
	Name          string
	RatePerMinute int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ParseWeekday accepts English weekday names, case-insensitive, full or three-letter.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidWindow, s)
}

// ParseClock parses "HH:MM" into minutes since midnight. "24:00" is allowed.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		if s == "24:00" {
			return MinutesPerDay, nil
		}
		return 0, fmt.Errorf("%w: bad time %q", ErrInvalidWindow, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock is the inverse of ParseClock.
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
