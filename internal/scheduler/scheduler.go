// Package scheduler decides whether a requested time window can be booked
// with a provider. It is the only place that accepts or rejects new slots.
//
// A nil error from ProposeSlot is a promise, not a reservation: the caller
// must insert the booking inside the same per-provider critical section that
// ran the check.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/reason"
)

var (
	ErrPastSlot            = reason.New(reason.CodePastSlot, reason.KindValidation, "slot must start and end in the future")
	ErrOutsideAvailability = reason.New(reason.CodeOutsideAvailability, reason.KindValidation, "slot is outside provider availability")
	ErrInvalidDuration     = reason.New(reason.CodeInvalidDuration, reason.KindValidation, "slot duration is invalid")
	ErrSlotConflict        = reason.New(reason.CodeSlotConflict, reason.KindConflict, "slot overlaps an existing booking")
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is the half-open overlap test. Touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

// WindowSource is the part of the availability store the scheduler reads.
type WindowSource interface {
	GetWeeklyWindow(ctx context.Context, providerID uuid.UUID, day time.Weekday) (availability.Window, bool, error)
}

// Occupancy lists a provider's bookings that still hold their slot
// (pending, confirmed or in progress) and intersect [from, to).
type Occupancy interface {
	ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Interval, error)
}

type Scheduler struct {
	windows    WindowSource
	occupancy  Occupancy
	clock      clock.Clock
	loc        *time.Location
	minMinutes int64
}

func New(windows WindowSource, occupancy Occupancy, clk clock.Clock, loc *time.Location, minMinutes int64) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		windows:    windows,
		occupancy:  occupancy,
		clock:      clk,
		loc:        loc,
		minMinutes: minMinutes,
	}
}

// ProposeSlot returns nil when the slot is acceptable, or one of the
// scheduler sentinel errors.
func (s *Scheduler) ProposeSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time) error {
	if !start.Before(end) {
		return ErrInvalidDuration
	}
	if s.minMinutes > 0 && end.Sub(start) < time.Duration(s.minMinutes)*time.Minute {
		return fmt.Errorf("%w: shorter than %d minutes", ErrInvalidDuration, s.minMinutes)
	}

	now := s.clock.Now()
	if !start.After(now) || !end.After(now) {
		return ErrPastSlot
	}

	if err := s.checkAvailability(ctx, providerID, start, end); err != nil {
		return err
	}

	return s.checkConflicts(ctx, providerID, Interval{Start: start, End: end})
}

func (s *Scheduler) checkAvailability(ctx context.Context, providerID uuid.UUID, start, end time.Time) error {
	startSec, endSec, ok := secondsOfDay(start.In(s.loc), end.In(s.loc))
	if !ok {
		return fmt.Errorf("%w: slot spans a weekday boundary", ErrOutsideAvailability)
	}

	day := start.In(s.loc).Weekday()
	window, open, err := s.windows.GetWeeklyWindow(ctx, providerID, day)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}
	if !open {
		return fmt.Errorf("%w: provider closed on %s", ErrOutsideAvailability, day)
	}

	if startSec < window.StartMinute*60 || endSec > window.EndMinute*60 {
		return fmt.Errorf("%w: open %s on %s", ErrOutsideAvailability, window, day)
	}
	return nil
}

func (s *Scheduler) checkConflicts(ctx context.Context, providerID uuid.UUID, slot Interval) error {
	existing, err := s.occupancy.ActiveIntervals(ctx, providerID, slot.Start, slot.End)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	for _, iv := range existing {
		if iv.Overlaps(slot) {
			return ErrSlotConflict
		}
	}
	return nil
}

// secondsOfDay converts start and end (already in the scheduling zone) to
// seconds since the start day's midnight. An end exactly at the following
// midnight maps to 86400; any other end on a later day fails.
func secondsOfDay(start, end time.Time) (startSec, endSec int, ok bool) {
	startSec = start.Hour()*3600 + start.Minute()*60 + start.Second()

	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed {
		return startSec, end.Hour()*3600 + end.Minute()*60 + end.Second(), true
	}

	ny, nm, nd := start.AddDate(0, 0, 1).Date()
	atMidnight := end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 && end.Nanosecond() == 0
	if ey == ny && em == nm && ed == nd && atMidnight {
		return startSec, availability.MinutesPerDay * 60, true
	}
	return 0, 0, false
}
