package domain

import (
	"errors"
	"time"
)

// The agenda is a grid of half-hour blocks over a single clinic day.
const (
	BlockLength = 30 * time.Minute
	SlotsPerDay = 48
)

type SlotStatus string

const (
	// SlotOccupied: an existing appointment covers the slot instant.
	SlotOccupied SlotStatus = "occupied"
	// SlotPast: the slot instant is strictly before the reference time.
	SlotPast SlotStatus = "past"
	// SlotAvailable: the slot and every following block of the
	// requested duration are free and not past.
	SlotAvailable SlotStatus = "available"
	// SlotUnavailable: the slot itself is free and not past, but the
	// requested duration would run into an occupied block, a past
	// block, or beyond the end of the day.
	SlotUnavailable SlotStatus = "unavailable"
)

// TimeSlot is one half-hour cell of a clinic day. Day is midnight of
// the slot's day in the clinic location.
type TimeSlot struct {
	Day    time.Time
	Hour   int
	Minute int
}

// NewTimeSlot builds the slot a caller picked from the agenda grid.
// Hour must be in [0,23] and minute must be 0 or 30; anything else is
// a caller bug and is rejected rather than producing a nonsense slot.
func NewTimeSlot(day time.Time, hour, minute int) (TimeSlot, error) {
	if hour < 0 || hour > 23 {
		return TimeSlot{}, errors.New("invalid hour")
	}
	if minute != 0 && minute != 30 {
		return TimeSlot{}, errors.New("invalid minute")
	}
	return TimeSlot{Day: Midnight(day), Hour: hour, Minute: minute}, nil
}

// Midnight truncates t to the start of its day, keeping the location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Instant is the exact start of the slot.
func (s TimeSlot) Instant() time.Time {
	return time.Date(s.Day.Year(), s.Day.Month(), s.Day.Day(), s.Hour, s.Minute, 0, 0, s.Day.Location())
}

// OccupyingCita returns the first appointment whose interval covers
// the slot instant. Intervals are half-open: a slot starting exactly
// when an appointment ends is free. When appointments overlap (which
// the write path prevents, but imported data may not), the first match
// in input order wins and the choice is arbitrary; callers receive
// rows ordered by start time then id.
func OccupyingCita(slot TimeSlot, citas []Appointment) (Appointment, bool) {
	at := slot.Instant()
	for _, c := range citas {
		if !at.Before(c.StartTime) && at.Before(c.EndsAt()) {
			return c, true
		}
	}
	return Appointment{}, false
}

// IsOccupied reports whether any appointment covers the slot instant.
func IsOccupied(slot TimeSlot, citas []Appointment) bool {
	_, ok := OccupyingCita(slot, citas)
	return ok
}

// IsPast reports whether the slot instant has already elapsed relative
// to now. A slot on an earlier day is always past, a slot on a later
// day never is; comparing instants gives exactly that.
func IsPast(slot TimeSlot, now time.Time) bool {
	return slot.Instant().Before(now)
}

// CanBookContiguous reports whether a booking of durationBlocks
// half-hour blocks starting at start would fit: every constituent
// block must stay within the same calendar day (no crossing midnight),
// be unoccupied, and not be past. This is the submit-time feasibility
// check as well as the per-slot availability test for the agenda.
func CanBookContiguous(start TimeSlot, durationBlocks int, citas []Appointment, now time.Time) bool {
	if durationBlocks < 1 {
		return false
	}
	for i := 0; i < durationBlocks; i++ {
		minutes := start.Hour*60 + start.Minute + i*30
		if minutes >= 24*60 {
			return false
		}
		block := TimeSlot{Day: start.Day, Hour: minutes / 60, Minute: minutes % 60}
		if IsOccupied(block, citas) {
			return false
		}
		if IsPast(block, now) {
			return false
		}
	}
	return true
}

// DaySlot is one classified cell of the agenda grid.
type DaySlot struct {
	Slot   TimeSlot
	Status SlotStatus
	Cita   *Appointment
}

// ClassifyDay classifies all 48 slots of the given day, in
// chronological order from 00:00 to 23:30, for a requested booking
// length of durationBlocks. Statuses are assigned in priority order:
// occupied beats past beats the duration feasibility split. The result
// depends only on the arguments; now is injected so callers control
// the past boundary.
func ClassifyDay(day time.Time, citas []Appointment, durationBlocks int, now time.Time) ([]DaySlot, error) {
	if durationBlocks < 1 {
		return nil, errors.New("invalid duration")
	}

	d := Midnight(day)
	out := make([]DaySlot, 0, SlotsPerDay)
	for i := 0; i < SlotsPerDay; i++ {
		slot := TimeSlot{Day: d, Hour: i / 2, Minute: (i % 2) * 30}
		ds := DaySlot{Slot: slot}
		if c, ok := OccupyingCita(slot, citas); ok {
			cita := c
			ds.Status = SlotOccupied
			ds.Cita = &cita
		} else if IsPast(slot, now) {
			ds.Status = SlotPast
		} else if CanBookContiguous(slot, durationBlocks, citas, now) {
			ds.Status = SlotAvailable
		} else {
			ds.Status = SlotUnavailable
		}
		out = append(out, ds)
	}
	return out, nil
}
