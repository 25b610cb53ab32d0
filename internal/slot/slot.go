package slot

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PerDay is the number of 10-minute slots between 09:00 and 17:50.
	PerDay = 54

	Minutes   = 10
	openHour  = 9
	closeHour = 18
)

var (
	ErrOutOfBusinessHours  = errors.New("time is outside business hours (09:00-17:50)")
	ErrNotTenMinuteAligned = errors.New("time is not on a 10-minute boundary")
	ErrInvalidTime         = errors.New("time must be formatted as HH:MM")
	ErrIndexOutOfRange     = errors.New("slot index out of range")
)

var canonical = func() [PerDay]string {
	var out [PerDay]string
	for i := 0; i < PerDay; i++ {
		out[i] = fmt.Sprintf("%02d:%02d", openHour+i/6, (i%6)*Minutes)
	}
	return out
}()

// ToIndex maps an hour and minute to its slot position.
func ToIndex(hour, minute int) (int, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, ErrInvalidTime
	}
	total := hour*60 + minute
	if total < openHour*60 || total > closeHour*60-Minutes {
		return 0, ErrOutOfBusinessHours
	}
	if minute%Minutes != 0 {
		return 0, ErrNotTenMinuteAligned
	}
	return (hour-openHour)*6 + minute/Minutes, nil
}

// ToTime is the inverse of ToIndex.
func ToTime(index int) (hour, minute int, err error) {
	if index < 0 || index >= PerDay {
		return 0, 0, ErrIndexOutOfRange
	}
	return openHour + index/6, (index % 6) * Minutes, nil
}

// Parse reads an "HH:MM" string and returns its slot index.
func Parse(s string) (int, error) {
	h, m, err := parseClock(s)
	if err != nil {
		return 0, err
	}
	return ToIndex(h, m)
}

// Format returns the canonical "HH:MM" label of a slot.
func Format(index int) string {
	if index < 0 || index >= PerDay {
		return ""
	}
	return canonical[index]
}

// End returns the "HH:MM" at which the slot finishes.
func End(index int) string {
	h, m, err := ToTime(index)
	if err != nil {
		return ""
	}
	m += Minutes
	if m == 60 {
		h, m = h+1, 0
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Canonical returns the 54 slot labels in ascending order.
func Canonical() []string {
	out := make([]string, PerDay)
	copy(out, canonical[:])
	return out
}

// At combines a calendar date with a slot start into a wall-clock instant.
func At(date time.Time, index int) time.Time {
	h, m, _ := ToTime(index)
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, time.UTC)
}

// Window is a half-open slot range [Start, End) used by weekly templates.
type Window struct {
	Start int
	End   int
}

// Contains reports whether a slot index lies inside the window.
func (w Window) Contains(index int) bool {
	return index >= w.Start && index < w.End
}

// StartLabel returns the window start as "HH:MM".
func (w Window) StartLabel() string { return boundaryLabel(w.Start) }

// EndLabel returns the window end as "HH:MM"; 18:00 is a valid end.
func (w Window) EndLabel() string { return boundaryLabel(w.End) }

// ParseWindow validates a weekly window: both ends aligned to 10 minutes,
// 09:00 <= start < end <= 18:00.
func ParseWindow(start, end string) (Window, error) {
	sh, sm, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	if sm%Minutes != 0 || em%Minutes != 0 {
		return Window{}, ErrNotTenMinuteAligned
	}
	s := sh*60 + sm
	e := eh*60 + em
	if s < openHour*60 || e > closeHour*60 {
		return Window{}, ErrOutOfBusinessHours
	}
	if s >= e {
		return Window{}, fmt.Errorf("window start %s must be before end %s", start, end)
	}
	return Window{Start: (s - openHour*60) / Minutes, End: (e - openHour*60) / Minutes}, nil
}

func boundaryLabel(b int) string {
	total := openHour*60 + b*Minutes
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func parseClock(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, ErrInvalidTime
	}
	h, ok1 := twoDigits(s[0:2])
	m, ok2 := twoDigits(s[3:5])
	if !ok1 || !ok2 || h > 23 || m > 59 {
		return 0, 0, ErrInvalidTime
	}
	return h, m, nil
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}
