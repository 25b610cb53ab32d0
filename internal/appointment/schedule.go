package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// ConfirmFunc is shown the reservations a window change would cancel and
// reports whether to go ahead.
type ConfirmFunc func(affected []ReservationRecord) bool

func (s *Service) WeeklyTemplate(ctx context.Context, who Identity, doctorID string) (WeeklyTemplate, error) {
	if err := authorizeDoctor(who, doctorID); err != nil {
		return WeeklyTemplate{}, err
	}
	return s.stores.Doctors.WeeklyTemplate(doctorID)
}

// SetWeeklyWindow opens a weekday that has no window yet.
func (s *Service) SetWeeklyWindow(ctx context.Context, who Identity, doctorID string, day time.Weekday, start, end string) error {
	if err := authorizeDoctor(who, doctorID); err != nil {
		return err
	}
	win, err := parseWindow(start, end)
	if err != nil {
		return err
	}

	err = s.withWriter(ctx, func(ctx context.Context) error {
		tpl, err := s.stores.Doctors.WeeklyTemplate(doctorID)
		if err != nil {
			return err
		}
		if cur, ok := tpl.For(day); ok {
			return fmt.Errorf("%w: %s %s-%s", ErrWindowAlreadySet, DayCode(day), cur.StartLabel(), cur.EndLabel())
		}
		return s.stores.Doctors.SaveWeeklyTemplate(doctorID, tpl.With(day, &win))
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("doctor_id", doctorID).Str("day", DayCode(day)).Str("window", start+"-"+end).Msg("weekly window set")
	s.logEvent(ctx, who, EventWeeklyWindowChanged, "", map[string]any{
		"doctor_id": doctorID, "day": DayCode(day), "start": start, "end": end, "change": "set",
	})
	return nil
}

// ModifyWeeklyWindow replaces an existing window. Future Booked
// reservations that fall outside the new window are passed to confirm and
// canceled when it agrees; declining leaves everything unchanged.
func (s *Service) ModifyWeeklyWindow(ctx context.Context, who Identity, doctorID string, day time.Weekday, start, end string, confirm ConfirmFunc) ([]ReservationRecord, error) {
	if err := authorizeDoctor(who, doctorID); err != nil {
		return nil, err
	}
	win, err := parseWindow(start, end)
	if err != nil {
		return nil, err
	}
	outside := func(idx int) bool { return !win.Contains(idx) }

	canceled, err := s.changeWindow(ctx, doctorID, day, &win, outside, confirm, false)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("doctor_id", doctorID).Str("day", DayCode(day)).Str("window", start+"-"+end).Int("canceled", len(canceled)).Msg("weekly window modified")
	s.logEvent(ctx, who, EventWeeklyWindowChanged, "", map[string]any{
		"doctor_id": doctorID, "day": DayCode(day), "start": start, "end": end, "change": "modify", "canceled": recordIDs(canceled),
	})
	s.logCascade(ctx, who, canceled)
	return canceled, nil
}

// DeleteWeeklyWindow closes a weekday. Every future Booked reservation on
// that weekday is canceled once confirm agrees. confirm is always asked,
// even when nothing would be canceled.
func (s *Service) DeleteWeeklyWindow(ctx context.Context, who Identity, doctorID string, day time.Weekday, confirm ConfirmFunc) ([]ReservationRecord, error) {
	if err := authorizeDoctor(who, doctorID); err != nil {
		return nil, err
	}
	allSlots := func(int) bool { return true }

	canceled, err := s.changeWindow(ctx, doctorID, day, nil, allSlots, confirm, true)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("doctor_id", doctorID).Str("day", DayCode(day)).Int("canceled", len(canceled)).Msg("weekly window deleted")
	s.logEvent(ctx, who, EventWeeklyWindowChanged, "", map[string]any{
		"doctor_id": doctorID, "day": DayCode(day), "change": "delete", "canceled": recordIDs(canceled),
	})
	s.logCascade(ctx, who, canceled)
	return canceled, nil
}

// changeWindow asks for confirmation outside the writer lock, then
// re-checks the affected set under it before canceling and saving.
func (s *Service) changeWindow(ctx context.Context, doctorID string, day time.Weekday, win *slot.Window, affectedSlot func(int) bool, confirm ConfirmFunc, alwaysConfirm bool) ([]ReservationRecord, error) {
	tpl, err := s.stores.Doctors.WeeklyTemplate(doctorID)
	if err != nil {
		return nil, err
	}
	if _, ok := tpl.For(day); !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoExistingWindow, doctorID, DayCode(day))
	}

	affected, err := s.futureBooked(doctorID, day, affectedSlot)
	if err != nil {
		return nil, err
	}
	if len(affected) > 0 || alwaysConfirm {
		if confirm == nil || !confirm(affected) {
			return nil, ErrChangeDeclined
		}
	}
	approved := make(map[string]bool, len(affected))
	for _, r := range affected {
		approved[r.ID] = true
	}

	var canceled []ReservationRecord
	err = s.withWriter(ctx, func(ctx context.Context) error {
		tpl, err := s.stores.Doctors.WeeklyTemplate(doctorID)
		if err != nil {
			return err
		}
		if _, ok := tpl.For(day); !ok {
			return fmt.Errorf("%w: %s %s", ErrNoExistingWindow, doctorID, DayCode(day))
		}
		current, err := s.futureBooked(doctorID, day, affectedSlot)
		if err != nil {
			return err
		}
		for _, r := range current {
			if !approved[r.ID] {
				return fmt.Errorf("%w: reservation %s was booked during confirmation", ErrChangeDeclined, r.ID)
			}
		}

		for _, r := range current {
			c, err := s.cancelLocked(r)
			if err != nil {
				return err
			}
			canceled = append(canceled, c)
		}
		return s.stores.Doctors.SaveWeeklyTemplate(doctorID, tpl.With(day, win))
	})
	if err != nil {
		return canceled, err
	}
	return canceled, nil
}

// futureBooked lists Booked reservations of a doctor on a weekday whose
// start is strictly after now and whose slot satisfies slotFn.
func (s *Service) futureBooked(doctorID string, day time.Weekday, slotFn func(int) bool) ([]ReservationRecord, error) {
	now := s.clock.Now()
	recs, err := s.stores.Ledger.Find(LedgerFilter{
		DoctorID: doctorID,
		Status:   StatusBooked,
		Weekday:  &day,
		Slot:     slotFn,
	})
	if err != nil {
		return nil, err
	}
	var out []ReservationRecord
	for _, r := range recs {
		if r.At().After(now) {
			out = append(out, r)
		}
	}
	sortByTime(out)
	return out, nil
}

func (s *Service) logCascade(ctx context.Context, who Identity, canceled []ReservationRecord) {
	for _, r := range canceled {
		s.log.Info().Str("reservation_id", r.ID).Str("patient_id", r.PatientID).Msg("reservation canceled by schedule change")
		s.logEvent(ctx, who, EventReservationCanceled, r.ID, map[string]any{"reason": "schedule_change"})
	}
}

func parseWindow(start, end string) (slot.Window, error) {
	win, err := slot.ParseWindow(start, end)
	if err != nil {
		return slot.Window{}, fmt.Errorf("%w: %s-%s: %v", ErrInvalidWindow, start, end, err)
	}
	return win, nil
}

func recordIDs(recs []ReservationRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}
