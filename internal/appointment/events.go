package appointment

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

const (
	EventReservationCreated   = "RESERVATION_CREATED"
	EventReservationModified  = "RESERVATION_MODIFIED"
	EventReservationCanceled  = "RESERVATION_CANCELED"
	EventReservationCompleted = "RESERVATION_COMPLETED"
	EventReservationNoShow    = "RESERVATION_NO_SHOW"
	EventReservationRecovered = "RESERVATION_RECOVERED"
	EventWeeklyWindowChanged  = "WEEKLY_WINDOW_CHANGED"
	EventDoctorOnboarded      = "DOCTOR_ONBOARDED"
	EventPatientRegistered    = "PATIENT_REGISTERED"
	EventDepartmentAdded      = "DEPARTMENT_ADDED"
)

// LogEventSink writes audit events to the structured log.
type LogEventSink struct {
	log zerolog.Logger
}

func NewLogEventSink(log zerolog.Logger) *LogEventSink {
	return &LogEventSink{log: log}
}

func (s *LogEventSink) InsertEvent(_ context.Context, ev EventLog) error {
	e := s.log.Info().
		Str("event", ev.EventType).
		Str("actor", ev.Actor).
		Time("at", ev.CreatedAt)
	if ev.ReservationID != "" {
		e = e.Str("reservation_id", ev.ReservationID)
	}
	if len(ev.Payload) > 0 {
		e = e.RawJSON("payload", ev.Payload)
	}
	e.Msg("audit event")
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) InsertEvent(ctx context.Context, ev EventLog) error {
	var errs []error
	for _, s := range m {
		if err := s.InsertEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
