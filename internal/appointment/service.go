package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

// WriterLockKey names the single-writer critical section.
const WriterLockKey = "clinic:write"

// Stores bundles the three denormalized tables and their write-path helpers.
type Stores struct {
	Dates     *DateGridStore
	Doctors   *DoctorGridStore
	Ledger    *LedgerStore
	Intents   *IntentLog
	Allocator *Allocator
}

func NewStores(dataDir string) Stores {
	ledger := NewLedgerStore(dataDir)
	return Stores{
		Dates:     NewDateGridStore(dataDir),
		Doctors:   NewDoctorGridStore(dataDir),
		Ledger:    ledger,
		Intents:   NewIntentLog(dataDir),
		Allocator: NewAllocator(dataDir, ledger),
	}
}

type Directories struct {
	Doctors     DoctorDirectory
	Patients    PatientDirectory
	Departments DepartmentRegistry
}

type Service struct {
	stores Stores
	dirs   Directories
	clock  Clock
	locker redisclient.Locker
	events EventSink
	cfg    config.Config
	log    zerolog.Logger
}

func NewService(stores Stores, dirs Directories, clk Clock, locker redisclient.Locker, events EventSink, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		stores: stores,
		dirs:   dirs,
		clock:  clk,
		locker: locker,
		events: events,
		cfg:    cfg,
		log:    log,
	}
}

type CreateRequest struct {
	PatientID string // defaults to the caller for patients
	DoctorRef string // doctor id or display name
	Date      time.Time
	Time      string // HH:MM
}

type CreateResult struct {
	Record   ReservationRecord
	Advisory string // set when the patient has reached the no-show threshold
}

// Create books a slot. Validation runs inside the writer lock before the
// intent is written, so a rejected request leaves no trace.
func (s *Service) Create(ctx context.Context, who Identity, req CreateRequest) (*CreateResult, error) {
	if err := requireRole(who, RolePatient, RoleAdmin); err != nil {
		return nil, err
	}
	patientID := req.PatientID
	if who.CurrentUserRole() == RolePatient {
		if patientID == "" {
			patientID = who.CurrentUserID()
		}
		if patientID != who.CurrentUserID() {
			return nil, fmt.Errorf("%w: cannot book for %s", ErrNotOwner, patientID)
		}
	}
	if _, err := s.dirs.Patients.Get(patientID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownPatient, err)
	}
	doc, err := s.resolveDoctor(req.DoctorRef)
	if err != nil {
		return nil, err
	}
	idx, err := slot.Parse(req.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadTime, err)
	}
	date := clock.Date(req.Date)

	noShows, err := s.stores.Ledger.NoShowCount(patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient ledger: %w", err)
	}

	var rec ReservationRecord
	err = s.withWriter(ctx, func(ctx context.Context) error {
		if err := s.checkBookable(doc.ID, date, idx, ""); err != nil {
			return err
		}
		id, err := s.stores.Allocator.Next()
		if err != nil {
			return fmt.Errorf("allocate reservation id: %w", err)
		}
		rec = ReservationRecord{
			ID:        id,
			PatientID: patientID,
			Date:      date,
			Slot:      idx,
			Dept:      doc.Dept,
			DoctorID:  doc.ID,
			Status:    StatusBooked,
		}
		return s.run(intentFor(OpCreate, rec))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("reservation_id", rec.ID).
		Str("patient_id", rec.PatientID).
		Str("doctor_id", rec.DoctorID).
		Time("at", rec.At()).
		Msg("reservation created")
	s.logEvent(ctx, who, EventReservationCreated, rec.ID, map[string]any{
		"patient_id": rec.PatientID,
		"doctor_id":  rec.DoctorID,
		"date":       rec.Date.Format(DateLayout),
		"time":       rec.Start(),
	})

	result := &CreateResult{Record: rec}
	if noShows >= s.cfg.NoShowThreshold {
		result.Advisory = fmt.Sprintf("patient %s has %d recorded no-shows", patientID, noShows)
		s.log.Warn().Str("patient_id", patientID).Int("no_shows", noShows).Msg("booking by patient over no-show threshold")
	}
	return result, nil
}

// Modify moves a Booked reservation to a new date and time with the same
// doctor, keeping its id. The reservation's own cell counts as free.
func (s *Service) Modify(ctx context.Context, who Identity, reservationID string, newDate time.Time, newTime string) (ReservationRecord, error) {
	idx, err := slot.Parse(newTime)
	if err != nil {
		return ReservationRecord{}, fmt.Errorf("%w: %w", ErrBadTime, err)
	}
	date := clock.Date(newDate)

	var prev, rec ReservationRecord
	err = s.withWriter(ctx, func(ctx context.Context) error {
		var err error
		prev, err = s.bookedRecord(who, reservationID, RolePatient, RoleAdmin)
		if err != nil {
			return err
		}
		if err := s.checkBookable(prev.DoctorID, date, idx, prev.ID); err != nil {
			return err
		}

		rec = prev
		rec.Date = date
		rec.Slot = idx
		in := intentFor(OpModify, rec)
		in.PrevDoctorID = prev.DoctorID
		in.PrevDate = prev.Date.Format(DateLayout)
		return s.run(in)
	})
	if err != nil {
		return ReservationRecord{}, err
	}

	s.log.Info().Str("reservation_id", rec.ID).Time("from", prev.At()).Time("to", rec.At()).Msg("reservation modified")
	s.logEvent(ctx, who, EventReservationModified, rec.ID, map[string]any{
		"from_date": prev.Date.Format(DateLayout),
		"from_time": prev.Start(),
		"to_date":   rec.Date.Format(DateLayout),
		"to_time":   rec.Start(),
	})
	return rec, nil
}

// Cancel frees both grid cells and marks the ledger row Canceled.
func (s *Service) Cancel(ctx context.Context, who Identity, reservationID string) (ReservationRecord, error) {
	var rec ReservationRecord
	err := s.withWriter(ctx, func(ctx context.Context) error {
		booked, err := s.bookedRecord(who, reservationID, RolePatient, RoleAdmin)
		if err != nil {
			return err
		}
		rec, err = s.cancelLocked(booked)
		return err
	})
	if err != nil {
		return ReservationRecord{}, err
	}

	s.log.Info().Str("reservation_id", rec.ID).Msg("reservation canceled")
	s.logEvent(ctx, who, EventReservationCanceled, rec.ID, map[string]any{"reason": "request"})
	return rec, nil
}

// cancelLocked must run inside the writer lock.
func (s *Service) cancelLocked(rec ReservationRecord) (ReservationRecord, error) {
	rec.Status = StatusCanceled
	if err := s.run(intentFor(OpCancel, rec)); err != nil {
		return ReservationRecord{}, err
	}
	return rec, nil
}

// Complete marks a reservation whose time has come as attended.
func (s *Service) Complete(ctx context.Context, who Identity, reservationID string) (ReservationRecord, error) {
	var rec ReservationRecord
	err := s.withWriter(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.dueRecord(who, reservationID)
		if err != nil {
			return err
		}
		rec.Status = StatusCompleted
		return s.run(intentFor(OpComplete, rec))
	})
	if err != nil {
		return ReservationRecord{}, err
	}

	s.log.Info().Str("reservation_id", rec.ID).Msg("reservation completed")
	s.logEvent(ctx, who, EventReservationCompleted, rec.ID, map[string]any{})
	return rec, nil
}

// NoShow marks a due reservation as missed and returns the patient's new
// no-show count.
func (s *Service) NoShow(ctx context.Context, who Identity, reservationID string) (ReservationRecord, int, error) {
	var rec ReservationRecord
	var count int
	err := s.withWriter(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.dueRecord(who, reservationID)
		if err != nil {
			return err
		}
		n, err := s.stores.Ledger.NoShowCount(rec.PatientID)
		if err != nil {
			return err
		}
		count = n + 1

		rec.Status = StatusNoShow
		in := intentFor(OpNoShow, rec)
		in.NoShows = count
		return s.run(in)
	})
	if err != nil {
		return ReservationRecord{}, 0, err
	}

	s.log.Info().Str("reservation_id", rec.ID).Str("patient_id", rec.PatientID).Int("no_shows", count).Msg("reservation marked no-show")
	s.logEvent(ctx, who, EventReservationNoShow, rec.ID, map[string]any{"no_shows": count})
	return rec, count, nil
}

// Reservation looks up one reservation on behalf of the caller.
func (s *Service) Reservation(ctx context.Context, who Identity, reservationID string) (ReservationRecord, error) {
	rec, err := s.stores.Ledger.FindByID(reservationID)
	if err != nil {
		return ReservationRecord{}, err
	}
	if err := authorizeRecord(who, rec, RolePatient, RoleDoctor, RoleAdmin); err != nil {
		return ReservationRecord{}, err
	}
	return rec, nil
}

// PatientReservations returns a patient's full history in ledger order.
func (s *Service) PatientReservations(ctx context.Context, who Identity, patientID string) ([]ReservationRecord, error) {
	if err := requireRole(who, RolePatient, RoleAdmin); err != nil {
		return nil, err
	}
	if patientID == "" {
		patientID = who.CurrentUserID()
	}
	if who.CurrentUserRole() == RolePatient && patientID != who.CurrentUserID() {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, patientID)
	}
	return s.stores.Ledger.ForPatient(patientID)
}

// PendingCompletion lists a doctor's Booked reservations whose time has
// passed and that still need Complete or NoShow.
func (s *Service) PendingCompletion(ctx context.Context, who Identity, doctorID string) ([]ReservationRecord, error) {
	if doctorID == "" {
		doctorID = who.CurrentUserID()
	}
	if err := authorizeDoctor(who, doctorID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	recs, err := s.stores.Ledger.Find(LedgerFilter{DoctorID: doctorID, Status: StatusBooked})
	if err != nil {
		return nil, err
	}
	var due []ReservationRecord
	for _, r := range recs {
		if !r.At().After(now) {
			due = append(due, r)
		}
	}
	sortByTime(due)
	return due, nil
}

// ReservationsOn lists every reservation on a date for administrators.
func (s *Service) ReservationsOn(ctx context.Context, who Identity, date time.Time) ([]ReservationRecord, error) {
	if err := requireRole(who, RoleAdmin); err != nil {
		return nil, err
	}
	date = clock.Date(date)
	recs, err := s.stores.Ledger.Find(LedgerFilter{Date: func(d time.Time) bool { return d.Equal(date) }})
	if err != nil {
		return nil, err
	}
	sortByTime(recs)
	return recs, nil
}

// AvailableSlots accepts a department code, a doctor id or a doctor name.
// Without a date it scans the configured number of days from today.
func (s *Service) AvailableSlots(ctx context.Context, ref string, date *time.Time) ([]Availability, error) {
	var doctors []registry.Doctor
	if code := strings.ToUpper(strings.TrimSpace(ref)); s.dirs.Departments.Exists(code) {
		doctors = s.dirs.Doctors.InDepartment(code)
	} else {
		doc, err := s.resolveDoctor(ref)
		if err != nil {
			return nil, err
		}
		doctors = []registry.Doctor{doc}
	}

	var dates []time.Time
	if date != nil {
		dates = []time.Time{clock.Date(*date)}
	} else {
		today := s.clock.Today()
		for i := 0; i < s.cfg.AvailabilityDays; i++ {
			dates = append(dates, today.AddDate(0, 0, i))
		}
	}

	var out []Availability
	for _, d := range dates {
		for _, doc := range doctors {
			slots, err := s.freeSlots(doc.ID, d)
			if err != nil {
				return nil, err
			}
			if len(slots) == 0 {
				continue
			}
			out = append(out, Availability{
				DoctorID:   doc.ID,
				DoctorName: doc.Name,
				Dept:       doc.Dept,
				Date:       d,
				Slots:      slots,
			})
		}
	}
	return out, nil
}

// freeSlots intersects the weekly window, the future, and Free cells.
func (s *Service) freeSlots(doctorID string, date time.Time) ([]int, error) {
	tpl, err := s.stores.Doctors.WeeklyTemplate(doctorID)
	if err != nil {
		return nil, err
	}
	win, ok := tpl.For(date.Weekday())
	if !ok {
		return nil, nil
	}

	free := make(map[int]bool, slot.PerDay)
	grid, err := s.stores.Dates.AvailableSlots(date, doctorID)
	switch {
	case errors.Is(err, ErrDateGridNotFound):
		for i := 0; i < slot.PerDay; i++ {
			free[i] = true
		}
	case err != nil:
		return nil, err
	default:
		for _, i := range grid {
			free[i] = true
		}
	}

	now := s.clock.Now()
	var out []int
	for i := win.Start; i < win.End; i++ {
		if free[i] && slot.At(date, i).After(now) {
			out = append(out, i)
		}
	}
	return out, nil
}

// OnboardDoctor registers a doctor: schedule files first, then a column in
// every stored date grid, then the directory row.
func (s *Service) OnboardDoctor(ctx context.Context, who Identity, name, dept, phone string) (registry.Doctor, error) {
	if err := requireRole(who, RoleAdmin); err != nil {
		return registry.Doctor{}, err
	}
	dept = strings.ToUpper(strings.TrimSpace(dept))
	if !s.dirs.Departments.Exists(dept) {
		return registry.Doctor{}, fmt.Errorf("%w: %s", ErrUnknownDepartment, dept)
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return registry.Doctor{}, fmt.Errorf("%w: doctor name %q", ErrInvalidField, name)
	}
	if !registry.IsPhone(phone) {
		return registry.Doctor{}, fmt.Errorf("%w: phone %q", ErrInvalidField, phone)
	}

	var doc registry.Doctor
	err := s.withWriter(ctx, func(ctx context.Context) error {
		doc = registry.Doctor{
			ID:         s.dirs.Doctors.NextID(),
			Name:       name,
			Dept:       dept,
			Phone:      phone,
			Registered: s.clock.Today().Format(DateLayout),
		}
		if err := s.stores.Doctors.Create(doc); err != nil {
			return fmt.Errorf("create schedule files: %w", err)
		}
		if err := s.stores.Dates.OnboardDoctor(doc.ID); err != nil {
			if rmErr := s.stores.Doctors.Remove(doc.ID); rmErr != nil {
				s.log.Error().Err(rmErr).Str("doctor_id", doc.ID).Msg("remove schedule files after failed onboarding")
			}
			return fmt.Errorf("add grid columns: %w", err)
		}
		return s.dirs.Doctors.Add(doc)
	})
	if err != nil {
		return registry.Doctor{}, err
	}

	s.log.Info().Str("doctor_id", doc.ID).Str("dept", doc.Dept).Msg("doctor onboarded")
	s.logEvent(ctx, who, EventDoctorOnboarded, "", map[string]any{"doctor_id": doc.ID, "dept": doc.Dept})
	return doc, nil
}

// RegisterPatient creates the ledger first and then the list row, so a
// crash in between is reported by the startup check as an undeclared ledger.
func (s *Service) RegisterPatient(ctx context.Context, who Identity, username, name, birth, phone string) (registry.Patient, error) {
	if err := requireRole(who, RoleAdmin); err != nil {
		return registry.Patient{}, err
	}
	username, name = strings.TrimSpace(username), strings.TrimSpace(name)
	switch {
	case username == "" || strings.ContainsAny(username, " \t"):
		return registry.Patient{}, fmt.Errorf("%w: username %q", ErrInvalidField, username)
	case name == "" || strings.ContainsAny(name, " \t"):
		return registry.Patient{}, fmt.Errorf("%w: patient name %q", ErrInvalidField, name)
	case !registry.IsDate(birth):
		return registry.Patient{}, fmt.Errorf("%w: birth date %q", ErrInvalidField, birth)
	case !registry.IsPhone(phone):
		return registry.Patient{}, fmt.Errorf("%w: phone %q", ErrInvalidField, phone)
	}
	if _, err := time.Parse(DateLayout, birth); err != nil {
		return registry.Patient{}, fmt.Errorf("%w: birth date %q", ErrInvalidField, birth)
	}

	var p registry.Patient
	err := s.withWriter(ctx, func(ctx context.Context) error {
		for _, other := range s.dirs.Patients.All() {
			if other.Username == username {
				return fmt.Errorf("%w: username %s is taken", ErrInvalidField, username)
			}
		}
		p = registry.Patient{
			ID:       s.dirs.Patients.NextID(),
			Username: username,
			Name:     name,
			Birth:    birth,
			Phone:    phone,
		}
		if err := s.stores.Ledger.Create(p); err != nil {
			return fmt.Errorf("create ledger: %w", err)
		}
		return s.dirs.Patients.Add(p)
	})
	if err != nil {
		return registry.Patient{}, err
	}

	s.log.Info().Str("patient_id", p.ID).Msg("patient registered")
	s.logEvent(ctx, who, EventPatientRegistered, "", map[string]any{"patient_id": p.ID})
	return p, nil
}

func (s *Service) AddDepartment(ctx context.Context, who Identity, code, name string) error {
	if err := requireRole(who, RoleAdmin); err != nil {
		return err
	}
	err := s.withWriter(ctx, func(ctx context.Context) error {
		if err := s.dirs.Departments.Add(code, name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidField, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	s.log.Info().Str("dept", code).Msg("department added")
	s.logEvent(ctx, who, EventDepartmentAdded, "", map[string]any{"dept": code})
	return nil
}

// Recover rolls every incomplete intent forward and compacts the log.
// It must run before the consistency check at startup.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var recovered []Intent
	err := s.withWriter(ctx, func(ctx context.Context) error {
		pending, err := s.stores.Intents.Pending()
		if err != nil {
			return err
		}
		for _, in := range pending {
			if err := s.apply(in); err != nil {
				return fmt.Errorf("recover intent %s (%s %s): %w", in.ID, in.Op, in.ReservationID, err)
			}
			if err := s.stores.Intents.Commit(in); err != nil {
				return err
			}
			recovered = append(recovered, in)
		}
		return s.stores.Intents.Compact()
	})
	if err != nil {
		return 0, err
	}

	for _, in := range recovered {
		s.log.Warn().Str("intent_id", in.ID).Str("op", string(in.Op)).Str("reservation_id", in.ReservationID).Msg("rolled forward incomplete intent")
		s.logEvent(ctx, Admin, EventReservationRecovered, in.ReservationID, map[string]any{"intent_id": in.ID, "op": in.Op})
	}
	return len(recovered), nil
}

// run writes the begin intent, applies it, then commits. If apply fails
// the intent stays pending and Recover finishes it on the next start.
func (s *Service) run(in Intent) error {
	in, err := s.stores.Intents.Begin(in)
	if err != nil {
		return err
	}
	if err := s.apply(in); err != nil {
		s.log.Error().Err(err).Str("intent_id", in.ID).Str("op", string(in.Op)).Msg("intent left pending")
		return fmt.Errorf("apply %s %s: %w", in.Op, in.ReservationID, err)
	}
	return s.stores.Intents.Commit(in)
}

// apply brings all three tables to the intent's target state. Every
// operation writes PatientLedger, then AppointmentGrid, then
// DoctorScheduleGrid, and each step tolerates having already run.
func (s *Service) apply(in Intent) error {
	rec, err := in.record()
	if err != nil {
		return err
	}

	switch in.Op {
	case OpCreate:
		if err := s.putRecord(rec); err != nil {
			return err
		}
		if _, err := s.stores.Dates.Ensure(rec.Date, s.dirs.Doctors.IDs()); err != nil {
			return err
		}
		if err := s.stores.Dates.Reserve(rec.Date, rec.DoctorID, rec.Slot, rec.ID); err != nil {
			return err
		}
		return s.stores.Doctors.SetCell(rec.DoctorID, rec.Date, rec.Slot, rec.ID)

	case OpModify:
		prevDate, err := time.Parse(DateLayout, in.PrevDate)
		if err != nil {
			return fmt.Errorf("%w: intent %s previous date %q", ErrMalformedStructure, in.ID, in.PrevDate)
		}
		prevDoctor := in.PrevDoctorID
		if prevDoctor == "" {
			prevDoctor = rec.DoctorID
		}
		if err := s.putRecord(rec); err != nil {
			return err
		}
		if err := ignoreMissing(s.stores.Dates.Release(prevDate, rec.ID)); err != nil {
			return err
		}
		if _, err := s.stores.Dates.Ensure(rec.Date, s.dirs.Doctors.IDs()); err != nil {
			return err
		}
		if err := s.stores.Dates.Reserve(rec.Date, rec.DoctorID, rec.Slot, rec.ID); err != nil {
			return err
		}
		if err := ignoreMissing(s.stores.Doctors.ClearCell(prevDoctor, prevDate, rec.ID)); err != nil {
			return err
		}
		return s.stores.Doctors.SetCell(rec.DoctorID, rec.Date, rec.Slot, rec.ID)

	case OpCancel:
		if err := s.stores.Ledger.UpdateStatus(rec.PatientID, rec.ID, StatusCanceled); err != nil {
			return err
		}
		if err := ignoreMissing(s.stores.Dates.Release(rec.Date, rec.ID)); err != nil {
			return err
		}
		return ignoreMissing(s.stores.Doctors.ClearCell(rec.DoctorID, rec.Date, rec.ID))

	case OpComplete, OpNoShow:
		if err := s.stores.Ledger.UpdateStatus(rec.PatientID, rec.ID, rec.Status); err != nil {
			return err
		}
		if in.Op == OpNoShow {
			if err := s.stores.Ledger.SetNoShowCount(rec.PatientID, in.NoShows); err != nil {
				return err
			}
			if err := s.dirs.Patients.SetNoShowCount(rec.PatientID, in.NoShows); err != nil {
				return err
			}
		}
		return s.stores.Dates.SetStatus(rec.Date, rec.ID, rec.Status)
	}
	return fmt.Errorf("%w: unknown intent op %q", ErrMalformedStructure, in.Op)
}

// putRecord appends the record or rewrites it in place if present.
func (s *Service) putRecord(rec ReservationRecord) error {
	err := s.stores.Ledger.Update(rec.PatientID, rec)
	if errors.Is(err, ErrRecordNotFound) {
		return s.stores.Ledger.Append(rec.PatientID, rec)
	}
	return err
}

func ignoreMissing(err error) error {
	if errors.Is(err, ErrReservationNotFound) {
		return nil
	}
	return err
}

// checkBookable verifies the slot is in the future, inside the doctor's
// weekly window, and Free in both grids. ownID is treated as Free.
func (s *Service) checkBookable(doctorID string, date time.Time, idx int, ownID string) error {
	at := slot.At(date, idx)
	if !at.After(s.clock.Now()) {
		return fmt.Errorf("%w: %s", ErrSlotInPast, at.Format(clock.Layout))
	}

	tpl, err := s.stores.Doctors.WeeklyTemplate(doctorID)
	if err != nil {
		return err
	}
	win, ok := tpl.For(date.Weekday())
	if !ok || !win.Contains(idx) {
		return fmt.Errorf("%w: %s on %s %s", ErrOutsideWindow, doctorID, DayCode(date.Weekday()), slot.Format(idx))
	}

	grid, err := s.stores.Dates.Load(date)
	switch {
	case errors.Is(err, ErrDateGridNotFound):
	case err != nil:
		return err
	default:
		cell, err := grid.Cell(doctorID, idx)
		if err != nil {
			return err
		}
		if !cell.IsFree() && !cell.Holds(ownID) {
			return fmt.Errorf("%w: %s %s %s", ErrSlotNotFree, doctorID, date.Format(DateLayout), slot.Format(idx))
		}
	}

	cells, _, err := s.stores.Doctors.DateRow(doctorID, date)
	if err != nil {
		return err
	}
	if c := cells[idx]; !c.IsFree() && !c.Holds(ownID) {
		return fmt.Errorf("%w: %s schedule %s %s", ErrSlotNotFree, doctorID, date.Format(DateLayout), slot.Format(idx))
	}
	return nil
}

func (s *Service) bookedRecord(who Identity, reservationID string, roles ...Role) (ReservationRecord, error) {
	rec, err := s.stores.Ledger.FindByID(reservationID)
	if err != nil {
		return ReservationRecord{}, err
	}
	if err := authorizeRecord(who, rec, roles...); err != nil {
		return ReservationRecord{}, err
	}
	if rec.Status != StatusBooked {
		return ReservationRecord{}, fmt.Errorf("%w: %s is %s", ErrNotBooked, rec.ID, rec.Status)
	}
	return rec, nil
}

// dueRecord loads a Booked reservation whose time is not after now.
func (s *Service) dueRecord(who Identity, reservationID string) (ReservationRecord, error) {
	rec, err := s.bookedRecord(who, reservationID, RoleDoctor, RoleAdmin)
	if err != nil {
		return ReservationRecord{}, err
	}
	if rec.At().After(s.clock.Now()) {
		return ReservationRecord{}, fmt.Errorf("%w: %s is at %s", ErrNotYetDue, rec.ID, rec.At().Format(clock.Layout))
	}
	return rec, nil
}

func (s *Service) resolveDoctor(ref string) (registry.Doctor, error) {
	doc, err := s.dirs.Doctors.Resolve(ref)
	if err != nil {
		return registry.Doctor{}, fmt.Errorf("%w: %w", ErrUnknownDoctor, err)
	}
	return doc, nil
}

func (s *Service) withWriter(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, WriterLockKey, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrWriterBusy
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, who Identity, eventType, reservationID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		ReservationID: reservationID,
		Actor:         who.CurrentUserID(),
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.events.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Str("reservation_id", reservationID).Msg("failed to insert event log")
	}
}

func sortByTime(recs []ReservationRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].At(), recs[j].At()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return recs[i].DoctorID < recs[j].DoctorID
	})
}
