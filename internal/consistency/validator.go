// Package consistency checks the data directory before any command runs.
// Validate stops at the first violation; the caller decides to abort.
package consistency

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/storage"
)

const (
	TableLedger   = "patient ledger"
	TableDoctor   = "doctor schedule"
	TableDateGrid = "appointment grid"
)

var (
	doctorFilePattern = regexp.MustCompile(`^D\d{5}(-master)?\.txt$`)
	dateFilePattern   = regexp.MustCompile(`^\d{8}\.txt$`)
)

// Report summarizes a clean data directory.
type Report struct {
	Departments  int
	Doctors      int
	Patients     int
	Dates        int
	Reservations int // active: Booked, Completed or NoShow
}

// OrphanError names a reservation id that some tables hold and others do not.
type OrphanError struct {
	ID      string
	Present []string
	Missing []string
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("orphan reservation id %s: present in %s, missing from %s",
		e.ID, strings.Join(e.Present, ", "), strings.Join(e.Missing, ", "))
}

func (e *OrphanError) Unwrap() error { return appointment.ErrOrphan }

// location pins a reservation id to one cell.
type location struct {
	Date     time.Time
	DoctorID string
	Slot     int
}

func (l location) String() string {
	return fmt.Sprintf("%s %s %s", l.DoctorID, l.Date.Format(appointment.DateLayout), slot.Format(l.Slot))
}

type validator struct {
	dataDir string
	report  Report

	depts    map[string]bool
	doctors  map[string]registry.Doctor
	patients map[string]bool

	ledger   map[string]appointment.ReservationRecord // active rows only
	canceled map[string]bool
	doctor   map[string]location
	dates    map[string]location
}

// Validate checks schemas, referential integrity and the three-way
// agreement of reservation ids across ledgers and both grids.
func Validate(dataDir string) (Report, error) {
	v := &validator{
		dataDir:  dataDir,
		depts:    map[string]bool{},
		doctors:  map[string]registry.Doctor{},
		patients: map[string]bool{},
		ledger:   map[string]appointment.ReservationRecord{},
		canceled: map[string]bool{},
		doctor:   map[string]location{},
		dates:    map[string]location{},
	}
	steps := []func() error{
		v.requiredFiles,
		v.departments,
		v.doctorList,
		v.patientList,
		v.doctorFiles,
		v.patientFiles,
		v.dateGrids,
		v.reservationSets,
		v.locations,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Report{}, err
		}
	}
	v.report.Reservations = len(v.ledger)
	return v.report, nil
}

func (v *validator) requiredFiles() error {
	for _, p := range []string{
		registry.DepartmentsPath(v.dataDir),
		registry.DoctorListPath(v.dataDir),
		registry.PatientListPath(v.dataDir),
	} {
		if !storage.Exists(p) {
			return fmt.Errorf("%w: required file %s is missing", appointment.ErrMalformedStructure, p)
		}
	}
	return nil
}

func (v *validator) departments() error {
	path := registry.DepartmentsPath(v.dataDir)
	lines, err := storage.ReadLines(path)
	if err != nil {
		return err
	}
	items, err := registry.ParseDepartments(lines)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, appointment.ErrMalformedStructure, err)
	}
	for _, d := range items {
		v.depts[d.Code] = true
	}
	v.report.Departments = len(items)
	return nil
}

// listRows checks the header literal and returns the non-blank rows with
// their 1-based line numbers.
func listRows(path, header string) ([]string, []int, error) {
	lines, err := storage.ReadLines(path)
	if err != nil {
		return nil, nil, err
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != header {
		return nil, nil, fmt.Errorf("%s: %w: header must be %q", path, appointment.ErrMalformedStructure, header)
	}
	var rows []string
	var nums []int
	for i, l := range lines[1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		rows = append(rows, l)
		nums = append(nums, i+2)
	}
	return rows, nums, nil
}

func (v *validator) doctorList() error {
	path := registry.DoctorListPath(v.dataDir)
	rows, nums, err := listRows(path, registry.DoctorListHeader)
	if err != nil {
		return err
	}
	for i, row := range rows {
		doc, err := registry.ParseDoctor(row)
		if err != nil {
			return fmt.Errorf("%s line %d: %w: %v", path, nums[i], appointment.ErrMalformedStructure, err)
		}
		if _, dup := v.doctors[doc.ID]; dup {
			return fmt.Errorf("%s line %d: %w: doctor %s listed twice", path, nums[i], appointment.ErrMalformedStructure, doc.ID)
		}
		if !v.depts[doc.Dept] {
			return fmt.Errorf("%s line %d: %w: doctor %s department %s", path, nums[i], appointment.ErrUnknownDepartment, doc.ID, doc.Dept)
		}
		v.doctors[doc.ID] = doc
	}
	v.report.Doctors = len(v.doctors)
	return nil
}

func (v *validator) patientList() error {
	path := registry.PatientListPath(v.dataDir)
	rows, nums, err := listRows(path, registry.PatientListHeader)
	if err != nil {
		return err
	}
	usernames := map[string]bool{}
	for i, row := range rows {
		p, err := registry.ParsePatient(row)
		if err != nil {
			return fmt.Errorf("%s line %d: %w: %v", path, nums[i], appointment.ErrMalformedStructure, err)
		}
		if v.patients[p.ID] {
			return fmt.Errorf("%s line %d: %w: patient %s listed twice", path, nums[i], appointment.ErrMalformedStructure, p.ID)
		}
		if usernames[p.Username] {
			return fmt.Errorf("%s line %d: %w: username %s listed twice", path, nums[i], appointment.ErrMalformedStructure, p.Username)
		}
		v.patients[p.ID] = true
		usernames[p.Username] = true
	}
	v.report.Patients = len(v.patients)
	return nil
}

// doctorFiles runs the symmetric list/detail check, parses both files of
// every doctor and collects the doctor-grid reservation set.
func (v *validator) doctorFiles() error {
	store := appointment.NewDoctorGridStore(v.dataDir)
	names, err := storage.List(filepath.Join(v.dataDir, "doctor"), doctorFilePattern.MatchString)
	if err != nil {
		return err
	}
	onDisk := map[string]bool{}
	for _, n := range names {
		onDisk[n] = true
		id := strings.TrimSuffix(strings.TrimSuffix(n, ".txt"), "-master")
		if _, ok := v.doctors[id]; !ok {
			return fmt.Errorf("%w: %s is not declared in %s", appointment.ErrUnknownDoctor, n, registry.DoctorListPath(v.dataDir))
		}
	}

	for _, id := range sortedKeys(v.doctors) {
		for _, n := range []string{id + ".txt", id + "-master.txt"} {
			if !onDisk[n] {
				return fmt.Errorf("%w: doctor %s is declared but %s is missing", appointment.ErrMalformedStructure, id, n)
			}
		}
		detail, err := store.LoadDetail(id)
		if err != nil {
			return err
		}
		if _, err := store.WeeklyTemplate(id); err != nil {
			return err
		}
		for _, row := range detail.Rows {
			for i, cell := range row.Cells {
				if cell.State != appointment.SlotReserved {
					continue
				}
				loc := location{Date: row.Date, DoctorID: id, Slot: i}
				if prev, dup := v.doctor[cell.ReservationID]; dup {
					return fmt.Errorf("%w: %s held twice in doctor schedules: %s and %s", appointment.ErrMalformedStructure, cell.ReservationID, prev, loc)
				}
				v.doctor[cell.ReservationID] = loc
			}
		}
	}
	return nil
}

// patientFiles runs the symmetric list/ledger check and collects the
// ledger reservation sets.
func (v *validator) patientFiles() error {
	store := appointment.NewLedgerStore(v.dataDir)
	ids, err := store.PatientIDs()
	if err != nil {
		return err
	}
	onDisk := map[string]bool{}
	for _, id := range ids {
		onDisk[id] = true
		if !v.patients[id] {
			return fmt.Errorf("%w: %s is not declared in %s", appointment.ErrUnknownPatient, store.Path(id), registry.PatientListPath(v.dataDir))
		}
	}

	owner := map[string]string{}
	for _, pid := range sortedKeys(v.patients) {
		if !onDisk[pid] {
			return fmt.Errorf("%w: patient %s is declared but %s is missing", appointment.ErrMalformedStructure, pid, store.Path(pid))
		}
		l, err := store.Load(pid)
		if err != nil {
			return err
		}
		for _, rec := range l.Records {
			if other, dup := owner[rec.ID]; dup {
				return fmt.Errorf("%w: reservation %s appears in ledgers of %s and %s", appointment.ErrMalformedStructure, rec.ID, other, pid)
			}
			owner[rec.ID] = pid
			if !v.depts[rec.Dept] {
				return fmt.Errorf("%s: %w: reservation %s department %s", store.Path(pid), appointment.ErrUnknownDepartment, rec.ID, rec.Dept)
			}
			if _, ok := v.doctors[rec.DoctorID]; !ok {
				return fmt.Errorf("%s: %w: reservation %s doctor %s", store.Path(pid), appointment.ErrUnknownDoctor, rec.ID, rec.DoctorID)
			}
			if rec.Status == appointment.StatusCanceled {
				v.canceled[rec.ID] = true
				continue
			}
			v.ledger[rec.ID] = rec
		}
	}
	return nil
}

func (v *validator) dateGrids() error {
	store := appointment.NewDateGridStore(v.dataDir)
	dir := filepath.Join(v.dataDir, "appointment")
	names, err := storage.List(dir, func(n string) bool { return strings.HasSuffix(n, ".txt") })
	if err != nil {
		return err
	}
	for _, n := range names {
		if !dateFilePattern.MatchString(n) {
			return fmt.Errorf("%w: unexpected file %s in %s", appointment.ErrMalformedStructure, n, dir)
		}
		date, err := time.Parse("20060102", strings.TrimSuffix(n, ".txt"))
		if err != nil {
			return fmt.Errorf("%w: grid file name %s", appointment.ErrMalformedStructure, n)
		}
		g, err := store.Load(date)
		if err != nil {
			return err
		}
		for _, d := range g.Doctors {
			if _, ok := v.doctors[d]; !ok {
				return fmt.Errorf("%s: %w: column %s", store.Path(date), appointment.ErrUnknownDoctor, d)
			}
		}
		for i, row := range g.Rows {
			for c, cell := range row {
				if cell.State != appointment.SlotReserved {
					continue
				}
				loc := location{Date: date, DoctorID: g.Doctors[c], Slot: i}
				if prev, dup := v.dates[cell.ReservationID]; dup {
					return fmt.Errorf("%w: %s held twice in appointment grids: %s and %s", appointment.ErrMalformedStructure, cell.ReservationID, prev, loc)
				}
				v.dates[cell.ReservationID] = loc
			}
		}
	}
	v.report.Dates = len(names)
	return nil
}

// reservationSets reports the first id, in order, that is missing from at
// least one of the three tables.
func (v *validator) reservationSets() error {
	all := map[string]bool{}
	for id := range v.ledger {
		all[id] = true
	}
	for id := range v.doctor {
		all[id] = true
	}
	for id := range v.dates {
		all[id] = true
	}

	for _, id := range sortedKeys(all) {
		_, inLedger := v.ledger[id]
		_, inDoctor := v.doctor[id]
		_, inDates := v.dates[id]
		if inLedger && inDoctor && inDates {
			continue
		}
		e := &OrphanError{ID: id}
		for _, t := range []struct {
			name string
			in   bool
		}{{TableLedger, inLedger}, {TableDoctor, inDoctor}, {TableDateGrid, inDates}} {
			if t.in {
				e.Present = append(e.Present, t.name)
			} else {
				e.Missing = append(e.Missing, t.name)
			}
		}
		if !inLedger && v.canceled[id] {
			e.Present = append(e.Present, TableLedger+" (canceled)")
		}
		return e
	}
	return nil
}

// locations checks that every active reservation sits in the same cell
// in both grids as its ledger row says.
func (v *validator) locations() error {
	for _, id := range sortedKeys(v.ledger) {
		rec := v.ledger[id]
		want := location{Date: rec.Date, DoctorID: rec.DoctorID, Slot: rec.Slot}
		for _, got := range []struct {
			table string
			loc   location
		}{{TableDoctor, v.doctor[id]}, {TableDateGrid, v.dates[id]}} {
			if !got.loc.Date.Equal(want.Date) || got.loc.DoctorID != want.DoctorID || got.loc.Slot != want.Slot {
				return fmt.Errorf("%w: reservation %s is at %s in %s but %s in %s",
					appointment.ErrReferential, id, want, TableLedger, got.loc, got.table)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsOrphan reports whether err names an orphan reservation id.
func IsOrphan(err error) (*OrphanError, bool) {
	var oe *OrphanError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
