package appointment

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/storage"
)

var dayCodes = [7]string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

// dayIndex maps a weekday to its template position, Monday first.
func dayIndex(w time.Weekday) int { return (int(w) + 6) % 7 }

func DayCode(w time.Weekday) string { return dayCodes[dayIndex(w)] }

// ParseDay accepts MON..SUN.
func ParseDay(code string) (time.Weekday, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, c := range dayCodes {
		if c == code {
			return time.Weekday((i + 1) % 7), nil
		}
	}
	return 0, fmt.Errorf("%w: day %q", ErrBadTime, code)
}

// WeeklyTemplate holds one optional window per weekday, Monday first.
type WeeklyTemplate [7]*slot.Window

func (t WeeklyTemplate) For(w time.Weekday) (slot.Window, bool) {
	win := t[dayIndex(w)]
	if win == nil {
		return slot.Window{}, false
	}
	return *win, true
}

// With returns a copy of t with the window for w replaced; nil clears it.
func (t WeeklyTemplate) With(w time.Weekday, win *slot.Window) WeeklyTemplate {
	if win != nil {
		cp := *win
		win = &cp
	}
	t[dayIndex(w)] = win
	return t
}

// Lines renders the -master.txt layout.
func (t WeeklyTemplate) Lines() []string {
	lines := make([]string, 7)
	for i, win := range t {
		if win == nil {
			lines[i] = dayCodes[i] + " 0 0"
			continue
		}
		lines[i] = dayCodes[i] + " " + win.StartLabel() + " " + win.EndLabel()
	}
	return lines
}

// Flags renders the MON-FRI working-day line of the detail file.
func (t WeeklyTemplate) Flags() string {
	flags := make([]string, 5)
	for i := range flags {
		flags[i] = "0"
		if t[i] != nil {
			flags[i] = "1"
		}
	}
	return strings.Join(flags, " ")
}

func ParseWeeklyTemplate(lines []string) (WeeklyTemplate, error) {
	var t WeeklyTemplate
	day := 0
	for _, line := range lines {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if day >= 7 {
			return t, fmt.Errorf("%w: more than 7 weekly entries", ErrMalformedStructure)
		}
		if len(parts) != 3 || parts[0] != dayCodes[day] {
			return t, fmt.Errorf("%w: weekly entry %q, want %s <start> <end>", ErrMalformedStructure, line, dayCodes[day])
		}
		if parts[1] == "0" && parts[2] == "0" {
			day++
			continue
		}
		win, err := slot.ParseWindow(parts[1], parts[2])
		if err != nil {
			return t, fmt.Errorf("%w: %s window: %v", ErrMalformedStructure, parts[0], err)
		}
		t[day] = &win
		day++
	}
	if day != 7 {
		return t, fmt.Errorf("%w: %d weekly entries, want 7", ErrMalformedStructure, day)
	}
	return t, nil
}

// DateRow is one concrete date of a doctor's schedule.
type DateRow struct {
	Date  time.Time
	Cells [slot.PerDay]SlotStatus
}

func (r DateRow) line() string {
	tokens := make([]string, 0, 1+slot.PerDay)
	tokens = append(tokens, r.Date.Format(DateLayout))
	for _, c := range r.Cells {
		tokens = append(tokens, c.Token())
	}
	return strings.Join(tokens, " ")
}

// DoctorDetail is the parsed doctor/Dxxxxx.txt file.
type DoctorDetail struct {
	Doctor registry.Doctor
	Flags  string
	Rows   []DateRow
}

func (d *DoctorDetail) row(date time.Time) *DateRow {
	for i := range d.Rows {
		if d.Rows[i].Date.Equal(date) {
			return &d.Rows[i]
		}
	}
	return nil
}

func (d *DoctorDetail) Lines() []string {
	lines := []string{d.Doctor.Line(), d.Flags, ""}
	for _, r := range d.Rows {
		lines = append(lines, r.line())
	}
	return lines
}

// ParseDoctorDetail validates identity, flags and the 55-token date rows.
func ParseDoctorDetail(lines []string) (*DoctorDetail, error) {
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: doctor file has %d lines, want at least 3", ErrMalformedStructure, len(lines))
	}
	doc, err := registry.ParseDoctor(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: identity line: %v", ErrMalformedStructure, err)
	}
	flags := strings.Fields(lines[1])
	if len(flags) != 5 {
		return nil, fmt.Errorf("%w: weekday flags %q", ErrMalformedStructure, lines[1])
	}
	for _, f := range flags {
		if f != "0" && f != "1" {
			return nil, fmt.Errorf("%w: weekday flags %q", ErrMalformedStructure, lines[1])
		}
	}
	if strings.TrimSpace(lines[2]) != "" {
		return nil, fmt.Errorf("%w: line 3 must be blank", ErrMalformedStructure)
	}

	d := &DoctorDetail{Doctor: doc, Flags: strings.Join(flags, " ")}
	seen := map[string]bool{}
	held := map[string]bool{}
	for _, line := range lines[3:] {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if len(parts) != 1+slot.PerDay {
			return nil, fmt.Errorf("%w: date row has %d tokens, want %d", ErrMalformedStructure, len(parts), 1+slot.PerDay)
		}
		date, err := time.Parse(DateLayout, parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: date %q", ErrMalformedStructure, parts[0])
		}
		if seen[parts[0]] {
			return nil, fmt.Errorf("%w: duplicate date row %s", ErrMalformedStructure, parts[0])
		}
		seen[parts[0]] = true

		row := DateRow{Date: date}
		for i, tok := range parts[1:] {
			st, err := ParseSlotStatus(tok)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", parts[0], err)
			}
			if st.State == SlotReserved {
				if held[st.ReservationID] {
					return nil, fmt.Errorf("%w: reservation %s occupies more than one cell", ErrMalformedStructure, st.ReservationID)
				}
				held[st.ReservationID] = true
			}
			row.Cells[i] = st
		}
		d.Rows = append(d.Rows, row)
	}
	return d, nil
}

// DoctorGridStore persists doctor/Dxxxxx.txt and doctor/Dxxxxx-master.txt.
type DoctorGridStore struct {
	dir string
}

func NewDoctorGridStore(dataDir string) *DoctorGridStore {
	return &DoctorGridStore{dir: filepath.Join(dataDir, "doctor")}
}

func (s *DoctorGridStore) DetailPath(doctorID string) string {
	return filepath.Join(s.dir, doctorID+".txt")
}

func (s *DoctorGridStore) MasterPath(doctorID string) string {
	return filepath.Join(s.dir, doctorID+"-master.txt")
}

func (s *DoctorGridStore) LoadDetail(doctorID string) (*DoctorDetail, error) {
	path := s.DetailPath(doctorID)
	lines, err := storage.ReadLines(path)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("%w: schedule file for %s", ErrUnknownDoctor, doctorID)
	}
	if err != nil {
		return nil, err
	}
	d, err := ParseDoctorDetail(lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if d.Doctor.ID != doctorID {
		return nil, fmt.Errorf("%s: %w: identity %s", path, ErrMalformedStructure, d.Doctor.ID)
	}
	return d, nil
}

func (s *DoctorGridStore) saveDetail(d *DoctorDetail) error {
	return storage.WriteLines(s.DetailPath(d.Doctor.ID), d.Lines())
}

func (s *DoctorGridStore) WeeklyTemplate(doctorID string) (WeeklyTemplate, error) {
	path := s.MasterPath(doctorID)
	lines, err := storage.ReadLines(path)
	if errors.Is(err, storage.ErrNotExist) {
		return WeeklyTemplate{}, fmt.Errorf("%w: weekly template for %s", ErrUnknownDoctor, doctorID)
	}
	if err != nil {
		return WeeklyTemplate{}, err
	}
	t, err := ParseWeeklyTemplate(lines)
	if err != nil {
		return WeeklyTemplate{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// SaveWeeklyTemplate writes the master file and refreshes the weekday
// flags of the detail file.
func (s *DoctorGridStore) SaveWeeklyTemplate(doctorID string, t WeeklyTemplate) error {
	d, err := s.LoadDetail(doctorID)
	if err != nil {
		return err
	}
	if err := storage.WriteLines(s.MasterPath(doctorID), t.Lines()); err != nil {
		return err
	}
	if d.Flags == t.Flags() {
		return nil
	}
	d.Flags = t.Flags()
	return s.saveDetail(d)
}

// DateRow returns the 54 cells of a date. A date without a row is all
// Free and reported with ok=false.
func (s *DoctorGridStore) DateRow(doctorID string, date time.Time) (cells [slot.PerDay]SlotStatus, ok bool, err error) {
	d, err := s.LoadDetail(doctorID)
	if err != nil {
		return cells, false, err
	}
	if r := d.row(date); r != nil {
		return r.Cells, true, nil
	}
	return cells, false, nil
}

// SetCell mirrors DateGridStore.Reserve on the doctor's own table.
func (s *DoctorGridStore) SetCell(doctorID string, date time.Time, index int, reservationID string) error {
	if index < 0 || index >= slot.PerDay {
		return fmt.Errorf("%w: slot %d", ErrBadTime, index)
	}
	d, err := s.LoadDetail(doctorID)
	if err != nil {
		return err
	}

	r := d.row(date)
	if r == nil {
		d.Rows = append(d.Rows, DateRow{Date: date})
		sort.Slice(d.Rows, func(i, j int) bool { return d.Rows[i].Date.Before(d.Rows[j].Date) })
		r = d.row(date)
	}
	cell := r.Cells[index]
	if cell.Holds(reservationID) {
		return nil
	}
	if !cell.IsFree() {
		return fmt.Errorf("%w: %s %s %s", ErrSlotNotFree, doctorID, date.Format(DateLayout), slot.Format(index))
	}
	for _, row := range d.Rows {
		for _, c := range row.Cells {
			if c.Holds(reservationID) {
				return fmt.Errorf("%w: %s already held on %s", ErrSlotNotFree, reservationID, row.Date.Format(DateLayout))
			}
		}
	}
	r.Cells[index] = Reserved(reservationID)
	return s.saveDetail(d)
}

// ClearCell mirrors DateGridStore.Release. Clearing a date with no row is
// a no-op.
func (s *DoctorGridStore) ClearCell(doctorID string, date time.Time, reservationID string) error {
	d, err := s.LoadDetail(doctorID)
	if err != nil {
		return err
	}
	r := d.row(date)
	if r == nil {
		return nil
	}
	for i, c := range r.Cells {
		if c.Holds(reservationID) {
			r.Cells[i] = Free()
			return s.saveDetail(d)
		}
	}
	return fmt.Errorf("%w: %s in %s schedule on %s", ErrReservationNotFound, reservationID, doctorID, date.Format(DateLayout))
}

// Remove deletes both schedule files of a doctor.
func (s *DoctorGridStore) Remove(doctorID string) error {
	if err := storage.Remove(s.DetailPath(doctorID)); err != nil {
		return err
	}
	return storage.Remove(s.MasterPath(doctorID))
}

// Create writes the detail and master files of a newly registered doctor.
func (s *DoctorGridStore) Create(doc registry.Doctor) error {
	if storage.Exists(s.DetailPath(doc.ID)) || storage.Exists(s.MasterPath(doc.ID)) {
		return fmt.Errorf("%w: schedule files for %s already exist", ErrMalformedStructure, doc.ID)
	}
	var empty WeeklyTemplate
	d := &DoctorDetail{Doctor: doc, Flags: empty.Flags()}
	if err := s.saveDetail(d); err != nil {
		return err
	}
	return storage.WriteLines(s.MasterPath(doc.ID), empty.Lines())
}
