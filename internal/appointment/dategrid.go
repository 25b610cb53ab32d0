package appointment

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/storage"
)

const (
	dateFileLayout = "20060102"
	timeHeader     = "TIME"
)

var dateFilePattern = regexp.MustCompile(`^\d{8}\.txt$`)

// DateGrid is one appointment/YYYYMMDD.txt entry: doctor columns by slot rows.
type DateGrid struct {
	Date    time.Time
	Doctors []string
	Rows    [slot.PerDay][]SlotStatus
}

// NewDateGrid returns an entry with every cell Free.
func NewDateGrid(date time.Time, doctors []string) *DateGrid {
	g := &DateGrid{Date: date, Doctors: append([]string(nil), doctors...)}
	for i := range g.Rows {
		g.Rows[i] = make([]SlotStatus, len(doctors))
	}
	return g
}

func (g *DateGrid) Column(doctorID string) int {
	for i, d := range g.Doctors {
		if d == doctorID {
			return i
		}
	}
	return -1
}

func (g *DateGrid) Cell(doctorID string, index int) (SlotStatus, error) {
	col := g.Column(doctorID)
	if col < 0 {
		return SlotStatus{}, fmt.Errorf("%w: %s on %s", ErrDoctorNotInGrid, doctorID, g.Date.Format(DateLayout))
	}
	if index < 0 || index >= slot.PerDay {
		return SlotStatus{}, fmt.Errorf("%w: slot %d", ErrBadTime, index)
	}
	return g.Rows[index][col], nil
}

// Locate finds the cell holding a reservation id.
func (g *DateGrid) Locate(reservationID string) (doctorID string, index int, ok bool) {
	for i, row := range g.Rows {
		for c, cell := range row {
			if cell.Holds(reservationID) {
				return g.Doctors[c], i, true
			}
		}
	}
	return "", 0, false
}

// ReservationIDs returns every id held in the grid.
func (g *DateGrid) ReservationIDs() []string {
	var ids []string
	for _, row := range g.Rows {
		for _, cell := range row {
			if cell.State == SlotReserved {
				ids = append(ids, cell.ReservationID)
			}
		}
	}
	return ids
}

func (g *DateGrid) Lines() []string {
	lines := make([]string, 0, 2+slot.PerDay)
	lines = append(lines, g.Date.Format(DateLayout))
	lines = append(lines, strings.Join(append([]string{timeHeader}, g.Doctors...), " "))
	for i, row := range g.Rows {
		tokens := make([]string, 0, 1+len(row))
		tokens = append(tokens, slot.Format(i))
		for _, cell := range row {
			tokens = append(tokens, cell.Token())
		}
		lines = append(lines, strings.Join(tokens, " "))
	}
	return lines
}

// ParseDateGrid validates a date entry against the schema: date line,
// TIME header with unique doctor ids, then exactly the 54 canonical rows
// in order with 1+doctorCount tokens each.
func ParseDateGrid(lines []string, date time.Time) (*DateGrid, error) {
	lines = trimTrailingBlank(lines)
	if len(lines) != 2+slot.PerDay {
		return nil, fmt.Errorf("%w: %d lines, want %d", ErrMalformedStructure, len(lines), 2+slot.PerDay)
	}

	want := date.Format(DateLayout)
	if strings.TrimSpace(lines[0]) != want {
		return nil, fmt.Errorf("%w: date line %q, want %q", ErrMalformedStructure, strings.TrimSpace(lines[0]), want)
	}

	header := strings.Fields(lines[1])
	if len(header) == 0 || header[0] != timeHeader {
		return nil, fmt.Errorf("%w: header must start with %s", ErrMalformedStructure, timeHeader)
	}
	doctors := header[1:]
	seen := make(map[string]bool, len(doctors))
	for _, d := range doctors {
		if !registry.IsDoctorID(d) {
			return nil, fmt.Errorf("%w: doctor column %q", ErrMalformedStructure, d)
		}
		if seen[d] {
			return nil, fmt.Errorf("%w: duplicate doctor column %s", ErrMalformedStructure, d)
		}
		seen[d] = true
	}

	g := NewDateGrid(date, doctors)
	held := map[string]bool{}
	canonical := slot.Canonical()
	for i := 0; i < slot.PerDay; i++ {
		tokens := strings.Fields(lines[2+i])
		if len(tokens) != 1+len(doctors) {
			return nil, fmt.Errorf("%w: row %d has %d tokens, want %d", ErrMalformedStructure, i+1, len(tokens), 1+len(doctors))
		}
		if tokens[0] != canonical[i] {
			return nil, fmt.Errorf("%w: row %d time %q, want %s", ErrMalformedStructure, i+1, tokens[0], canonical[i])
		}
		for c, tok := range tokens[1:] {
			st, err := ParseSlotStatus(tok)
			if err != nil {
				return nil, fmt.Errorf("row %s: %w", canonical[i], err)
			}
			if st.State == SlotReserved {
				if held[st.ReservationID] {
					return nil, fmt.Errorf("%w: reservation %s occupies more than one cell", ErrMalformedStructure, st.ReservationID)
				}
				held[st.ReservationID] = true
			}
			g.Rows[i][c] = st
		}
	}
	return g, nil
}

// DateGridStore persists one file per date under appointment/.
// Every mutation rewrites the whole entry.
type DateGridStore struct {
	dir string
}

func NewDateGridStore(dataDir string) *DateGridStore {
	return &DateGridStore{dir: filepath.Join(dataDir, "appointment")}
}

func (s *DateGridStore) Path(date time.Time) string {
	return filepath.Join(s.dir, date.Format(dateFileLayout)+".txt")
}

func (s *DateGridStore) Load(date time.Time) (*DateGrid, error) {
	path := s.Path(date)
	lines, err := storage.ReadLines(path)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDateGridNotFound, date.Format(DateLayout))
	}
	if err != nil {
		return nil, err
	}
	g, err := ParseDateGrid(lines, date)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func (s *DateGridStore) save(g *DateGrid) error {
	return storage.WriteLines(s.Path(g.Date), g.Lines())
}

// Ensure returns the entry for date, creating it with the given doctor
// columns when it does not exist.
func (s *DateGridStore) Ensure(date time.Time, doctorIDs []string) (*DateGrid, error) {
	g, err := s.Load(date)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrDateGridNotFound) {
		return nil, err
	}
	g = NewDateGrid(date, doctorIDs)
	if err := s.save(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *DateGridStore) AvailableSlots(date time.Time, doctorID string) ([]int, error) {
	g, err := s.Load(date)
	if err != nil {
		return nil, err
	}
	col := g.Column(doctorID)
	if col < 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrDoctorNotInGrid, doctorID, date.Format(DateLayout))
	}
	var free []int
	for i, row := range g.Rows {
		if row[col].IsFree() {
			free = append(free, i)
		}
	}
	return free, nil
}

// Reserve marks the cell as held by reservationID. Reserving a cell that
// already holds the same id is a no-op.
func (s *DateGridStore) Reserve(date time.Time, doctorID string, index int, reservationID string) error {
	g, err := s.Load(date)
	if err != nil {
		return err
	}
	cell, err := g.Cell(doctorID, index)
	if err != nil {
		return err
	}
	if cell.Holds(reservationID) {
		return nil
	}
	if !cell.IsFree() {
		return fmt.Errorf("%w: %s %s %s", ErrSlotNotFree, doctorID, date.Format(DateLayout), slot.Format(index))
	}
	if other, _, ok := g.Locate(reservationID); ok {
		return fmt.Errorf("%w: %s already held by %s", ErrSlotNotFree, reservationID, other)
	}
	g.Rows[index][g.Column(doctorID)] = Reserved(reservationID)
	return s.save(g)
}

// Release frees the cell holding reservationID.
func (s *DateGridStore) Release(date time.Time, reservationID string) error {
	g, err := s.Load(date)
	if err != nil {
		if errors.Is(err, ErrDateGridNotFound) {
			return fmt.Errorf("%w: %s on %s", ErrReservationNotFound, reservationID, date.Format(DateLayout))
		}
		return err
	}
	doctorID, index, ok := g.Locate(reservationID)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrReservationNotFound, reservationID, date.Format(DateLayout))
	}
	g.Rows[index][g.Column(doctorID)] = Free()
	return s.save(g)
}

// SetStatus leaves the grid untouched: a completed or no-show reservation
// still occupies its cell. It only verifies the cell exists.
func (s *DateGridStore) SetStatus(date time.Time, reservationID string, status ReservationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %d", ErrInvalidTransition, status)
	}
	g, err := s.Load(date)
	if err != nil {
		return err
	}
	if _, _, ok := g.Locate(reservationID); !ok {
		return fmt.Errorf("%w: %s on %s", ErrReservationNotFound, reservationID, date.Format(DateLayout))
	}
	return nil
}

// OnboardDoctor appends a Free column for doctorID to every stored date.
func (s *DateGridStore) OnboardDoctor(doctorID string) error {
	dates, err := s.Dates()
	if err != nil {
		return err
	}
	// every grid is parsed before any is rewritten
	var grids []*DateGrid
	for _, d := range dates {
		g, err := s.Load(d)
		if err != nil {
			return err
		}
		if g.Column(doctorID) < 0 {
			grids = append(grids, g)
		}
	}
	for _, g := range grids {
		g.Doctors = append(g.Doctors, doctorID)
		for i := range g.Rows {
			g.Rows[i] = append(g.Rows[i], Free())
		}
		if err := s.save(g); err != nil {
			return err
		}
	}
	return nil
}

// Dates lists stored entries in ascending order.
func (s *DateGridStore) Dates() ([]time.Time, error) {
	names, err := storage.List(s.dir, dateFilePattern.MatchString)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(names))
	for _, n := range names {
		d, err := time.Parse(dateFileLayout, strings.TrimSuffix(n, ".txt"))
		if err != nil {
			return nil, fmt.Errorf("%w: grid file name %s", ErrMalformedStructure, n)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
