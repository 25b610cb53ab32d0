package appointment

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/storage"
)

const LedgerHeader = "[예약번호] [예약날짜] [시작시간] [종료시간] [진료과] [의사번호] [상태]"

var ledgerFilePattern = regexp.MustCompile(`^P\d{6}\.txt$`)

// Ledger is one patient/Pxxxxxx.txt file.
type Ledger struct {
	PatientID string
	Name      string
	Birth     string
	Phone     string
	NoShows   int
	Records   []ReservationRecord
}

func (l *Ledger) identity() string {
	return strings.Join([]string{l.PatientID, l.Name, l.Birth, l.Phone, strconv.Itoa(l.NoShows)}, " ")
}

func (l *Ledger) Lines() []string {
	lines := []string{l.identity(), "", LedgerHeader}
	for _, r := range l.Records {
		lines = append(lines, r.Line())
	}
	return lines
}

func (l *Ledger) index(reservationID string) int {
	for i, r := range l.Records {
		if r.ID == reservationID {
			return i
		}
	}
	return -1
}

// ParseLedger validates the identity line, the blank separator, the
// header literal and every reservation row.
func ParseLedger(lines []string) (*Ledger, error) {
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: ledger has %d lines, want at least 3", ErrMalformedStructure, len(lines))
	}
	id := strings.Fields(lines[0])
	if len(id) != 5 {
		return nil, fmt.Errorf("%w: identity line has %d fields, want 5", ErrMalformedStructure, len(id))
	}
	if !registry.IsPatientID(id[0]) || !registry.IsDate(id[2]) || !registry.IsPhone(id[3]) || !registry.IsCount(id[4]) {
		return nil, fmt.Errorf("%w: identity line %q", ErrMalformedStructure, lines[0])
	}
	if strings.TrimSpace(lines[1]) != "" {
		return nil, fmt.Errorf("%w: line 2 must be blank", ErrMalformedStructure)
	}
	if strings.TrimSpace(lines[2]) != LedgerHeader {
		return nil, fmt.Errorf("%w: ledger header %q", ErrMalformedStructure, strings.TrimSpace(lines[2]))
	}

	n, _ := strconv.Atoi(id[4])
	l := &Ledger{PatientID: id[0], Name: id[1], Birth: id[2], Phone: id[3], NoShows: n}
	for _, line := range lines[3:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseReservationRecord(l.PatientID, line)
		if err != nil {
			return nil, err
		}
		if l.index(rec.ID) >= 0 {
			return nil, fmt.Errorf("%w: reservation %s listed twice", ErrMalformedStructure, rec.ID)
		}
		l.Records = append(l.Records, rec)
	}
	return l, nil
}

// LedgerStore persists patient ledgers under patient/. It is also the
// linear-scan ReservationIndex.
type LedgerStore struct {
	dir string
}

var _ ReservationIndex = (*LedgerStore)(nil)

func NewLedgerStore(dataDir string) *LedgerStore {
	return &LedgerStore{dir: filepath.Join(dataDir, "patient")}
}

func (s *LedgerStore) Path(patientID string) string {
	return filepath.Join(s.dir, patientID+".txt")
}

func (s *LedgerStore) Load(patientID string) (*Ledger, error) {
	path := s.Path(patientID)
	lines, err := storage.ReadLines(path)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, fmt.Errorf("%w: ledger for %s", ErrUnknownPatient, patientID)
	}
	if err != nil {
		return nil, err
	}
	l, err := ParseLedger(lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if l.PatientID != patientID {
		return nil, fmt.Errorf("%s: %w: identity %s", path, ErrMalformedStructure, l.PatientID)
	}
	return l, nil
}

func (s *LedgerStore) save(l *Ledger) error {
	return storage.WriteLines(s.Path(l.PatientID), l.Lines())
}

// Create writes an empty ledger for a newly registered patient.
func (s *LedgerStore) Create(p registry.Patient) error {
	if storage.Exists(s.Path(p.ID)) {
		return fmt.Errorf("%w: ledger for %s already exists", ErrMalformedStructure, p.ID)
	}
	return s.save(&Ledger{PatientID: p.ID, Name: p.Name, Birth: p.Birth, Phone: p.Phone, NoShows: p.NoShows})
}

// Append adds a Booked record.
func (s *LedgerStore) Append(patientID string, rec ReservationRecord) error {
	if rec.Status != StatusBooked {
		return fmt.Errorf("%w: new records must be booked, got %s", ErrInvalidTransition, rec.Status)
	}
	l, err := s.Load(patientID)
	if err != nil {
		return err
	}
	if l.index(rec.ID) >= 0 {
		return fmt.Errorf("%w: reservation %s already in ledger of %s", ErrMalformedStructure, rec.ID, patientID)
	}
	rec.PatientID = patientID
	l.Records = append(l.Records, rec)
	return s.save(l)
}

// UpdateStatus rewrites only the status field of one record.
func (s *LedgerStore) UpdateStatus(patientID, reservationID string, status ReservationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %d", ErrInvalidTransition, status)
	}
	l, err := s.Load(patientID)
	if err != nil {
		return err
	}
	i := l.index(reservationID)
	if i < 0 {
		return fmt.Errorf("%w: %s for %s", ErrRecordNotFound, reservationID, patientID)
	}
	cur := l.Records[i].Status
	if cur == status {
		return nil
	}
	if !cur.CanTransition(status) {
		return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, reservationID, cur, status)
	}
	l.Records[i].Status = status
	return s.save(l)
}

// Update rewrites a record in place, keeping its position in the ledger.
func (s *LedgerStore) Update(patientID string, rec ReservationRecord) error {
	l, err := s.Load(patientID)
	if err != nil {
		return err
	}
	i := l.index(rec.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s for %s", ErrRecordNotFound, rec.ID, patientID)
	}
	rec.PatientID = patientID
	l.Records[i] = rec
	return s.save(l)
}

func (s *LedgerStore) PatientIDs() ([]string, error) {
	names, err := storage.List(s.dir, ledgerFilePattern.MatchString)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = strings.TrimSuffix(n, ".txt")
	}
	return ids, nil
}

// All scans every ledger.
func (s *LedgerStore) All() ([]ReservationRecord, error) {
	return s.Find(LedgerFilter{})
}

func (s *LedgerStore) ForPatient(patientID string) ([]ReservationRecord, error) {
	l, err := s.Load(patientID)
	if err != nil {
		return nil, err
	}
	return append([]ReservationRecord(nil), l.Records...), nil
}

func (s *LedgerStore) FindByID(reservationID string) (ReservationRecord, error) {
	ids, err := s.PatientIDs()
	if err != nil {
		return ReservationRecord{}, err
	}
	for _, pid := range ids {
		l, err := s.Load(pid)
		if err != nil {
			return ReservationRecord{}, err
		}
		if i := l.index(reservationID); i >= 0 {
			return l.Records[i], nil
		}
	}
	return ReservationRecord{}, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
}

func (s *LedgerStore) Find(filter LedgerFilter) ([]ReservationRecord, error) {
	ids := []string{filter.PatientID}
	if filter.PatientID == "" {
		var err error
		if ids, err = s.PatientIDs(); err != nil {
			return nil, err
		}
	}

	var out []ReservationRecord
	for _, pid := range ids {
		l, err := s.Load(pid)
		if err != nil {
			return nil, err
		}
		for _, r := range l.Records {
			if filter.match(r) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// MaxSequence returns the highest reservation sequence in any ledger.
func (s *LedgerStore) MaxSequence() (int, error) {
	all, err := s.All()
	if err != nil {
		return 0, err
	}
	maxSeq := 0
	for _, r := range all {
		if n, ok := ReservationSeq(r.ID); ok && n > maxSeq {
			maxSeq = n
		}
	}
	return maxSeq, nil
}

func (s *LedgerStore) NoShowCount(patientID string) (int, error) {
	l, err := s.Load(patientID)
	if err != nil {
		return 0, err
	}
	return l.NoShows, nil
}

func (s *LedgerStore) SetNoShowCount(patientID string, n int) error {
	l, err := s.Load(patientID)
	if err != nil {
		return err
	}
	if l.NoShows == n {
		return nil
	}
	l.NoShows = n
	return s.save(l)
}
