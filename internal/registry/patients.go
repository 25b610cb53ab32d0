package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hackgods/clinic-scheduling/internal/storage"
)

type Patient struct {
	ID       string
	Username string
	Name     string
	Birth    string // YYYY-MM-DD
	Phone    string
	NoShows  int
}

// Line renders the 6-token patientlist.txt row.
func (p Patient) Line() string {
	return strings.Join([]string{p.ID, p.Username, p.Name, p.Birth, p.Phone, strconv.Itoa(p.NoShows)}, " ")
}

// ParsePatient reads a 6-token patientlist.txt row.
func ParsePatient(line string) (Patient, error) {
	parts := strings.Fields(line)
	if len(parts) != 6 {
		return Patient{}, fmt.Errorf("%w: patient row has %d fields, want 6", ErrInvalidField, len(parts))
	}
	if !IsPatientID(parts[0]) {
		return Patient{}, fmt.Errorf("%w: patient id %q", ErrInvalidField, parts[0])
	}
	if !IsDate(parts[3]) {
		return Patient{}, fmt.Errorf("%w: birth date %q", ErrInvalidField, parts[3])
	}
	if !IsPhone(parts[4]) {
		return Patient{}, fmt.Errorf("%w: phone %q", ErrInvalidField, parts[4])
	}
	if !IsCount(parts[5]) {
		return Patient{}, fmt.Errorf("%w: no-show count %q", ErrInvalidField, parts[5])
	}
	n, _ := strconv.Atoi(parts[5])
	return Patient{
		ID:       parts[0],
		Username: parts[1],
		Name:     parts[2],
		Birth:    parts[3],
		Phone:    parts[4],
		NoShows:  n,
	}, nil
}

// Patients is the patient directory backed by patient/patientlist.txt.
type Patients struct {
	mu       sync.RWMutex
	path     string
	patients []Patient
}

func PatientListPath(dataDir string) string {
	return filepath.Join(dataDir, "patient", "patientlist.txt")
}

func LoadPatients(dataDir string) (*Patients, error) {
	p := &Patients{path: PatientListPath(dataDir)}

	lines, err := storage.ReadLines(p.path)
	if errors.Is(err, storage.ErrNotExist) {
		return p, storage.WriteLines(p.path, []string{PatientListHeader})
	}
	if err != nil {
		return nil, err
	}

	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		pat, err := ParsePatient(line)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", p.path, i+1, err)
		}
		p.patients = append(p.patients, pat)
	}
	return p, nil
}

func (p *Patients) All() []Patient {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Patient(nil), p.patients...)
}

func (p *Patients) Get(id string) (Patient, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pat := range p.patients {
		if pat.ID == id {
			return pat, nil
		}
	}
	return Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
}

func (p *Patients) NextID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	maxN := 0
	for _, pat := range p.patients {
		if n, err := strconv.Atoi(pat.ID[1:]); err == nil && n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("P%06d", maxN+1)
}

func (p *Patients) Add(pat Patient) error {
	if _, err := ParsePatient(pat.Line()); err != nil {
		return err
	}
	if _, err := p.Get(pat.ID); err == nil {
		return fmt.Errorf("%w: patient %s already registered", ErrInvalidField, pat.ID)
	}
	if err := storage.AppendLine(p.path, pat.Line()); err != nil {
		return err
	}

	p.mu.Lock()
	p.patients = append(p.patients, pat)
	p.mu.Unlock()
	return nil
}

// SetNoShowCount rewrites the patient's row in the list file.
func (p *Patients) SetNoShowCount(id string, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	for i, pat := range p.patients {
		if pat.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if p.patients[idx].NoShows == n {
		return nil
	}

	lines, err := storage.ReadLines(p.path)
	if err != nil {
		return err
	}
	updated := p.patients[idx]
	updated.NoShows = n

	found := false
	for i := 1; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) > 0 && fields[0] == id {
			lines[i] = updated.Line()
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s missing from %s", ErrPatientNotFound, id, p.path)
	}
	if err := storage.WriteLines(p.path, lines); err != nil {
		return err
	}
	p.patients[idx] = updated
	return nil
}
