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

type Doctor struct {
	ID         string
	Name       string
	Dept       string
	Phone      string
	Registered string // YYYY-MM-DD
}

// Line renders the 5-token row shared by doctorlist.txt and the
// identity line of the doctor's detail file.
func (d Doctor) Line() string {
	return strings.Join([]string{d.ID, d.Name, d.Dept, d.Phone, d.Registered}, " ")
}

// ParseDoctor reads a 5-token doctor row.
func ParseDoctor(line string) (Doctor, error) {
	parts := strings.Fields(line)
	if len(parts) != 5 {
		return Doctor{}, fmt.Errorf("%w: doctor row has %d fields, want 5", ErrInvalidField, len(parts))
	}
	d := Doctor{ID: parts[0], Name: parts[1], Dept: parts[2], Phone: parts[3], Registered: parts[4]}
	switch {
	case !IsDoctorID(d.ID):
		return Doctor{}, fmt.Errorf("%w: doctor id %q", ErrInvalidField, d.ID)
	case !IsDeptCode(d.Dept):
		return Doctor{}, fmt.Errorf("%w: department code %q", ErrInvalidField, d.Dept)
	case !IsPhone(d.Phone):
		return Doctor{}, fmt.Errorf("%w: phone %q", ErrInvalidField, d.Phone)
	case !IsDate(d.Registered):
		return Doctor{}, fmt.Errorf("%w: registration date %q", ErrInvalidField, d.Registered)
	}
	return d, nil
}

// Doctors is the doctor directory backed by doctor/doctorlist.txt.
type Doctors struct {
	mu      sync.RWMutex
	path    string
	doctors []Doctor
}

func DoctorListPath(dataDir string) string {
	return filepath.Join(dataDir, "doctor", "doctorlist.txt")
}

func LoadDoctors(dataDir string) (*Doctors, error) {
	d := &Doctors{path: DoctorListPath(dataDir)}

	lines, err := storage.ReadLines(d.path)
	if errors.Is(err, storage.ErrNotExist) {
		return d, storage.WriteLines(d.path, []string{DoctorListHeader})
	}
	if err != nil {
		return nil, err
	}

	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		doc, err := ParseDoctor(line)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", d.path, i+1, err)
		}
		d.doctors = append(d.doctors, doc)
	}
	return d, nil
}

func (d *Doctors) All() []Doctor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Doctor(nil), d.doctors...)
}

// IDs returns doctor ids in registration order.
func (d *Doctors) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, len(d.doctors))
	for i, doc := range d.doctors {
		ids[i] = doc.ID
	}
	return ids
}

func (d *Doctors) Get(id string) (Doctor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, doc := range d.doctors {
		if doc.ID == id {
			return doc, nil
		}
	}
	return Doctor{}, fmt.Errorf("%w: %s", ErrDoctorNotFound, id)
}

// Resolve accepts either a doctor id or a display name.
func (d *Doctors) Resolve(ref string) (Doctor, error) {
	ref = strings.TrimSpace(ref)
	if IsDoctorID(ref) {
		return d.Get(ref)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	var found []Doctor
	for _, doc := range d.doctors {
		if doc.Name == ref {
			found = append(found, doc)
		}
	}
	switch len(found) {
	case 0:
		return Doctor{}, fmt.Errorf("%w: %s", ErrDoctorNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return Doctor{}, fmt.Errorf("%w: %s", ErrAmbiguousDoctor, ref)
	}
}

func (d *Doctors) InDepartment(code string) []Doctor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Doctor
	for _, doc := range d.doctors {
		if doc.Dept == code {
			out = append(out, doc)
		}
	}
	return out
}

// NextID returns the id after the highest one registered.
func (d *Doctors) NextID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	maxN := 0
	for _, doc := range d.doctors {
		if n, err := strconv.Atoi(doc.ID[1:]); err == nil && n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("D%05d", maxN+1)
}

// Add appends the doctor to the list file.
func (d *Doctors) Add(doc Doctor) error {
	if _, err := ParseDoctor(doc.Line()); err != nil {
		return err
	}
	if _, err := d.Get(doc.ID); err == nil {
		return fmt.Errorf("%w: doctor %s already registered", ErrInvalidField, doc.ID)
	}
	if err := storage.AppendLine(d.path, doc.Line()); err != nil {
		return err
	}

	d.mu.Lock()
	d.doctors = append(d.doctors, doc)
	d.mu.Unlock()
	return nil
}
