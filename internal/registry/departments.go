package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hackgods/clinic-scheduling/internal/storage"
)

type Department struct {
	Code string
	Name string
}

// DefaultDepartments is written to major/majorlist.txt on first run.
var DefaultDepartments = []Department{
	{Code: "IM", Name: "내과"},
	{Code: "GS", Name: "외과"},
	{Code: "OB", Name: "산부인과"},
	{Code: "PED", Name: "소아과"},
	{Code: "PSY", Name: "정신건강의학과"},
	{Code: "DERM", Name: "피부과"},
	{Code: "ENT", Name: "이비인후과"},
	{Code: "ORTH", Name: "정형외과"},
}

type Departments struct {
	mu    sync.RWMutex
	path  string
	items []Department
}

func DepartmentsPath(dataDir string) string {
	return filepath.Join(dataDir, "major", "majorlist.txt")
}

// LoadDepartments reads the registry, seeding the default set when the
// file does not exist yet.
func LoadDepartments(dataDir string) (*Departments, error) {
	d := &Departments{path: DepartmentsPath(dataDir)}

	lines, err := storage.ReadLines(d.path)
	if errors.Is(err, storage.ErrNotExist) {
		d.items = append([]Department(nil), DefaultDepartments...)
		return d, d.persist()
	}
	if err != nil {
		return nil, err
	}

	items, err := ParseDepartments(lines)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.path, err)
	}
	d.items = items
	return d, nil
}

// ParseDepartments reads "CODE name" lines; blank lines are skipped.
func ParseDepartments(lines []string) ([]Department, error) {
	var out []Department
	seen := map[string]bool{}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		code, name, ok := strings.Cut(line, " ")
		name = strings.TrimSpace(name)
		if !ok || name == "" || !IsDeptCode(code) {
			return nil, fmt.Errorf("line %d: %w: department row %q", i+1, ErrInvalidField, line)
		}
		if seen[code] {
			return nil, fmt.Errorf("line %d: %w: duplicate department %s", i+1, ErrInvalidField, code)
		}
		seen[code] = true
		out = append(out, Department{Code: code, Name: name})
	}
	return out, nil
}

func (d *Departments) Exists(code string) bool {
	_, ok := d.Name(code)
	return ok
}

func (d *Departments) Name(code string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dep := range d.items {
		if dep.Code == code {
			return dep.Name, true
		}
	}
	return "", false
}

func (d *Departments) All() []Department {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Department(nil), d.items...)
}

// Add registers a new department code.
func (d *Departments) Add(code, name string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if !IsDeptCode(code) || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: department %q %q", ErrInvalidField, code, name)
	}
	if d.Exists(code) {
		return fmt.Errorf("%w: %s", ErrDepartmentExists, code)
	}

	d.mu.Lock()
	d.items = append(d.items, Department{Code: code, Name: name})
	d.mu.Unlock()

	return storage.AppendLine(d.path, code+" "+name)
}

func (d *Departments) persist() error {
	d.mu.RLock()
	lines := make([]string, 0, len(d.items))
	for _, dep := range d.items {
		lines = append(lines, dep.Code+" "+dep.Name)
	}
	d.mu.RUnlock()
	return storage.WriteLines(d.path, lines)
}
