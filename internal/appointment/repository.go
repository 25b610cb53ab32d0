package appointment

import (
	"context"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/registry"
)

// ReservationIndex contains every lookup the service performs across all
// patient ledgers. LedgerStore implements it with linear scans.
type ReservationIndex interface {
	FindByID(reservationID string) (ReservationRecord, error)
	Find(filter LedgerFilter) ([]ReservationRecord, error)

	// Allocator recovery
	MaxSequence() (int, error)
}

// LedgerFilter narrows a ledger scan. Zero values match everything.
type LedgerFilter struct {
	PatientID string
	DoctorID  string
	Status    ReservationStatus
	Date      func(time.Time) bool
	Weekday   *time.Weekday
	Slot      func(int) bool
}

func (f LedgerFilter) match(r ReservationRecord) bool {
	switch {
	case f.PatientID != "" && r.PatientID != f.PatientID:
		return false
	case f.DoctorID != "" && r.DoctorID != f.DoctorID:
		return false
	case f.Status != 0 && r.Status != f.Status:
		return false
	case f.Date != nil && !f.Date(r.Date):
		return false
	case f.Weekday != nil && r.Date.Weekday() != *f.Weekday:
		return false
	case f.Slot != nil && !f.Slot(r.Slot):
		return false
	}
	return true
}

// EventSink receives audit events for committed operations.
type EventSink interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

type Clock interface {
	Now() time.Time
	Today() time.Time
}

type DoctorDirectory interface {
	Resolve(ref string) (registry.Doctor, error)
	Get(id string) (registry.Doctor, error)
	All() []registry.Doctor
	IDs() []string
	InDepartment(code string) []registry.Doctor
	NextID() string
	Add(d registry.Doctor) error
}

type PatientDirectory interface {
	Get(id string) (registry.Patient, error)
	All() []registry.Patient
	NextID() string
	Add(p registry.Patient) error
	SetNoShowCount(id string, n int) error
}

type DepartmentRegistry interface {
	Exists(code string) bool
	Name(code string) (string, bool)
	Add(code, name string) error
}
