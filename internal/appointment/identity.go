package appointment

import "fmt"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Identity is the caller on whose behalf an operation runs.
type Identity interface {
	CurrentUserID() string
	CurrentUserRole() Role
}

type StaticIdentity struct {
	ID   string
	Role Role
}

func (s StaticIdentity) CurrentUserID() string { return s.ID }
func (s StaticIdentity) CurrentUserRole() Role { return s.Role }

// Admin is the identity used by tools that act on behalf of the clinic.
var Admin Identity = StaticIdentity{ID: "admin", Role: RoleAdmin}

func requireRole(who Identity, roles ...Role) error {
	r := who.CurrentUserRole()
	for _, allowed := range roles {
		if r == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRoleNotAllowed, r)
}

// authorizeRecord checks that the caller may act on rec. Patients own
// their reservations and doctors own the ones booked with them.
func authorizeRecord(who Identity, rec ReservationRecord, roles ...Role) error {
	if err := requireRole(who, roles...); err != nil {
		return err
	}
	switch who.CurrentUserRole() {
	case RolePatient:
		if rec.PatientID != who.CurrentUserID() {
			return fmt.Errorf("%w: %s", ErrNotOwner, rec.ID)
		}
	case RoleDoctor:
		if rec.DoctorID != who.CurrentUserID() {
			return fmt.Errorf("%w: %s", ErrNotOwner, rec.ID)
		}
	}
	return nil
}

// authorizeDoctor lets doctors act on their own schedule and admins on any.
func authorizeDoctor(who Identity, doctorID string) error {
	if err := requireRole(who, RoleDoctor, RoleAdmin); err != nil {
		return err
	}
	if who.CurrentUserRole() == RoleDoctor && who.CurrentUserID() != doctorID {
		return fmt.Errorf("%w: schedule of %s", ErrNotOwner, doctorID)
	}
	return nil
}
