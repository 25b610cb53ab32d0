package appointment

import "errors"

// Kind classifies every error the scheduler returns.
type Kind int

const (
	KindStructural Kind = iota + 1
	KindReferential
	KindStateConflict
	KindNotFound
	KindForbidden
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural error"
	case KindReferential:
		return "referential error"
	case KindStateConflict:
		return "state conflict"
	case KindNotFound:
		return "not found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidInput:
		return "invalid input"
	default:
		return "unknown error"
	}
}

// Error is a classified sentinel. A specific sentinel matches its own
// category with errors.Is, so callers can test either level.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Kind.String()
	}
	return e.msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.msg == "" && t.Kind == e.Kind
}

func newError(k Kind, msg string) *Error { return &Error{Kind: k, msg: msg} }

// Categories.
var (
	ErrStructural    = &Error{Kind: KindStructural}
	ErrReferential   = &Error{Kind: KindReferential}
	ErrStateConflict = &Error{Kind: KindStateConflict}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
)

var (
	ErrMalformedStructure = newError(KindStructural, "malformed table structure")

	ErrDoctorNotInGrid   = newError(KindReferential, "doctor is not a column of this date grid")
	ErrUnknownDoctor     = newError(KindReferential, "unknown doctor")
	ErrUnknownPatient    = newError(KindReferential, "unknown patient")
	ErrUnknownDepartment = newError(KindReferential, "unknown department")
	ErrOrphan            = newError(KindReferential, "orphan reservation id")

	ErrSlotNotFree       = newError(KindStateConflict, "slot is not free")
	ErrNotBooked         = newError(KindStateConflict, "reservation is not in booked state")
	ErrNotYetDue         = newError(KindStateConflict, "appointment time has not passed yet")
	ErrSlotInPast        = newError(KindStateConflict, "slot is not in the future")
	ErrOutsideWindow     = newError(KindStateConflict, "doctor does not work at this time")
	ErrWindowAlreadySet  = newError(KindStateConflict, "weekly window already set for this day")
	ErrInvalidWindow     = newError(KindStateConflict, "invalid weekly window")
	ErrNoExistingWindow  = newError(KindStateConflict, "no weekly window set for this day")
	ErrChangeDeclined    = newError(KindStateConflict, "change declined")
	ErrInvalidTransition = newError(KindStateConflict, "invalid status transition")
	ErrWriterBusy        = newError(KindStateConflict, "another writer is active, please retry")

	ErrDateGridNotFound    = newError(KindNotFound, "no appointment grid for this date")
	ErrReservationNotFound = newError(KindNotFound, "reservation not found")
	ErrRecordNotFound      = newError(KindNotFound, "reservation record not found in ledger")

	ErrNotOwner       = newError(KindForbidden, "reservation belongs to another user")
	ErrRoleNotAllowed = newError(KindForbidden, "operation not allowed for this role")

	ErrBadTime      = newError(KindInvalidInput, "invalid date or time")
	ErrInvalidField = newError(KindInvalidInput, "invalid field")
)

// KindOf returns the category of err, or 0 when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
