package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/slot"
)

const DateLayout = "2006-01-02"

type SlotState int

const (
	SlotFree SlotState = iota
	SlotBlocked
	SlotReserved
)

const (
	freeToken    = "0"
	blockedToken = "X"
)

// SlotStatus is the content of one grid cell.
type SlotStatus struct {
	State         SlotState
	ReservationID string
}

func Free() SlotStatus    { return SlotStatus{State: SlotFree} }
func Blocked() SlotStatus { return SlotStatus{State: SlotBlocked} }

func Reserved(id string) SlotStatus {
	return SlotStatus{State: SlotReserved, ReservationID: id}
}

func (s SlotStatus) IsFree() bool { return s.State == SlotFree }

// Holds reports whether the cell is reserved by the given id.
func (s SlotStatus) Holds(id string) bool {
	return s.State == SlotReserved && s.ReservationID == id
}

func (s SlotStatus) Token() string {
	switch s.State {
	case SlotBlocked:
		return blockedToken
	case SlotReserved:
		return s.ReservationID
	default:
		return freeToken
	}
}

// ParseSlotStatus reads a cell token: "0", "X" or a reservation id.
func ParseSlotStatus(token string) (SlotStatus, error) {
	switch {
	case token == freeToken:
		return Free(), nil
	case token == blockedToken:
		return Blocked(), nil
	case IsReservationID(token):
		return Reserved(token), nil
	}
	return SlotStatus{}, fmt.Errorf("%w: unknown status token %q", ErrMalformedStructure, token)
}

var reservationIDPattern = regexp.MustCompile(`^R\d{8}$`)

func IsReservationID(s string) bool { return reservationIDPattern.MatchString(s) }

func FormatReservationID(seq int) string { return fmt.Sprintf("R%08d", seq) }

// ReservationSeq extracts the numeric part of a reservation id.
func ReservationSeq(id string) (int, bool) {
	if !IsReservationID(id) {
		return 0, false
	}
	n, err := strconv.Atoi(id[1:])
	return n, err == nil
}

// ReservationStatus is the ledger status code.
type ReservationStatus int

const (
	StatusBooked    ReservationStatus = 1
	StatusCompleted ReservationStatus = 2
	StatusCanceled  ReservationStatus = 3
	StatusNoShow    ReservationStatus = 4
)

func (s ReservationStatus) String() string {
	switch s {
	case StatusBooked:
		return "booked"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	case StatusNoShow:
		return "no-show"
	default:
		return "unknown"
	}
}

func (s ReservationStatus) Valid() bool { return s >= StatusBooked && s <= StatusNoShow }

// CanTransition enforces Booked -> {Completed, Canceled, NoShow}.
func (s ReservationStatus) CanTransition(to ReservationStatus) bool {
	return s == StatusBooked && to.Valid() && to != StatusBooked
}

// ReservationRecord is one row of a patient ledger.
type ReservationRecord struct {
	ID        string
	PatientID string
	Date      time.Time
	Slot      int
	Dept      string
	DoctorID  string
	Status    ReservationStatus
}

func (r ReservationRecord) Start() string { return slot.Format(r.Slot) }
func (r ReservationRecord) End() string   { return slot.End(r.Slot) }

// At is the instant the appointment begins.
func (r ReservationRecord) At() time.Time { return slot.At(r.Date, r.Slot) }

// Line renders the 7-token ledger row.
func (r ReservationRecord) Line() string {
	return strings.Join([]string{
		r.ID,
		r.Date.Format(DateLayout),
		r.Start(),
		r.End(),
		r.Dept,
		r.DoctorID,
		strconv.Itoa(int(r.Status)),
	}, " ")
}

// ParseReservationRecord reads a 7-token ledger row.
func ParseReservationRecord(patientID, line string) (ReservationRecord, error) {
	parts := strings.Fields(line)
	if len(parts) != 7 {
		return ReservationRecord{}, fmt.Errorf("%w: ledger row has %d fields, want 7", ErrMalformedStructure, len(parts))
	}
	if !IsReservationID(parts[0]) {
		return ReservationRecord{}, fmt.Errorf("%w: reservation id %q", ErrMalformedStructure, parts[0])
	}
	date, err := time.Parse(DateLayout, parts[1])
	if err != nil {
		return ReservationRecord{}, fmt.Errorf("%w: date %q", ErrMalformedStructure, parts[1])
	}
	idx, err := slot.Parse(parts[2])
	if err != nil {
		return ReservationRecord{}, fmt.Errorf("%w: start time %q: %v", ErrMalformedStructure, parts[2], err)
	}
	if parts[3] != slot.End(idx) {
		return ReservationRecord{}, fmt.Errorf("%w: end time %q does not follow %s", ErrMalformedStructure, parts[3], parts[2])
	}
	code, err := strconv.Atoi(parts[6])
	status := ReservationStatus(code)
	if err != nil || !status.Valid() {
		return ReservationRecord{}, fmt.Errorf("%w: status code %q", ErrMalformedStructure, parts[6])
	}
	return ReservationRecord{
		ID:        parts[0],
		PatientID: patientID,
		Date:      date,
		Slot:      idx,
		Dept:      parts[4],
		DoctorID:  parts[5],
		Status:    status,
	}, nil
}

// EventLog is an audit entry emitted after every committed operation.
type EventLog struct {
	ID            int64
	EventType     string
	ReservationID string
	Actor         string
	Payload       []byte
	CreatedAt     time.Time
}

// Availability lists the bookable slots of one doctor on one date.
type Availability struct {
	DoctorID   string
	DoctorName string
	Dept       string
	Date       time.Time
	Slots      []int
}
