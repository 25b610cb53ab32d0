package appointment

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/storage"
)

type IntentOp string

const (
	OpCreate   IntentOp = "create"
	OpModify   IntentOp = "modify"
	OpCancel   IntentOp = "cancel"
	OpComplete IntentOp = "complete"
	OpNoShow   IntentOp = "noshow"
)

type IntentState string

const (
	IntentBegin  IntentState = "begin"
	IntentCommit IntentState = "commit"
)

// Intent describes the full target state of one coordinated write, so
// replaying it is idempotent.
type Intent struct {
	ID            string            `json:"id"`
	Op            IntentOp          `json:"op"`
	State         IntentState       `json:"state"`
	ReservationID string            `json:"reservation_id"`
	PatientID     string            `json:"patient_id"`
	DoctorID      string            `json:"doctor_id"`
	Dept          string            `json:"dept,omitempty"`
	Date          string            `json:"date"`
	Slot          int               `json:"slot"`
	Status        ReservationStatus `json:"status"`
	PrevDoctorID  string            `json:"prev_doctor_id,omitempty"`
	PrevDate      string            `json:"prev_date,omitempty"`
	NoShows       int               `json:"no_shows,omitempty"`
	At            time.Time         `json:"at"`
}

func intentFor(op IntentOp, rec ReservationRecord) Intent {
	return Intent{
		Op:            op,
		ReservationID: rec.ID,
		PatientID:     rec.PatientID,
		DoctorID:      rec.DoctorID,
		Dept:          rec.Dept,
		Date:          rec.Date.Format(DateLayout),
		Slot:          rec.Slot,
		Status:        rec.Status,
	}
}

// record rebuilds the target ledger row.
func (in Intent) record() (ReservationRecord, error) {
	date, err := time.Parse(DateLayout, in.Date)
	if err != nil {
		return ReservationRecord{}, fmt.Errorf("%w: intent %s date %q", ErrMalformedStructure, in.ID, in.Date)
	}
	return ReservationRecord{
		ID:        in.ReservationID,
		PatientID: in.PatientID,
		Date:      date,
		Slot:      in.Slot,
		Dept:      in.Dept,
		DoctorID:  in.DoctorID,
		Status:    in.Status,
	}, nil
}

// IntentLog is an append-only JSON-lines write-ahead log at intent/intent.log.
type IntentLog struct {
	mu   sync.Mutex
	path string
}

func NewIntentLog(dataDir string) *IntentLog {
	return &IntentLog{path: filepath.Join(dataDir, "intent", "intent.log")}
}

func (l *IntentLog) Begin(in Intent) (Intent, error) {
	in.ID = uuid.NewString()
	in.State = IntentBegin
	in.At = time.Now().UTC()
	if err := l.append(in); err != nil {
		return Intent{}, fmt.Errorf("write begin intent: %w", err)
	}
	return in, nil
}

func (l *IntentLog) Commit(in Intent) error {
	in.State = IntentCommit
	in.At = time.Now().UTC()
	if err := l.append(in); err != nil {
		return fmt.Errorf("write commit intent: %w", err)
	}
	return nil
}

func (l *IntentLog) append(in Intent) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.AppendLine(l.path, string(data))
}

// Pending returns begun intents without a matching commit, oldest first.
// A torn final line from an interrupted append is ignored.
func (l *IntentLog) Pending() ([]Intent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := storage.ReadLines(l.path)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order []string
	begun := map[string]Intent{}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var in Intent
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedStructure, l.path, i+1, err)
		}
		switch in.State {
		case IntentBegin:
			if _, dup := begun[in.ID]; !dup {
				order = append(order, in.ID)
			}
			begun[in.ID] = in
		case IntentCommit:
			delete(begun, in.ID)
		default:
			return nil, fmt.Errorf("%w: %s line %d: state %q", ErrMalformedStructure, l.path, i+1, in.State)
		}
	}

	var pending []Intent
	for _, id := range order {
		if in, ok := begun[id]; ok {
			pending = append(pending, in)
		}
	}
	return pending, nil
}

// Compact rewrites the log keeping only uncommitted intents.
func (l *IntentLog) Compact() error {
	pending, err := l.Pending()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	lines := make([]string, 0, len(pending))
	for _, in := range pending {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		lines = append(lines, string(data))
	}
	return storage.WriteLines(l.path, lines)
}
