package appointment

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hackgods/clinic-scheduling/internal/storage"
)

// Allocator issues reservation ids. Every call recomputes
// max(high-water mark, ledger maximum, last issued) + 1, so ids never
// repeat across restarts or external ledger edits.
type Allocator struct {
	mu    sync.Mutex
	path  string
	index ReservationIndex
	last  int
}

func NewAllocator(dataDir string, index ReservationIndex) *Allocator {
	return &Allocator{
		path:  filepath.Join(dataDir, "reservation", "sequence.txt"),
		index: index,
	}
}

// Next persists the new high-water mark before returning the id.
func (a *Allocator) Next() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hwm, err := a.highWaterMark()
	if err != nil {
		return "", err
	}
	scanned, err := a.index.MaxSequence()
	if err != nil {
		return "", fmt.Errorf("scan ledgers for max reservation id: %w", err)
	}

	next := max(hwm, scanned, a.last) + 1
	id := FormatReservationID(next)
	if err := storage.WriteLines(a.path, []string{id}); err != nil {
		return "", fmt.Errorf("persist reservation sequence: %w", err)
	}
	a.last = next
	return id, nil
}

func (a *Allocator) highWaterMark() (int, error) {
	lines, err := storage.ReadLines(a.path)
	if errors.Is(err, storage.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		n, ok := ReservationSeq(l)
		if !ok {
			return 0, fmt.Errorf("%w: %s holds %q", ErrMalformedStructure, a.path, l)
		}
		return n, nil
	}
	return 0, nil
}
