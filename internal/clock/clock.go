// Package clock provides the virtual wall clock the scheduler runs on.
// Time only moves when an administrator sets it.
package clock

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/storage"
)

const (
	Layout  = "2006-01-02 15:04:05"
	baseKey = "BASE_TIME"
)

var ErrOutOfRange = errors.New("time is outside the settable range")

// VirtualClock persists its current instant in time/virtualtime.txt.
// All instants are wall-clock values carried in UTC.
type VirtualClock struct {
	mu   sync.RWMutex
	path string
	year int
	now  time.Time
}

// Load reads the persisted base time. A missing or unreadable file is
// replaced with the default, 1 October of the bound year at 09:00.
func Load(dataDir string, year int) (*VirtualClock, error) {
	c := &VirtualClock{
		path: filepath.Join(dataDir, "time", "virtualtime.txt"),
		year: year,
	}

	lines, err := storage.ReadLines(c.path)
	if err == nil {
		if t, ok := parseBaseTime(lines); ok && c.inRange(t) {
			c.now = t
			return c, nil
		}
	} else if !errors.Is(err, storage.ErrNotExist) {
		return nil, err
	}

	c.now = time.Date(year, time.October, 1, 9, 0, 0, 0, time.UTC)
	if err := c.persist(); err != nil {
		return nil, err
	}
	return c, nil
}

// Fixed returns an in-memory clock, used by tests and tools.
func Fixed(t time.Time) *VirtualClock {
	return &VirtualClock{now: t.UTC(), year: t.Year()}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Today is the current date at midnight.
func (c *VirtualClock) Today() time.Time {
	return Date(c.Now())
}

// Set moves the clock. Moving backwards is allowed as long as the instant
// stays within the bound year.
func (c *VirtualClock) Set(t time.Time) error {
	t = t.UTC()
	if !c.inRange(t) {
		return fmt.Errorf("%w: %d-01-01 00:00:00 ~ %d-12-31 23:59:59", ErrOutOfRange, c.year, c.year)
	}

	c.mu.Lock()
	prev := c.now
	c.now = t
	c.mu.Unlock()

	if err := c.persist(); err != nil {
		c.mu.Lock()
		c.now = prev
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *VirtualClock) inRange(t time.Time) bool {
	return t.Year() == c.year
}

func (c *VirtualClock) persist() error {
	if c.path == "" {
		return nil
	}
	return storage.WriteLines(c.path, []string{baseKey + "=" + c.Now().Format(Layout)})
}

func parseBaseTime(lines []string) (time.Time, bool) {
	for _, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.TrimSpace(key) != baseKey {
			continue
		}
		t, err := time.Parse(Layout, strings.TrimSpace(value))
		if err != nil {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// Date truncates an instant to its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
