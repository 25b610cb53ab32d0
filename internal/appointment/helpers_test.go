package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

var (
	// Wednesday
	testNow = time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	// the following Monday and the one after
	monday     = time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)
	nextMonday = time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC)

	adminUser = StaticIdentity{ID: "admin", Role: RoleAdmin}
	patient1  = StaticIdentity{ID: "P000001", Role: RolePatient}
	patient2  = StaticIdentity{ID: "P000002", Role: RolePatient}
	doctor1   = StaticIdentity{ID: "D00001", Role: RoleDoctor}
	doctor2   = StaticIdentity{ID: "D00002", Role: RoleDoctor}
)

type recordingSink struct {
	mu     sync.Mutex
	events []EventLog
}

func (r *recordingSink) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType
	}
	return out
}

type fixture struct {
	dir      string
	svc      *Service
	stores   Stores
	clock    *clock.VirtualClock
	doctors  *registry.Doctors
	patients *registry.Patients
	sink     *recordingSink
}

// newFixture builds a data directory with two doctors and two patients.
// D00001 (IM) works Monday 09:00-12:00; D00002 (GS) has no windows.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	depts, err := registry.LoadDepartments(dir)
	require.NoError(t, err)
	doctors, err := registry.LoadDoctors(dir)
	require.NoError(t, err)
	patients, err := registry.LoadPatients(dir)
	require.NoError(t, err)

	stores := NewStores(dir)
	for _, d := range []registry.Doctor{
		{ID: "D00001", Name: "김철수", Dept: "IM", Phone: "010-1111-2222", Registered: "2025-01-02"},
		{ID: "D00002", Name: "이영희", Dept: "GS", Phone: "010-3333-4444", Registered: "2025-01-03"},
	} {
		require.NoError(t, stores.Doctors.Create(d))
		require.NoError(t, doctors.Add(d))
	}
	for _, p := range []registry.Patient{
		{ID: "P000001", Username: "hong", Name: "홍길동", Birth: "1990-05-05", Phone: "010-1234-5678"},
		{ID: "P000002", Username: "park", Name: "박민수", Birth: "1985-03-14", Phone: "010-8765-4321"},
	} {
		require.NoError(t, stores.Ledger.Create(p))
		require.NoError(t, patients.Add(p))
	}

	clk := clock.Fixed(testNow)
	sink := &recordingSink{}
	cfg := config.Config{NoShowThreshold: 3, AvailabilityDays: 7}
	svc := NewService(
		stores,
		Directories{Doctors: doctors, Patients: patients, Departments: depts},
		clk,
		redisclient.NewLocalLocker(),
		sink,
		cfg,
		zerolog.Nop(),
	)

	require.NoError(t, svc.SetWeeklyWindow(context.Background(), adminUser, "D00001", time.Monday, "09:00", "12:00"))

	return &fixture{
		dir:      dir,
		svc:      svc,
		stores:   stores,
		clock:    clk,
		doctors:  doctors,
		patients: patients,
		sink:     sink,
	}
}

func (f *fixture) book(t *testing.T, who Identity, date time.Time, at string) ReservationRecord {
	t.Helper()
	res, err := f.svc.Create(context.Background(), who, CreateRequest{DoctorRef: "D00001", Date: date, Time: at})
	require.NoError(t, err)
	return res.Record
}

func (f *fixture) gridCell(t *testing.T, doctorID string, date time.Time, idx int) SlotStatus {
	t.Helper()
	g, err := f.stores.Dates.Load(date)
	require.NoError(t, err)
	cell, err := g.Cell(doctorID, idx)
	require.NoError(t, err)
	return cell
}

func (f *fixture) doctorCell(t *testing.T, doctorID string, date time.Time, idx int) SlotStatus {
	t.Helper()
	cells, _, err := f.stores.Doctors.DateRow(doctorID, date)
	require.NoError(t, err)
	return cells[idx]
}
