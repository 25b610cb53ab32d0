package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/storage"
)

func TestCreateThenCancelRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.AvailableSlots(ctx, "D00001", &monday)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Len(t, before[0].Slots, 18)
	assert.Equal(t, 0, before[0].Slots[0])

	rec := f.book(t, patient1, monday, "09:00")
	assert.Equal(t, "R00000001", rec.ID)
	assert.Equal(t, "IM", rec.Dept)
	assert.Equal(t, StatusBooked, rec.Status)

	assert.True(t, f.gridCell(t, "D00001", monday, 0).Holds(rec.ID))
	assert.True(t, f.doctorCell(t, "D00001", monday, 0).Holds(rec.ID))
	stored, err := f.stores.Ledger.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	during, err := f.svc.AvailableSlots(ctx, "D00001", &monday)
	require.NoError(t, err)
	require.Len(t, during, 1)
	assert.NotContains(t, during[0].Slots, 0)
	assert.Len(t, during[0].Slots, 17)

	canceled, err := f.svc.Cancel(ctx, patient1, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	after, err := f.svc.AvailableSlots(ctx, "D00001", &monday)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, f.gridCell(t, "D00001", monday, 0).IsFree())
	assert.True(t, f.doctorCell(t, "D00001", monday, 0).IsFree())

	stored, err = f.stores.Ledger.FindByID(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, stored.Status)

	assert.Equal(t, []string{EventReservationCreated, EventReservationCanceled}, f.sink.types()[1:])
}

func TestCreateByDoctorNameAndDepartmentAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, patient1, CreateRequest{DoctorRef: "김철수", Date: monday, Time: "10:30"})
	require.NoError(t, err)
	assert.Equal(t, "D00001", res.Record.DoctorID)
	assert.Equal(t, 9, res.Record.Slot)
	assert.Empty(t, res.Advisory)

	// scans today (Wednesday) through the following Tuesday
	avail, err := f.svc.AvailableSlots(ctx, "im", nil)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, monday, avail[0].Date)
	assert.NotContains(t, avail[0].Slots, 9)

	none, err := f.svc.AvailableSlots(ctx, "GS", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, patient1, monday, "09:00")

	tuesday := monday.AddDate(0, 0, 1)
	tests := []struct {
		name string
		who  Identity
		req  CreateRequest
		want error
	}{
		{"taken", patient2, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "09:00"}, ErrSlotNotFree},
		{"window end is exclusive", patient1, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "12:00"}, ErrOutsideWindow},
		{"no window that day", patient1, CreateRequest{DoctorRef: "D00001", Date: tuesday, Time: "09:00"}, ErrOutsideWindow},
		{"doctor without windows", patient1, CreateRequest{DoctorRef: "D00002", Date: monday, Time: "09:00"}, ErrOutsideWindow},
		{"past", patient1, CreateRequest{DoctorRef: "D00001", Date: testNow, Time: "09:00"}, ErrSlotInPast},
		{"misaligned", patient1, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "09:05"}, ErrBadTime},
		{"after hours", patient1, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "18:00"}, ErrBadTime},
		{"unknown doctor", patient1, CreateRequest{DoctorRef: "D99999", Date: monday, Time: "09:10"}, ErrUnknownDoctor},
		{"unknown patient", adminUser, CreateRequest{PatientID: "P999999", DoctorRef: "D00001", Date: monday, Time: "09:10"}, ErrUnknownPatient},
		{"booking for someone else", patient1, CreateRequest{PatientID: "P000002", DoctorRef: "D00001", Date: monday, Time: "09:10"}, ErrNotOwner},
		{"doctors cannot book", doctor1, CreateRequest{PatientID: "P000001", DoctorRef: "D00001", Date: monday, Time: "09:10"}, ErrRoleNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.who, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// nothing but the first booking reached disk
	all, err := f.stores.Ledger.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
	pending, err := f.stores.Intents.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateMisalignedTimeKeepsCause(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), patient1, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "09:05"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, slot.ErrNotTenMinuteAligned)
}

func TestAdminBooksOnBehalfOfPatient(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Create(context.Background(), adminUser, CreateRequest{PatientID: "P000002", DoctorRef: "D00001", Date: monday, Time: "11:50"})
	require.NoError(t, err)
	assert.Equal(t, "P000002", res.Record.PatientID)

	recs, err := f.svc.PatientReservations(context.Background(), patient2, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.Record.ID, recs[0].ID)

	_, err = f.svc.PatientReservations(context.Background(), patient1, "P000002")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestModifyEquivalentToCancelAndCreateKeepingID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.book(t, patient1, monday, "09:00")

	moved, err := f.svc.Modify(ctx, patient1, rec.ID, nextMonday, "10:00")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, moved.ID)
	assert.Equal(t, nextMonday, moved.Date)
	assert.Equal(t, 6, moved.Slot)
	assert.Equal(t, StatusBooked, moved.Status)

	assert.True(t, f.gridCell(t, "D00001", monday, 0).IsFree())
	assert.True(t, f.doctorCell(t, "D00001", monday, 0).IsFree())
	assert.True(t, f.gridCell(t, "D00001", nextMonday, 6).Holds(rec.ID))
	assert.True(t, f.doctorCell(t, "D00001", nextMonday, 6).Holds(rec.ID))

	recs, err := f.stores.Ledger.ForPatient("P000001")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, moved, recs[0])
}

func TestModifyRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.book(t, patient1, monday, "09:00")
	theirs := f.book(t, patient2, monday, "09:10")

	// own cell counts as free
	same, err := f.svc.Modify(ctx, patient1, mine.ID, monday, "09:00")
	require.NoError(t, err)
	assert.Equal(t, mine, same)

	_, err = f.svc.Modify(ctx, patient1, mine.ID, monday, "09:10")
	assert.ErrorIs(t, err, ErrSlotNotFree)

	_, err = f.svc.Modify(ctx, patient1, theirs.ID, monday, "09:20")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.Modify(ctx, patient1, mine.ID, monday, "13:00")
	assert.ErrorIs(t, err, ErrOutsideWindow)

	_, err = f.svc.Modify(ctx, patient1, "R00000099", monday, "09:20")
	assert.ErrorIs(t, err, ErrReservationNotFound)

	require.NoError(t, f.clock.Set(monday.Add(9*time.Hour+30*time.Minute)))
	_, err = f.svc.Modify(ctx, patient2, theirs.ID, monday, "09:20")
	assert.ErrorIs(t, err, ErrSlotInPast)

	// a booking whose time has passed can still be moved to a future slot,
	// the same as canceling it and booking again
	moved, err := f.svc.Modify(ctx, patient1, mine.ID, nextMonday, "10:00")
	require.NoError(t, err)
	assert.Equal(t, mine.ID, moved.ID)
	assert.Equal(t, StatusBooked, moved.Status)
	assert.True(t, f.gridCell(t, "D00001", monday, 0).IsFree())
	assert.True(t, f.doctorCell(t, "D00001", nextMonday, 6).Holds(mine.ID))
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.book(t, patient1, monday, "09:00")

	_, err := f.svc.Cancel(ctx, patient2, rec.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = f.svc.Cancel(ctx, doctor1, rec.ID)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	_, err = f.svc.Cancel(ctx, adminUser, rec.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, patient1, rec.ID)
	assert.ErrorIs(t, err, ErrNotBooked)
}

func TestCompleteOnlyOnceDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.book(t, patient1, monday, "09:00")

	_, err := f.svc.Complete(ctx, doctor1, rec.ID)
	assert.ErrorIs(t, err, ErrNotYetDue)

	require.NoError(t, f.clock.Set(monday.Add(9*time.Hour)))

	_, err = f.svc.Complete(ctx, doctor2, rec.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = f.svc.Complete(ctx, patient1, rec.ID)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	pending, err := f.svc.PendingCompletion(ctx, doctor1, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)

	done, err := f.svc.Complete(ctx, doctor1, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	// the cell stays occupied after completion
	assert.True(t, f.gridCell(t, "D00001", monday, 0).Holds(rec.ID))
	assert.True(t, f.doctorCell(t, "D00001", monday, 0).Holds(rec.ID))

	_, err = f.svc.Complete(ctx, doctor1, rec.ID)
	assert.ErrorIs(t, err, ErrNotBooked)
	_, err = f.svc.Cancel(ctx, patient1, rec.ID)
	assert.ErrorIs(t, err, ErrNotBooked)

	pending, err = f.svc.PendingCompletion(ctx, doctor1, "D00001")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNoShowCountsAndAdvisory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, at := range []string{"09:00", "09:10", "09:20"} {
		ids = append(ids, f.book(t, patient1, monday, at).ID)
	}
	require.NoError(t, f.clock.Set(monday.Add(10*time.Hour)))

	for i, id := range ids {
		rec, count, err := f.svc.NoShow(ctx, doctor1, id)
		require.NoError(t, err)
		assert.Equal(t, StatusNoShow, rec.Status)
		assert.Equal(t, i+1, count)
	}

	n, err := f.stores.Ledger.NoShowCount("P000001")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	p, err := f.patients.Get("P000001")
	require.NoError(t, err)
	assert.Equal(t, 3, p.NoShows)

	res, err := f.svc.Create(ctx, patient1, CreateRequest{DoctorRef: "D00001", Date: nextMonday, Time: "09:00"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Advisory)

	res, err = f.svc.Create(ctx, patient2, CreateRequest{DoctorRef: "D00001", Date: nextMonday, Time: "09:10"})
	require.NoError(t, err)
	assert.Empty(t, res.Advisory)
}

func TestReservationsOnIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, patient2, monday, "09:10")
	a := f.book(t, patient1, monday, "09:00")
	f.book(t, patient1, nextMonday, "09:00")

	_, err := f.svc.ReservationsOn(ctx, patient1, monday)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	recs, err := f.svc.ReservationsOn(ctx, adminUser, monday)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, a.ID, recs[0].ID)
	assert.Equal(t, b.ID, recs[1].ID)

	got, err := f.svc.Reservation(ctx, doctor1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	_, err = f.svc.Reservation(ctx, patient2, a.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestWeeklyWindowLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.SetWeeklyWindow(ctx, doctor1, "D00001", time.Monday, "13:00", "15:00")
	assert.ErrorIs(t, err, ErrWindowAlreadySet)
	err = f.svc.SetWeeklyWindow(ctx, doctor2, "D00001", time.Tuesday, "13:00", "15:00")
	assert.ErrorIs(t, err, ErrNotOwner)
	err = f.svc.SetWeeklyWindow(ctx, doctor1, "D00001", time.Tuesday, "15:00", "13:00")
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = f.svc.ModifyWeeklyWindow(ctx, doctor1, "D00001", time.Tuesday, "10:00", "11:00", nil)
	assert.ErrorIs(t, err, ErrNoExistingWindow)

	early := f.book(t, patient1, monday, "09:00")
	late := f.book(t, patient2, monday, "10:30")

	// declining leaves everything in place
	_, err = f.svc.ModifyWeeklyWindow(ctx, doctor1, "D00001", time.Monday, "10:00", "12:00", func([]ReservationRecord) bool { return false })
	assert.ErrorIs(t, err, ErrChangeDeclined)
	tpl, err := f.svc.WeeklyTemplate(ctx, doctor1, "D00001")
	require.NoError(t, err)
	win, ok := tpl.For(time.Monday)
	require.True(t, ok)
	assert.Equal(t, "09:00", win.StartLabel())
	assert.True(t, f.gridCell(t, "D00001", monday, 0).Holds(early.ID))

	var shown []ReservationRecord
	canceled, err := f.svc.ModifyWeeklyWindow(ctx, doctor1, "D00001", time.Monday, "10:00", "12:00", func(affected []ReservationRecord) bool {
		shown = affected
		return true
	})
	require.NoError(t, err)
	require.Len(t, shown, 1)
	assert.Equal(t, early.ID, shown[0].ID)
	require.Len(t, canceled, 1)
	assert.Equal(t, StatusCanceled, canceled[0].Status)

	stored, err := f.stores.Ledger.FindByID(early.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, stored.Status)
	assert.True(t, f.gridCell(t, "D00001", monday, 0).IsFree())
	assert.True(t, f.doctorCell(t, "D00001", monday, 0).IsFree())
	assert.True(t, f.gridCell(t, "D00001", monday, 9).Holds(late.ID))

	tpl, err = f.svc.WeeklyTemplate(ctx, adminUser, "D00001")
	require.NoError(t, err)
	win, ok = tpl.For(time.Monday)
	require.True(t, ok)
	assert.Equal(t, slot.Window{Start: 6, End: 18}, win)

	_, err = f.svc.Create(ctx, patient1, CreateRequest{DoctorRef: "D00001", Date: nextMonday, Time: "09:50"})
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestDeleteWeeklyWindowAlwaysConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.SetWeeklyWindow(ctx, adminUser, "D00001", time.Friday, "14:00", "16:00"))

	_, err := f.svc.DeleteWeeklyWindow(ctx, doctor1, "D00001", time.Friday, nil)
	assert.ErrorIs(t, err, ErrChangeDeclined)

	asked := false
	canceled, err := f.svc.DeleteWeeklyWindow(ctx, doctor1, "D00001", time.Friday, func(affected []ReservationRecord) bool {
		asked = true
		return len(affected) == 0
	})
	require.NoError(t, err)
	assert.True(t, asked)
	assert.Empty(t, canceled)

	rec := f.book(t, patient1, monday, "11:00")
	canceled, err = f.svc.DeleteWeeklyWindow(ctx, adminUser, "D00001", time.Monday, func([]ReservationRecord) bool { return true })
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, rec.ID, canceled[0].ID)

	tpl, err := f.stores.Doctors.WeeklyTemplate("D00001")
	require.NoError(t, err)
	assert.Equal(t, "0 0 0 0 0", tpl.Flags())
	detail, err := f.stores.Doctors.LoadDetail("D00001")
	require.NoError(t, err)
	assert.Equal(t, "0 0 0 0 0", detail.Flags)
}

func TestWindowChangeOnlyCancelsFutureBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := f.book(t, patient1, monday, "09:00")
	future := f.book(t, patient1, nextMonday, "09:00")

	require.NoError(t, f.clock.Set(monday.Add(12*time.Hour)))

	canceled, err := f.svc.ModifyWeeklyWindow(ctx, doctor1, "D00001", time.Monday, "10:00", "12:00", func([]ReservationRecord) bool { return true })
	require.NoError(t, err)
	require.Len(t, canceled, 1)
	assert.Equal(t, future.ID, canceled[0].ID)

	stored, err := f.stores.Ledger.FindByID(past.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, stored.Status)
}

func TestOnboardDoctorAddsGridColumns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, patient1, monday, "09:00")

	_, err := f.svc.OnboardDoctor(ctx, adminUser, "최민준", "XX", "010-5555-6666")
	assert.ErrorIs(t, err, ErrUnknownDepartment)
	_, err = f.svc.OnboardDoctor(ctx, adminUser, "최민준", "PED", "5555")
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = f.svc.OnboardDoctor(ctx, doctor1, "최민준", "PED", "010-5555-6666")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	doc, err := f.svc.OnboardDoctor(ctx, adminUser, "최민준", "ped", "010-5555-6666")
	require.NoError(t, err)
	assert.Equal(t, "D00003", doc.ID)
	assert.Equal(t, "PED", doc.Dept)
	assert.Equal(t, "2025-10-01", doc.Registered)

	g, err := f.stores.Dates.Load(monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"D00001", "D00002", "D00003"}, g.Doctors)

	got, err := f.doctors.Get("D00003")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	tpl, err := f.stores.Doctors.WeeklyTemplate("D00003")
	require.NoError(t, err)
	assert.Equal(t, WeeklyTemplate{}, tpl)
}

func TestRecoverRollsForwardPendingIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.stores.Allocator.Next()
	require.NoError(t, err)
	rec := ReservationRecord{ID: id, PatientID: "P000001", Date: monday, Slot: 3, Dept: "IM", DoctorID: "D00001", Status: StatusBooked}

	// crash after the ledger write
	_, err = f.stores.Intents.Begin(intentFor(OpCreate, rec))
	require.NoError(t, err)
	require.NoError(t, f.stores.Ledger.Append(rec.PatientID, rec))

	n, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, f.gridCell(t, "D00001", monday, 3).Holds(id))
	assert.True(t, f.doctorCell(t, "D00001", monday, 3).Holds(id))
	all, err := f.stores.Ledger.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	pending, err := f.stores.Intents.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, f.sink.types(), EventReservationRecovered)
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rec := f.book(t, patient1, monday, "09:00")

	in := intentFor(OpCreate, rec)
	require.NoError(t, f.svc.apply(in))
	require.NoError(t, f.svc.apply(in))

	rec.Status = StatusCanceled
	cancel := intentFor(OpCancel, rec)
	require.NoError(t, f.svc.apply(cancel))
	require.NoError(t, f.svc.apply(cancel))

	all, err := f.stores.Ledger.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusCanceled, all[0].Status)
	assert.True(t, f.gridCell(t, "D00001", monday, 0).IsFree())
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestWriterBusy(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.stores, f.svc.dirs, f.clock, busyLocker{}, nil, config.Config{NoShowThreshold: 3, AvailabilityDays: 7}, f.svc.log)

	_, err := svc.Create(context.Background(), patient1, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "09:00"})
	assert.ErrorIs(t, err, ErrWriterBusy)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestErrorCategories(t *testing.T) {
	assert.ErrorIs(t, ErrSlotNotFree, ErrStateConflict)
	assert.NotErrorIs(t, ErrSlotNotFree, ErrNotFound)
	assert.ErrorIs(t, ErrRecordNotFound, ErrNotFound)
	assert.NotErrorIs(t, ErrNotFound, ErrRecordNotFound)

	wrapped := errors.Join(errors.New("context"), ErrUnknownDoctor)
	assert.Equal(t, KindReferential, KindOf(wrapped))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "not found", ErrNotFound.Error())
}

func TestRegisterPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterPatient(ctx, patient1, "kim", "김영수", "2001-02-03", "010-2222-3333")
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
	_, err = f.svc.RegisterPatient(ctx, adminUser, "hong", "김영수", "2001-02-03", "010-2222-3333")
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = f.svc.RegisterPatient(ctx, adminUser, "kim", "김영수", "2001-02-30", "010-2222-3333")
	assert.ErrorIs(t, err, ErrInvalidField)

	p, err := f.svc.RegisterPatient(ctx, adminUser, "kim", "김영수", "2001-02-03", "010-2222-3333")
	require.NoError(t, err)
	assert.Equal(t, "P000003", p.ID)

	got, err := f.patients.Get("P000003")
	require.NoError(t, err)
	assert.Equal(t, p, got)
	recs, err := f.stores.Ledger.ForPatient("P000003")
	require.NoError(t, err)
	assert.Empty(t, recs)

	res, err := f.svc.Create(ctx, StaticIdentity{ID: p.ID, Role: RolePatient}, CreateRequest{DoctorRef: "D00001", Date: monday, Time: "09:00"})
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.Record.PatientID)
}

func TestAddDepartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.AddDepartment(ctx, doctor1, "NEU", "신경과"), ErrRoleNotAllowed)
	require.NoError(t, f.svc.AddDepartment(ctx, adminUser, "neu", "신경과"))

	err := f.svc.AddDepartment(ctx, adminUser, "NEU", "신경과")
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.ErrorIs(t, err, registry.ErrDepartmentExists)

	doc, err := f.svc.OnboardDoctor(ctx, adminUser, "최민호", "NEU", "010-5555-6666")
	require.NoError(t, err)
	assert.Equal(t, "NEU", doc.Dept)
}

func TestOnboardDoctorLeavesNothingBehindOnBrokenGrid(t *testing.T) {
	f := newFixture(t)
	f.book(t, patient1, monday, "09:00")
	require.NoError(t, storage.WriteLines(f.stores.Dates.Path(nextMonday), []string{"2025-10-13", "TIME D00001", "garbage"}))

	_, err := f.svc.OnboardDoctor(context.Background(), adminUser, "최민준", "PED", "010-5555-6666")
	assert.ErrorIs(t, err, ErrStructural)

	assert.False(t, storage.Exists(f.stores.Doctors.DetailPath("D00003")))
	assert.False(t, storage.Exists(f.stores.Doctors.MasterPath("D00003")))
	assert.Len(t, f.doctors.All(), 2)

	// the readable grid was not given a column either
	g, err := f.stores.Dates.Load(monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"D00001", "D00002"}, g.Doctors)
}
