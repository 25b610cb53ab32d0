package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/consistency"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type options struct {
	doctors  int
	patients int
	bookings int
	days     int
	seed     int64
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill a clinic data directory with fake doctors, patients and bookings",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 10, "doctors to onboard")
	cmd.Flags().IntVar(&opts.patients, "patients", 50, "patients to register")
	cmd.Flags().IntVar(&opts.bookings, "bookings", 100, "reservations to attempt")
	cmd.Flags().IntVar(&opts.days, "days", 14, "booking horizon in days after today")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "faker seed, 0 for a random one")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	log := logging.New(cfg.LogLevel, cfg.Env)
	log.Info().Str("data_dir", cfg.DataDir).Msg("seed starting")

	depts, err := registry.LoadDepartments(cfg.DataDir)
	if err != nil {
		return err
	}
	doctors, err := registry.LoadDoctors(cfg.DataDir)
	if err != nil {
		return err
	}
	patients, err := registry.LoadPatients(cfg.DataDir)
	if err != nil {
		return err
	}
	clk, err := clock.Load(cfg.DataDir, cfg.ClockYear)
	if err != nil {
		return err
	}
	locker, closeLocker, err := redisclient.NewWriterLocker(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("redis connection error: %w", err)
	}
	defer closeLocker()

	svc := appointment.NewService(
		appointment.NewStores(cfg.DataDir),
		appointment.Directories{Doctors: doctors, Patients: patients, Departments: depts},
		clk,
		locker,
		appointment.NewLogEventSink(log.Level(zerolog.WarnLevel)),
		cfg,
		log,
	)
	if _, err := svc.Recover(ctx); err != nil {
		return err
	}

	if err := gofakeit.Seed(opts.seed); err != nil {
		return fmt.Errorf("seed faker: %w", err)
	}

	docIDs, err := seedDoctors(ctx, svc, depts.All(), opts.doctors)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	log.Info().Int("count", len(docIDs)).Msg("doctors seeded")

	patIDs, err := seedPatients(ctx, svc, opts.patients)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	log.Info().Int("count", len(patIDs)).Msg("patients seeded")

	booked, err := seedBookings(ctx, svc, clk.Today(), docIDs, patIDs, opts)
	if err != nil {
		return fmt.Errorf("seed bookings: %w", err)
	}
	log.Info().Int("count", booked).Int("attempted", opts.bookings).Msg("bookings seeded")

	report, err := consistency.Validate(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("seeded data failed the integrity check: %w", err)
	}
	log.Info().
		Int("doctors", report.Doctors).
		Int("patients", report.Patients).
		Int("reservations", report.Reservations).
		Msg("seed complete")
	return nil
}

// seedDoctors onboards doctors and opens a weekday window for each of
// them, Monday to Friday, with random start and end hours.
func seedDoctors(ctx context.Context, svc *appointment.Service, depts []registry.Department, count int) ([]string, error) {
	var ids []string
	for i := 0; i < count; i++ {
		dept := depts[gofakeit.Number(0, len(depts)-1)].Code
		doc, err := svc.OnboardDoctor(ctx, appointment.Admin, fakeName(), dept, fakePhone())
		if err != nil {
			return ids, err
		}
		ids = append(ids, doc.ID)

		start := fmt.Sprintf("%02d:00", gofakeit.Number(9, 11))
		end := fmt.Sprintf("%02d:00", gofakeit.Number(14, 18))
		for _, day := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday} {
			if err := svc.SetWeeklyWindow(ctx, appointment.Admin, doc.ID, day, start, end); err != nil {
				return ids, err
			}
		}
	}
	return ids, nil
}

func seedPatients(ctx context.Context, svc *appointment.Service, count int) ([]string, error) {
	var ids []string
	for i := 0; i < count; i++ {
		username := fmt.Sprintf("%s%d", noSpaces(strings.ToLower(gofakeit.Username())), i)
		birth := gofakeit.DateRange(
			time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC),
		).Format(appointment.DateLayout)

		p, err := svc.RegisterPatient(ctx, appointment.Admin, username, fakeName(), birth, fakePhone())
		if err != nil {
			return ids, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// seedBookings picks a random patient, doctor and day and books the first
// free slot it draws. Rejections for taken or closed slots are skipped.
func seedBookings(ctx context.Context, svc *appointment.Service, today time.Time, docIDs, patIDs []string, opts options) (int, error) {
	if len(docIDs) == 0 || len(patIDs) == 0 {
		return 0, nil
	}
	booked := 0
	for i := 0; i < opts.bookings; i++ {
		date := today.AddDate(0, 0, gofakeit.Number(1, max(opts.days, 1)))
		doctorID := docIDs[gofakeit.Number(0, len(docIDs)-1)]

		avail, err := svc.AvailableSlots(ctx, doctorID, &date)
		if err != nil {
			return booked, err
		}
		if len(avail) == 0 || len(avail[0].Slots) == 0 {
			continue
		}
		free := avail[0].Slots
		idx := free[gofakeit.Number(0, len(free)-1)]

		_, err = svc.Create(ctx, appointment.Admin, appointment.CreateRequest{
			PatientID: patIDs[gofakeit.Number(0, len(patIDs)-1)],
			DoctorRef: doctorID,
			Date:      date,
			Time:      slot.Format(idx),
		})
		if errors.Is(err, appointment.ErrStateConflict) {
			continue
		}
		if err != nil {
			return booked, err
		}
		booked++
	}
	return booked, nil
}

func fakeName() string {
	return noSpaces(gofakeit.LastName() + gofakeit.FirstName())
}

func fakePhone() string {
	return fmt.Sprintf("010-%04d-%04d", gofakeit.Number(0, 9999), gofakeit.Number(0, 9999))
}

func noSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
