package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/consistency"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/registry"
)

// app holds everything the commands share once bootstrap has run.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	svc      *appointment.Service
	clock    *clock.VirtualClock
	depts    *registry.Departments
	doctors  *registry.Doctors
	patients *registry.Patients
	audit    *appointment.PgEventSink
	closers  []func() error

	in  *bufio.Reader
	as  string
	yes bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{in: bufio.NewReader(os.Stdin)}
	err := a.rootCmd().ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clinic",
		Short:         "Clinic appointment slot scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return a.bootstrap(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.as, "as", "", "act as admin (default), a patient id or a doctor id")
	root.PersistentFlags().BoolVarP(&a.yes, "yes", "y", false, "confirm schedule changes without prompting")

	root.AddCommand(reserveCmd(a))
	root.AddCommand(modifyCmd(a))
	root.AddCommand(cancelCmd(a))
	root.AddCommand(completeCmd(a))
	root.AddCommand(noShowCmd(a))
	root.AddCommand(availableCmd(a))
	root.AddCommand(listCmd(a))
	root.AddCommand(checkCmd(a))
	root.AddCommand(pendingCmd(a))
	root.AddCommand(reserveListCmd(a))
	root.AddCommand(scheduleCmd(a))
	root.AddCommand(doctorCmd(a))
	root.AddCommand(patientCmd(a))
	root.AddCommand(majorCmd(a))
	root.AddCommand(timeCmd(a))
	root.AddCommand(checkDataCmd(a))
	root.AddCommand(historyCmd(a))
	root.AddCommand(shellCmd(a))

	root.SetErr(os.Stderr)
	return root
}

// bootstrap runs once per process: recovery before validation, and any
// validation failure aborts before a command touches the data directory.
func (a *app) bootstrap(ctx context.Context) error {
	if a.svc != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	a.cfg = cfg
	a.log = logging.New(cfg.LogLevel, cfg.Env)
	a.log.Debug().Str("env", cfg.Env).Str("data_dir", cfg.DataDir).Msg("clinic starting up")

	if a.depts, err = registry.LoadDepartments(cfg.DataDir); err != nil {
		return a.fatal("load departments", err)
	}
	if a.doctors, err = registry.LoadDoctors(cfg.DataDir); err != nil {
		return a.fatal("load doctors", err)
	}
	if a.patients, err = registry.LoadPatients(cfg.DataDir); err != nil {
		return a.fatal("load patients", err)
	}
	if a.clock, err = clock.Load(cfg.DataDir, cfg.ClockYear); err != nil {
		return a.fatal("load virtual clock", err)
	}

	locker, closeLocker, err := redisclient.NewWriterLocker(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.LockTTL)
	if err != nil {
		return a.fatal("redis connection error", err)
	}
	a.closers = append(a.closers, closeLocker)

	sinks := appointment.MultiSink{appointment.NewLogEventSink(a.log)}
	if cfg.PostgresDSN != "" {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return a.fatal("postgres connection error", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		a.audit = appointment.NewPgEventSink(pool)
		if err := a.audit.EnsureSchema(ctx); err != nil {
			return a.fatal("ensure audit schema", err)
		}
		sinks = append(sinks, a.audit)
	}

	a.svc = appointment.NewService(
		appointment.NewStores(cfg.DataDir),
		appointment.Directories{Doctors: a.doctors, Patients: a.patients, Departments: a.depts},
		a.clock,
		locker,
		sinks,
		cfg,
		a.log,
	)

	n, err := a.svc.Recover(ctx)
	if err != nil {
		return a.fatal("recover intents", err)
	}
	if n > 0 {
		a.log.Warn().Int("count", n).Msg("recovered incomplete operations")
	}

	report, err := consistency.Validate(cfg.DataDir)
	if err != nil {
		return a.fatal("data integrity check failed", err)
	}
	a.log.Debug().
		Int("doctors", report.Doctors).
		Int("patients", report.Patients).
		Int("reservations", report.Reservations).
		Msg("data integrity check passed")
	return nil
}

func (a *app) fatal(what string, err error) error {
	a.log.Error().Err(err).Msg(what)
	return fmt.Errorf("%s: %w", what, err)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

// identity maps --as onto a caller: empty or "admin" is the administrator,
// P###### a patient and D##### a doctor.
func (a *app) identity() (appointment.Identity, error) {
	as := strings.TrimSpace(a.as)
	switch {
	case as == "" || strings.EqualFold(as, "admin"):
		return appointment.Admin, nil
	case registry.IsPatientID(as):
		if _, err := a.patients.Get(as); err != nil {
			return nil, fmt.Errorf("%w: %s", appointment.ErrUnknownPatient, as)
		}
		return appointment.StaticIdentity{ID: as, Role: appointment.RolePatient}, nil
	case registry.IsDoctorID(as):
		if _, err := a.doctors.Get(as); err != nil {
			return nil, fmt.Errorf("%w: %s", appointment.ErrUnknownDoctor, as)
		}
		return appointment.StaticIdentity{ID: as, Role: appointment.RoleDoctor}, nil
	}
	return nil, fmt.Errorf("%w: --as %q", appointment.ErrInvalidField, as)
}

// shellCmd reads commands from stdin after a single bootstrap. Errors are
// printed and the loop keeps going.
func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			// each line gets a fresh command tree, whose flag defaults
			// would otherwise reset the shell's --as and --yes
			as, yes := a.as, a.yes
			for {
				fmt.Fprint(out, "clinic> ")
				line, err := a.in.ReadString('\n')
				fields := strings.Fields(line)
				if len(fields) > 0 {
					if fields[0] == "exit" || fields[0] == "quit" {
						return nil
					}
					sub := a.rootCmd()
					a.as, a.yes = as, yes
					sub.SetArgs(fields)
					sub.SetOut(out)
					if err := sub.ExecuteContext(cmd.Context()); err != nil {
						fmt.Fprintln(out, describe(err))
					}
				}
				if err != nil {
					fmt.Fprintln(out)
					return nil
				}
			}
		},
	}
}

// describe prefixes an error with its category so a user can tell a
// rejected request from a broken data directory.
func describe(err error) string {
	if errors.Is(err, appointment.ErrWriterBusy) {
		return "busy: " + err.Error()
	}
	if k := appointment.KindOf(err); k != 0 {
		return fmt.Sprintf("error (%s): %v", k, err)
	}
	return "error: " + err.Error()
}
