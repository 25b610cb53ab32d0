package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/consistency"
)

var errNoAuditStore = errors.New("audit history needs POSTGRES_DSN")

func scheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show and edit a doctor's weekly working windows",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <doctor-id>",
		Short: "Print the weekly template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			tpl, err := a.svc.WeeklyTemplate(cmd.Context(), who, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, day := range weekdays {
				if win, ok := tpl.For(day); ok {
					fmt.Fprintf(out, "%s %s-%s\n", appointment.DayCode(day), win.StartLabel(), win.EndLabel())
				} else {
					fmt.Fprintf(out, "%s -\n", appointment.DayCode(day))
				}
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <doctor-id> <MON..SUN> <HH:MM> <HH:MM>",
		Short: "Open a weekday that has no window yet",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			day, err := appointment.ParseDay(args[1])
			if err != nil {
				return err
			}
			if err := a.svc.SetWeeklyWindow(cmd.Context(), who, args[0], day, args[2], args[3]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s-%s set\n", args[0], appointment.DayCode(day), args[2], args[3])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "modify <doctor-id> <MON..SUN> <HH:MM> <HH:MM>",
		Short: "Change a weekday window, canceling bookings that fall outside it",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			day, err := appointment.ParseDay(args[1])
			if err != nil {
				return err
			}
			canceled, err := a.svc.ModifyWeeklyWindow(cmd.Context(), who, args[0], day, args[2], args[3], a.confirm(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			reportCanceled(cmd.OutOrStdout(), canceled)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <doctor-id> <MON..SUN>",
		Short: "Close a weekday, canceling its future bookings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			day, err := appointment.ParseDay(args[1])
			if err != nil {
				return err
			}
			canceled, err := a.svc.DeleteWeeklyWindow(cmd.Context(), who, args[0], day, a.confirm(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			reportCanceled(cmd.OutOrStdout(), canceled)
			return nil
		},
	})
	return cmd
}

var weekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// confirm lists the bookings a window change would cancel and asks y/N.
func (a *app) confirm(out io.Writer) appointment.ConfirmFunc {
	return func(affected []appointment.ReservationRecord) bool {
		if len(affected) > 0 {
			fmt.Fprintf(out, "%d future reservation(s) will be canceled:\n", len(affected))
			printRecords(out, affected)
		}
		if a.yes {
			return true
		}
		fmt.Fprint(out, "proceed? [y/N] ")
		line, _ := a.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func reportCanceled(out io.Writer, canceled []appointment.ReservationRecord) {
	if len(canceled) == 0 {
		fmt.Fprintln(out, "schedule updated")
		return
	}
	fmt.Fprintf(out, "schedule updated, %d reservation(s) canceled\n", len(canceled))
}

func doctorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "doctor", Short: "Doctor directory"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List doctors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range a.doctors.All() {
				fmt.Fprintln(cmd.OutOrStdout(), d.Line())
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "onboard <name> <dept> <phone>",
		Short: "Register a doctor and create their schedule files",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			doc, err := a.svc.OnboardDoctor(cmd.Context(), who, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.Line())
			return nil
		},
	})
	return cmd
}

func patientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "patient", Short: "Patient directory"}
	cmd.AddCommand(&cobra.Command{
		Use:   "register <username> <name> <YYYY-MM-DD> <phone>",
		Short: "Register a patient and create their ledger",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			p, err := a.svc.RegisterPatient(cmd.Context(), who, args[0], args[1], args[2], args[3])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.Line())
			return nil
		},
	})
	return cmd
}

func majorCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "major", Short: "Department registry"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List departments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range a.depts.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.Code, d.Name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <CODE> <name>",
		Short: "Add a department",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			return a.svc.AddDepartment(cmd.Context(), who, args[0], args[1])
		},
	})
	return cmd
}

func timeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "time", Short: "Virtual clock"}
	cmd.AddCommand(&cobra.Command{
		Use:   "now",
		Short: "Print the virtual time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.clock.Now().Format(clock.Layout))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <YYYY-MM-DD> <HH:MM:SS>",
		Short: "Move the virtual clock (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			if who.CurrentUserRole() != appointment.RoleAdmin {
				return fmt.Errorf("%w: %s", appointment.ErrRoleNotAllowed, who.CurrentUserRole())
			}
			t, err := time.Parse(clock.Layout, args[0]+" "+args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", appointment.ErrBadTime, err)
			}
			if err := a.clock.Set(t); err != nil {
				return err
			}
			a.log.Info().Time("now", t).Msg("virtual clock moved")
			fmt.Fprintln(cmd.OutOrStdout(), a.clock.Now().Format(clock.Layout))
			return nil
		},
	})
	return cmd
}

func checkDataCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-data",
		Short: "Run the data directory integrity check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := consistency.Validate(a.cfg.DataDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d departments, %d doctors, %d patients, %d dates, %d active reservations\n",
				report.Departments, report.Doctors, report.Patients, report.Dates, report.Reservations)
			return nil
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <reservation-id>",
		Short: "Show the audit trail of a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			if _, err := a.svc.Reservation(cmd.Context(), who, args[0]); err != nil {
				return err
			}
			if a.audit == nil {
				return errNoAuditStore
			}
			events, err := a.audit.ListEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %-10s %s\n",
					ev.CreatedAt.Format(clock.Layout), ev.EventType, ev.Actor, ev.Payload)
			}
			return nil
		},
	}
}
