package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

func reserveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve <doctor> <YYYY-MM-DD> <HH:MM>",
		Short: "Book a slot with a doctor (id or name)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			date, err := clock.ParseDate(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", appointment.ErrBadTime, err)
			}
			patientID, _ := cmd.Flags().GetString("patient")

			res, err := a.svc.Create(cmd.Context(), who, appointment.CreateRequest{
				PatientID: patientID,
				DoctorRef: args[0],
				Date:      date,
				Time:      args[2],
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reserved %s\n", res.Record.ID)
			printRecords(cmd.OutOrStdout(), []appointment.ReservationRecord{res.Record})
			if res.Advisory != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "note:", res.Advisory)
			}
			return nil
		},
	}
	cmd.Flags().String("patient", "", "patient id, required when booking as admin")
	return cmd
}

func modifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modify <reservation-id> <YYYY-MM-DD> <HH:MM>",
		Short: "Move a reservation to another slot with the same doctor",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			date, err := clock.ParseDate(args[1])
			if err != nil {
				return fmt.Errorf("%w: %v", appointment.ErrBadTime, err)
			}
			rec, err := a.svc.Modify(cmd.Context(), who, args[0], date, args[2])
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), []appointment.ReservationRecord{rec})
			return nil
		},
	}
}

// transitionCmd covers cancel and complete, which share a shape.
func transitionCmd(a *app, use, short string, op func(*cobra.Command, appointment.Identity, string) (appointment.ReservationRecord, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <reservation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			rec, err := op(cmd, who, args[0])
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), []appointment.ReservationRecord{rec})
			return nil
		},
	}
}

func cancelCmd(a *app) *cobra.Command {
	return transitionCmd(a, "cancel", "Cancel a booked reservation",
		func(cmd *cobra.Command, who appointment.Identity, id string) (appointment.ReservationRecord, error) {
			return a.svc.Cancel(cmd.Context(), who, id)
		})
}

func completeCmd(a *app) *cobra.Command {
	return transitionCmd(a, "complete", "Mark a past reservation as completed",
		func(cmd *cobra.Command, who appointment.Identity, id string) (appointment.ReservationRecord, error) {
			return a.svc.Complete(cmd.Context(), who, id)
		})
}

func noShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "noshow <reservation-id>",
		Short: "Mark a past reservation as a no-show",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			rec, count, err := a.svc.NoShow(cmd.Context(), who, args[0])
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), []appointment.ReservationRecord{rec})
			fmt.Fprintf(cmd.OutOrStdout(), "%s no-shows: %d\n", rec.PatientID, count)
			return nil
		},
	}
}

func availableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "available <dept|doctor> [YYYY-MM-DD]",
		Short: "List free slots for a department or a doctor",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var date *time.Time
			if len(args) == 2 {
				d, err := clock.ParseDate(args[1])
				if err != nil {
					return fmt.Errorf("%w: %v", appointment.ErrBadTime, err)
				}
				date = &d
			}
			avail, err := a.svc.AvailableSlots(cmd.Context(), args[0], date)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(avail) == 0 {
				fmt.Fprintln(out, "no free slots")
				return nil
			}
			for _, av := range avail {
				labels := make([]string, len(av.Slots))
				for i, s := range av.Slots {
					labels[i] = slot.Format(s)
				}
				fmt.Fprintf(out, "%s %s(%s) %s: %s\n",
					av.Date.Format(appointment.DateLayout), av.DoctorName, av.DoctorID, av.Dept, strings.Join(labels, " "))
			}
			return nil
		},
	}
}

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [patient-id]",
		Short: "Show a patient's reservation history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			var patientID string
			if len(args) == 1 {
				patientID = args[0]
			}
			recs, err := a.svc.PatientReservations(cmd.Context(), who, patientID)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}

func checkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <reservation-id>",
		Short: "Look up one reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			rec, err := a.svc.Reservation(cmd.Context(), who, args[0])
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), []appointment.ReservationRecord{rec})
			return nil
		},
	}
}

func pendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending [doctor-id]",
		Short: "List past reservations still waiting for complete or noshow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			var doctorID string
			if len(args) == 1 {
				doctorID = args[0]
			}
			recs, err := a.svc.PendingCompletion(cmd.Context(), who, doctorID)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}

func reserveListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve-list [YYYY-MM-DD]",
		Short: "List every reservation on a date (today by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := a.identity()
			if err != nil {
				return err
			}
			date := a.clock.Today()
			if len(args) == 1 {
				if date, err = clock.ParseDate(args[0]); err != nil {
					return fmt.Errorf("%w: %v", appointment.ErrBadTime, err)
				}
			}
			recs, err := a.svc.ReservationsOn(cmd.Context(), who, date)
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}

func printRecords(w io.Writer, recs []appointment.ReservationRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no reservations")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATIENT\tDATE\tTIME\tDEPT\tDOCTOR\tSTATUS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s-%s\t%s\t%s\t%s\n",
			r.ID, r.PatientID, r.Date.Format(appointment.DateLayout), r.Start(), r.End(), r.Dept, r.DoctorID, r.Status)
	}
	tw.Flush()
}
