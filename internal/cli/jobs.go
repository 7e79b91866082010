package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/internal/notification"
)

func newJobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel notification jobs",
	}

	var group, status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, soonest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(_ config.App, svc *app.Services) error {
				found, err := svc.Scheduler.List(cmd.Context(), notification.Filter{
					GroupRef: group,
					Status:   notification.Status(status),
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if len(found) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tSCHEDULED\tCATEGORY\tGROUP\tAUDIENCE")
				for _, j := range found {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
						j.ID, j.Status, j.ScheduledAt.Format("2006-01-02 15:04"), dash(j.Category), dash(j.GroupRef), len(j.Audience))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&group, "group", "", "Only jobs with this group reference")
	list.Flags().StringVar(&status, "status", "", "pending, sent, failed or cancelled")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs")

	cancel := &cobra.Command{
		Use:   "cancel [job-id...]",
		Short: "Cancel pending jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(_ config.App, svc *app.Services) error {
				return cancelJobs(cmd, svc.Scheduler, args)
			})
		},
	}

	jobs.AddCommand(list, cancel)
	return jobs
}

func cancelJobs(cmd *cobra.Command, s *notification.Scheduler, ids []string) error {
	var failed []string
	for _, id := range ids {
		j, err := s.Cancel(cmd.Context(), id)
		switch {
		case errors.Is(err, notification.ErrConflict):
			fmt.Fprintf(cmd.OutOrStdout(), "%s: already %s\n", id, j.Status)
			failed = append(failed, id)
		case err != nil:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", id, err)
			failed = append(failed, id)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cancelled\n", id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d jobs not cancelled: %s", len(failed), len(ids), strings.Join(failed, ", "))
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
