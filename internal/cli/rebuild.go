package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"liveclass/internal/app"
	"liveclass/internal/config"
	"liveclass/internal/queue"
)

func newRebuildCmd() *cobra.Command {
	var enqueue bool
	var requestedBy string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate lesson reminders from the calendar",
		Long: `Cancels every pending class and vehicle reminder and recreates them from the calendar window.

With --enqueue the request is handed to the worker, which runs rebuilds one at a time.
Without it the rebuild runs in this process and the report is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(cfg config.App, svc *app.Services) error {
				if enqueue {
					return enqueueRebuild(cmd, cfg, svc, requestedBy)
				}
				rep, err := svc.Rebuilder.Rebuild(cmd.Context())
				out, _ := json.MarshalIndent(rep, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Queue the rebuild for the worker instead of running it here")
	cmd.Flags().StringVar(&requestedBy, "as", "remindctl", "Name recorded as the requester")
	return cmd
}

func enqueueRebuild(cmd *cobra.Command, cfg config.App, svc *app.Services, requestedBy string) error {
	if cfg.QueueBackend == "memory" {
		return errors.New("the memory queue lives inside the api process; run without --enqueue or use the redis backend")
	}
	msg, req, err := queue.NewRebuildMessage(requestedBy, time.Now())
	if err != nil {
		return err
	}
	if err := svc.Queue.Publish(cmd.Context(), msg); err != nil {
		return fmt.Errorf("queue publish failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rebuild %s queued\n", req.ID)
	return nil
}
