package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/activator/internal/config"
	"github.com/MacJediWizard/activator/internal/handoff"
	"github.com/spf13/cobra"
)

func newHandoffsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoffs",
		Short: "Inspect and manage stored operator handoffs",
	}

	cmd.AddCommand(
		newHandoffsListCmd(opts),
		newHandoffsShowCmd(opts),
		newHandoffsAckCmd(opts),
		newHandoffsRedeliverCmd(opts),
	)

	return cmd
}

func openOutbox(opts *rootOptions) (*config.Config, *handoff.Outbox, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	outbox, err := handoff.NewOutbox(cfg.DataDir, quietLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("open handoff outbox: %w", err)
	}
	return cfg, outbox, nil
}

func newHandoffsListCmd(opts *rootOptions) *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operator handoffs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, outbox, err := openOutbox(opts)
			if err != nil {
				return err
			}
			defer outbox.Close()

			var entries []*handoff.Entry
			if pendingOnly {
				entries, err = outbox.ListPending(cmd.Context())
			} else {
				entries, err = outbox.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No handoffs")
				return nil
			}

			fmt.Fprintf(out, "%-36s %-24s %-12s %-10s %-8s %-20s\n", "ID", "KEY", "REQUESTER", "STATUS", "ATTEMPTS", "CREATED")
			fmt.Fprintln(out, strings.Repeat("-", 115))
			for _, e := range entries {
				fmt.Fprintf(out, "%-36s %-24s %-12d %-10s %-8d %-20s\n",
					e.ID, e.Bundle.LicenseKey, e.Bundle.RequesterID, e.Status, e.Attempts,
					e.CreatedAt.Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Only show undelivered handoffs")

	return cmd
}

func newHandoffsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a handoff and its config artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, outbox, err := openOutbox(opts)
			if err != nil {
				return err
			}
			defer outbox.Close()

			e, err := outbox.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			b := e.Bundle
			fmt.Fprintf(out, "ID:          %s\n", e.ID)
			fmt.Fprintf(out, "Status:      %s (%d attempts)\n", e.Status, e.Attempts)
			if e.LastError != "" {
				fmt.Fprintf(out, "Last error:  %s\n", e.LastError)
			}
			fmt.Fprintf(out, "Requester:   %d", b.RequesterID)
			if b.Username != "" {
				fmt.Fprintf(out, " (@%s)", b.Username)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Key:         %s (%s)\n", b.LicenseKey, b.PlanName)
			fmt.Fprintf(out, "Expires at:  %s\n", b.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintln(out)
			fmt.Fprint(out, b.Artifact)
			return nil
		},
	}
}

func newHandoffsAckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>...",
		Short: "Mark handoffs as delivered by hand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, outbox, err := openOutbox(opts)
			if err != nil {
				return err
			}
			defer outbox.Close()

			for _, id := range args {
				if err := outbox.Ack(cmd.Context(), id); err != nil {
					return fmt.Errorf("ack %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s\n", id)
			}
			return nil
		},
	}
}

func newHandoffsRedeliverCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "redeliver",
		Short: "Retry every undelivered handoff once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := quietLogger()
			outbound, err := buildOutbound(cfg, logger)
			if err != nil {
				return err
			}
			outbox, durable, err := openDurable(cfg, outbound, logger)
			if err != nil {
				return err
			}
			defer outbox.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			delivered, err := durable.Redeliver(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d handoff(s)\n", delivered)
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall time limit")

	return cmd
}
