package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MacJediWizard/activator/internal/models"
	"github.com/spf13/cobra"
)

func newLicensesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "licenses",
		Short: "Inspect the license file",
	}

	cmd.AddCommand(
		newLicensesListCmd(opts),
		newLicensesShowCmd(opts),
	)

	return cmd
}

func newLicensesListCmd(opts *rootOptions) *cobra.Command {
	var (
		usedOnly   bool
		unusedOnly bool
		requester  int64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List license keys and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if usedOnly && unusedOnly {
				return fmt.Errorf("--used and --unused are mutually exclusive")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, nil, quietLogger())
			if err != nil {
				return err
			}

			var records []models.LicenseRecord
			if requester != 0 {
				records, err = store.ListByRequester(cmd.Context(), requester)
			} else {
				records, err = store.All(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("list licenses: %w", err)
			}
			sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

			out := cmd.OutOrStdout()
			now := time.Now()
			fmt.Fprintf(out, "%-28s %-14s %-6s %-20s %-12s %-10s\n", "KEY", "PLAN", "DAYS", "STATUS", "REQUESTER", "DAYS LEFT")
			fmt.Fprintln(out, strings.Repeat("-", 95))
			shown := 0
			for _, rec := range records {
				if (usedOnly && !rec.IsUsed()) || (unusedOnly && rec.IsUsed()) {
					continue
				}
				status, holder, left := "unused", "-", "-"
				if sub, ok := models.NewSubscription(rec, now); ok {
					status = string(sub.Status)
					holder = fmt.Sprint(rec.Redemption.ActivatedBy())
					left = fmt.Sprint(sub.DaysLeft)
				}
				fmt.Fprintf(out, "%-28s %-14s %-6d %-20s %-12s %-10s\n",
					rec.Key, rec.PlanName, rec.DurationDays, status, holder, left)
				shown++
			}
			fmt.Fprintf(out, "\n%d license(s)\n", shown)
			return nil
		},
	}

	cmd.Flags().BoolVar(&usedOnly, "used", false, "Only show redeemed keys")
	cmd.Flags().BoolVar(&unusedOnly, "unused", false, "Only show unredeemed keys")
	cmd.Flags().Int64Var(&requester, "requester", 0, "Only show keys redeemed by this requester id")

	return cmd
}

func newLicensesShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show one license in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, nil, quietLogger())
			if err != nil {
				return err
			}

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:           %s\n", rec.Key)
			fmt.Fprintf(out, "Plan:          %s\n", rec.PlanName)
			fmt.Fprintf(out, "Duration:      %d days\n", rec.DurationDays)
			if !rec.IsUsed() {
				fmt.Fprintln(out, "Status:        unused")
				return nil
			}

			r := rec.Redemption
			bound := r.Config()
			fmt.Fprintf(out, "Status:        %s\n", models.StatusForDays(rec.DaysRemaining(time.Now())))
			fmt.Fprintf(out, "Activated by:  %d", r.ActivatedBy())
			if r.ActivatedUsername() != "" {
				fmt.Fprintf(out, " (@%s)", r.ActivatedUsername())
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Activated at:  %s\n", r.ActivatedAt().Format(time.RFC3339))
			fmt.Fprintf(out, "Expires at:    %s\n", r.ExpiresAt().Format(time.RFC3339))
			fmt.Fprintf(out, "Bot token:     %s\n", mask(bound.BotToken))
			fmt.Fprintf(out, "Admin ID:      %s\n", bound.AdminID)
			fmt.Fprintf(out, "Support ID:    %s\n", bound.SupportID)
			fmt.Fprintf(out, "Channel:       %s\n", bound.ChannelID)
			return nil
		},
	}
}
