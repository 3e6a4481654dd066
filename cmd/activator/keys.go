package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/activator/internal/license"
	"github.com/MacJediWizard/activator/internal/models"
	"github.com/spf13/cobra"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate and issue license keys",
	}

	cmd.AddCommand(
		newKeysGenerateCmd(),
		newKeysIssueCmd(opts),
	)

	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	var (
		prefix string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print new license keys without storing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := license.GenerateKeys(prefix, count)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix, usually the plan name (required)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of keys to generate")
	_ = cmd.MarkFlagRequired("prefix")

	return cmd
}

func newKeysIssueCmd(opts *rootOptions) *cobra.Command {
	var (
		prefix string
		count  int
		plan   string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "issue [key...]",
		Short: "Add unredeemed keys to the license file",
		Long: `Add unredeemed keys to the license file.

Keys given as arguments are issued as-is. Without arguments, --count keys are
generated with --prefix. Issuing a key that already exists fails without
writing anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			keys := args
			if len(keys) == 0 {
				if prefix == "" {
					prefix = plan
				}
				keys, err = license.GenerateKeys(prefix, count)
				if err != nil {
					return err
				}
			}

			records := make([]models.LicenseRecord, 0, len(keys))
			for _, k := range keys {
				rec, err := models.NewLicenseRecord(k, plan, days)
				if err != nil {
					return fmt.Errorf("key %q: %w", k, err)
				}
				records = append(records, rec)
			}

			store, err := openStore(cfg, nil, quietLogger())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := store.Issue(ctx, records...); err != nil {
				return fmt.Errorf("issue keys: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Issued %d %s key(s) valid for %d days to %s\n", len(records), plan, days, store.Path())
			for _, rec := range records {
				fmt.Fprintln(out, rec.Key)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix (defaults to the plan name)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of keys to generate when none are given")
	cmd.Flags().StringVar(&plan, "plan", "", "Plan name (required)")
	cmd.Flags().IntVar(&days, "days", 30, "Duration in days granted on redemption")
	_ = cmd.MarkFlagRequired("plan")

	return cmd
}
