package main

import (
	"fmt"

	"github.com/MacJediWizard/activator/internal/expiry"
	"github.com/spf13/cobra"
)

func newExpiryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expiry",
		Short: "Expiry reminder tools",
	}

	cmd.AddCommand(newExpiryScanCmd(opts))

	return cmd
}

func newExpiryScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one reminder sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			store, err := openStore(cfg, nil, logger)
			if err != nil {
				return err
			}
			outbound, err := buildOutbound(cfg, logger)
			if err != nil {
				return err
			}

			scanner := expiry.NewScanner(store, outbound, expiry.Config{
				WindowDays:   cfg.Expiry.WindowDays,
				RenewContact: cfg.Expiry.RenewContact,
			}, logger)

			result, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d, eligible %d, sent %d, failed %d\n",
				result.Checked, result.Eligible, result.Sent, result.Failed)
			return nil
		},
	}
}
