package main

import (
	"fmt"
	"os"

	"github.com/MacJediWizard/activator/internal/config"
	"github.com/MacJediWizard/activator/internal/httpclient"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage service configuration",
	}

	cmd.AddCommand(
		newConfigInitCmd(opts),
		newConfigShowCmd(opts),
	)

	return cmd
}

func newConfigInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", opts.configPath)
			}
			if err := config.Default().Save(opts.configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", opts.configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file:      %s\n", opts.configPath)
			fmt.Fprintf(out, "Environment:      %s\n", cfg.Environment)
			fmt.Fprintf(out, "License file:     %s\n", cfg.LicenseFile)
			fmt.Fprintf(out, "Data dir:         %s\n", cfg.DataDir)
			fmt.Fprintf(out, "Listen address:   %s\n", cfg.HTTP.Addr)
			fmt.Fprintf(out, "Ingress secret:   %s\n", mask(cfg.HTTP.IngressSecret))
			fmt.Fprintf(out, "Rate limit:       %s\n", cfg.HTTP.RateLimit)
			fmt.Fprintf(out, "Scan interval:    %s\n", cfg.Expiry.Interval)
			fmt.Fprintf(out, "Reminder window:  %d days\n", cfg.Expiry.WindowDays)
			fmt.Fprintf(out, "Webhook URL:      %s\n", cfg.Webhook.URL)
			fmt.Fprintf(out, "Webhook secret:   %s\n", mask(cfg.Webhook.Secret))
			fmt.Fprintf(out, "Proxy:            %s\n", httpclient.ProxyInfo(&cfg.Proxy))
			if cfg.Slack.WebhookURL != "" {
				fmt.Fprintf(out, "Slack channel:    %s\n", cfg.Slack.Channel)
			}
			if cfg.Discord.WebhookURL != "" {
				fmt.Fprintln(out, "Discord:          enabled")
			}
			return nil
		},
	}
}
