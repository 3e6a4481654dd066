package main

import (
	"fmt"
	"net/http"

	"github.com/MacJediWizard/activator/internal/config"
	"github.com/MacJediWizard/activator/internal/handoff"
	"github.com/MacJediWizard/activator/internal/httpclient"
	"github.com/MacJediWizard/activator/internal/license"
	"github.com/MacJediWizard/activator/internal/notifications"
	"github.com/rs/zerolog"
)

// openStore opens the license file named by cfg. rec may be nil.
func openStore(cfg *config.Config, rec license.ReloadRecorder, logger zerolog.Logger) (*license.Store, error) {
	store, err := license.NewStore(license.StoreConfig{
		Path:     cfg.LicenseFile,
		CacheTTL: cfg.CacheTTL,
		Metrics:  rec,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open license store: %w", err)
	}
	return store, nil
}

// buildOutbound assembles the notification sinks configured in cfg. The log
// sink is always present so events are visible without a transport.
func buildOutbound(cfg *config.Config, logger zerolog.Logger) (notifications.Outbound, error) {
	sinks := []notifications.Outbound{notifications.NewLogSink(logger)}

	if cfg.Proxy.HasProxy() {
		logger.Info().Str("proxy", httpclient.ProxyInfo(&cfg.Proxy)).Msg("outbound notifications use a proxy")
	}
	operatorClient, err := httpclient.New(httpclient.Options{ProxyConfig: &cfg.Proxy})
	if err != nil {
		return nil, err
	}

	if cfg.Webhook.URL != "" {
		opts := httpclient.Options{Timeout: cfg.Webhook.Timeout, ProxyConfig: &cfg.Proxy}
		if cfg.Webhook.BlockPrivate {
			opts.DialContext = notifications.ValidatingDialer()
		}
		client, err := httpclient.New(opts)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, notifications.NewWebhookOutbound(notifications.WebhookConfig{
			URL:          cfg.Webhook.URL,
			Secret:       cfg.Webhook.Secret,
			Timeout:      cfg.Webhook.Timeout,
			MaxAttempts:  cfg.Webhook.MaxAttempts,
			RequireHTTPS: cfg.Webhook.RequireHTTPS,
			BlockPrivate: cfg.Webhook.BlockPrivate,
			Client:       client,
		}, logger))
	} else {
		logger.Warn().Msg("no webhook configured, outbound events are only logged")
	}

	operators, err := buildOperatorSinks(cfg, operatorClient, logger)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, operators...)

	return notifications.NewFanout(sinks...), nil
}

func buildOperatorSinks(cfg *config.Config, client *http.Client, logger zerolog.Logger) ([]notifications.Outbound, error) {
	var sinks []notifications.Outbound

	if cfg.Slack.WebhookURL != "" {
		slack, err := notifications.NewSlackOperatorSink(notifications.SlackConfig{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Client:     client,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create slack sink: %w", err)
		}
		sinks = append(sinks, slack)
	}

	if cfg.Discord.WebhookURL != "" {
		discord, err := notifications.NewDiscordOperatorSink(notifications.DiscordConfig{
			WebhookURL: cfg.Discord.WebhookURL,
			Username:   cfg.Discord.Username,
			Client:     client,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create discord sink: %w", err)
		}
		sinks = append(sinks, discord)
	}

	return sinks, nil
}

// openDurable opens the handoff outbox and wraps outbound with it.
func openDurable(cfg *config.Config, outbound notifications.Outbound, logger zerolog.Logger) (*handoff.Outbox, *handoff.Durable, error) {
	outbox, err := handoff.NewOutbox(cfg.DataDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open handoff outbox: %w", err)
	}
	return outbox, handoff.NewDurable(outbox, outbound, logger), nil
}
