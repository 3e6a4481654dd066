package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/activator/internal/api"
	"github.com/MacJediWizard/activator/internal/api/handlers"
	"github.com/MacJediWizard/activator/internal/config"
	"github.com/MacJediWizard/activator/internal/expiry"
	"github.com/MacJediWizard/activator/internal/metrics"
	"github.com/MacJediWizard/activator/internal/session"
	"github.com/MacJediWizard/activator/internal/shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the activation service",
		Long: `Run the activation service.

The service will:
  - Accept dialogue events from the transport on /api/v1
  - Redeem license keys exactly once and hand the result to the operator
  - Retry undelivered operator handoffs from the local outbox
  - Send expiry reminders once a day`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, newLogger(cfg))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("environment", string(cfg.Environment)).
		Msg("Starting activator")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store, err := openStore(cfg, m, logger)
	if err != nil {
		return err
	}

	outbound, err := buildOutbound(cfg, logger)
	if err != nil {
		return err
	}
	outbox, durable, err := openDurable(cfg, outbound, logger)
	if err != nil {
		return err
	}

	controller := session.NewController(store, durable, logger)
	controller.SetMetrics(m)

	scanner := expiry.NewScanner(store, durable, expiry.Config{
		Interval:      cfg.Expiry.Interval,
		FirstRunDelay: cfg.Expiry.FirstRunDelay,
		WindowDays:    cfg.Expiry.WindowDays,
		RenewContact:  cfg.Expiry.RenewContact,
	}, logger)
	scanner.SetMetrics(m)

	tracker := shutdown.NewRequestTracker()
	shutdownCfg := shutdown.DefaultConfig()
	if cfg.HTTP.ShutdownTimeout > 0 {
		shutdownCfg.Timeout = cfg.HTTP.ShutdownTimeout
	}
	manager := shutdown.NewManager(shutdownCfg, tracker, logger)

	routerCfg := api.DefaultConfig()
	routerCfg.RateLimit = cfg.HTTP.RateLimit
	routerCfg.IngressSecret = cfg.HTTP.IngressSecret
	routerCfg.RenewContact = cfg.Expiry.RenewContact
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate

	router, err := api.NewRouter(routerCfg, api.Dependencies{
		Dialogue:      controller,
		Subscriptions: store,
		HealthChecks: map[string]handlers.Pinger{
			"license_store":  store,
			"handoff_outbox": outbox,
			"shutdown":       shutdown.NewHealthAdapter(manager),
		},
		Gatherer:  reg,
		Admission: tracker.Middleware(manager.IsAccepting),
	}, logger)
	if err != nil {
		outbox.Close()
		return fmt.Errorf("initialize router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Components stop in reverse dependency order.
	manager.Register("http_server", srv.Shutdown)
	manager.Register("expiry_scanner", func(ctx context.Context) error {
		select {
		case <-scanner.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	manager.Register("handoff_redelivery", func(context.Context) error {
		durable.Stop()
		return nil
	})
	manager.Register("handoff_outbox", func(context.Context) error {
		return outbox.Close()
	})

	if err := scanner.Start(); err != nil {
		outbox.Close()
		return fmt.Errorf("start expiry scanner: %w", err)
	}
	durable.Start(cfg.Handoff.RedeliverInterval, cfg.Handoff.PruneAge)

	if pending, err := outbox.CountPending(ctx); err == nil && pending > 0 {
		logger.Warn().Int("pending", pending).Msg("undelivered operator handoffs found, redelivery scheduled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")
		return manager.Shutdown(context.Background())
	})

	return g.Wait()
}
