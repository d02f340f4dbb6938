package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentflow/internal/auth"
	"rentflow/internal/config"
	"rentflow/internal/db"
	httpx "rentflow/internal/http"
	"rentflow/internal/logging"
	"rentflow/internal/maintenance"
	"rentflow/internal/metrics"
	"rentflow/internal/notify"
	"rentflow/internal/payment"
	"rentflow/internal/reconcile"
	"rentflow/internal/tasks"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the task worker and the capture reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the tables owned by this service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.DatabaseURL, false)
			if err != nil {
				return err
			}
			return db.AutoMigrateAndIndexes(gdb)
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	pol := cfg.Policy

	gdb, err := db.Connect(cfg.DatabaseURL, log.IsLevelEnabled(logrus.DebugLevel))
	if err != nil {
		return err
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.NewCollector(reg)

	store := &maintenance.GormStore{DB: gdb}
	engine := maintenance.NewEngine(store, &maintenance.GormDirectory{DB: gdb}, maintenance.Config{
		Quoting: maintenance.QuotePolicy{
			RequiredByDefault:  pol.Quoting.RequiredByDefault,
			RequiredCategories: pol.Quoting.RequiredCategories,
			ExemptCategories:   pol.Quoting.ExemptCategories,
		},
		NotifyMaxAttempts: pol.Notifications.MaxAttempts,
	}, log).WithMetrics(col)

	paySvc := &payment.Service{
		DB:                 gdb,
		Processor:          newProcessor(pol.Payments),
		CommissionPercent:  pol.Payments.CommissionPercent,
		MaxCaptureAttempts: pol.Payments.MaxCaptureAttempts,
		Currency:           pol.Payments.Currency,
		Log:                log.WithField("component", "payment"),
	}

	// worker
	queue := &tasks.Repo{DB: gdb, StuckAfter: pol.Worker.StuckAfter}
	worker := &tasks.Worker{
		ID:      pol.Worker.ID,
		Queue:   queue,
		Poll:    pol.Worker.PollInterval,
		Log:     log.WithField("component", "worker"),
		Metrics: col,
	}
	effects := &maintenance.Effects{
		Store:    store,
		Notifier: &notify.Store{DB: gdb, Log: log.WithField("component", "notify")},
		Payments: paySvc,
		Log:      log.WithField("component", "effects"),
		Metrics:  col,
	}
	effects.Register(worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	if pol.Reconcile.Enabled {
		rec := &reconcile.Reconciler{
			Finder:      &reconcile.GormFinder{DB: gdb},
			Queue:       queue,
			Log:         log.WithField("component", "reconcile"),
			Metrics:     col,
			MaxAttempts: pol.Payments.MaxCaptureAttempts,
			BatchSize:   pol.Reconcile.BatchSize,
			Stale:       paySvc,
			StaleAfter:  pol.Reconcile.StaleCaptureAfter,
		}
		if err := rec.Start(pol.Reconcile.Schedule); err != nil {
			return err
		}
		defer rec.Stop()
	}

	r := httpx.NewRouter(cfg, httpx.Deps{
		Lifecycle: engine,
		Payments:  paySvc,
		JWT:       auth.NewJWT(cfg.JWTSecret),
		Metrics:   metrics.Handler(reg),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-ch:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		return err
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func newProcessor(p config.PaymentPolicy) payment.Processor {
	if p.Processor == "http" {
		return payment.NewHTTPProcessor(p.ProcessorURL, p.ProcessorAPIKey, p.ProcessorTimeout)
	}
	return payment.SandboxProcessor{PayURL: p.SandboxPayURL}
}
