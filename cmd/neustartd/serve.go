package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/metrics"
	"github.com/kylerisse/neustart/pkg/monitor"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/kylerisse/neustart/pkg/scheduler"
	"github.com/kylerisse/neustart/pkg/server"
	"github.com/kylerisse/neustart/pkg/storage"
	"github.com/spf13/cobra"
)

// recentEvents is how many events GET /api/events keeps.
const recentEvents = 500

func newServeCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor, the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload configuration when the file changes")
	return cmd
}

func (a *app) serve(ctx context.Context, watch bool) error {
	cfg := a.store.Load()
	logger := a.logger

	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	audit, err := event.NewAuditSink(ctx, db)
	if err != nil {
		return err
	}
	pending, err := scheduler.NewSQLiteStore(ctx, db)
	if err != nil {
		return err
	}

	inv := inventory.NewFile(cfg.Inventory.File)
	prober, err := newProber(cfg, logger)
	if err != nil {
		return err
	}
	dispatcher, err := restart.NewSSHDispatcher(sshConfig(cfg.SSH), logger)
	if err != nil {
		return err
	}

	recorder := event.NewRecorder(recentEvents)
	collector := metrics.New()
	hub := server.NewHub(logger, cfg.Server.AllowedOrigins)
	mail := event.NewMailSink(func() event.MailSettings {
		return mailSettings(a.store.Load().Mail)
	})
	sink := event.Multi{event.NewLogSink(logger), audit, recorder, collector, hub, mail}

	orch := restart.New(inv, prober, dispatcher, sink, logger,
		restart.WithSettings(func() restart.Settings {
			return restartSettings(a.store.Load().Restart)
		}))
	defer orch.Close()

	sched := scheduler.New(orch, pending, sink, logger, scheduler.WithInventory(inv))
	defer sched.Stop()
	restored, err := sched.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring scheduled restarts: %w", err)
	}
	if restored > 0 {
		logger.WithField("count", restored).Info("Restored scheduled restarts")
	}

	loop := monitor.New(inv, prober, logger,
		monitor.WithSettings(func() monitor.Settings {
			return monitorSettings(a.store.Load().Monitor)
		}),
		monitor.WithDownHandler(monitor.AlertHandler(sink, func() bool {
			return a.store.Load().Mail.Enabled
		}, logger)),
	)
	loop.Subscribe(hub.PublishStatuses)
	loop.Subscribe(collector.Observe)

	srv := server.New(serverOptions(cfg.Server), server.Deps{
		Monitor:   loop,
		Restarts:  orch,
		Schedules: sched,
		Hub:       hub,
		Metrics:   collector.Handler(),
		Events:    recorder,
		History:   audit,
	}, logger)

	a.followLogging()
	if watch {
		a.store.Watch()
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	loop.Start()
	logger.WithField("inventory", inv.Path()).Info("neustartd running")

	<-ctx.Done()
	logger.Info("Shutting down")

	loop.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.store.Load().Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server did not shut down cleanly")
	}
	// deferred: scheduler stop, then orchestrator close, then database close
	return nil
}
