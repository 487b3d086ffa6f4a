package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"invite-service/internal/config"
	"invite-service/internal/reconcile"
	"invite-service/internal/tracing"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// writeTimeout outlasts a full grant retry run on POST /entitlements.
func writeTimeout(cfg config.Config) time.Duration {
	return max(60*time.Second, itemTimeout(cfg))
}

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the email-capture consumer and the sweep scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("Starting invite service...")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "invite-service", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}()

	if cfg.StoreDriver == "postgres" && !skipMigrations {
		if err := runMigrations(cfg); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.seedPricing(ctx); err != nil {
		return err
	}
	if err := a.startConsumer(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
	}
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Start(gctx) })
	}

	if cfg.Sweep.Enabled {
		scheduler := reconcile.NewScheduler(a.sweeper, map[reconcile.Pass]time.Duration{
			reconcile.PassExpire:  cfg.Sweep.ExpireInterval,
			reconcile.PassRemind:  cfg.Sweep.ReminderInterval,
			reconcile.PassRepair:  cfg.Sweep.RepairInterval,
			reconcile.PassCleanup: cfg.Sweep.CleanupInterval,
		})
		g.Go(func() error { return scheduler.Start(gctx) })
	} else {
		log.Info("Sweep scheduler disabled")
	}

	err = g.Wait()
	log.Info("Invite service stopped")
	return err
}
