package cli

import (
	"context"
	"os/signal"
	"syscall"

	"invite-service/internal/reconcile"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var sweepPass string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run reconciliation passes once and exit",
	Example: `  invite-service sweep --pass expire
  invite-service sweep --pass all`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepPass, "pass", "all", "expire|remind|repair|cleanup|all")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var passes []reconcile.Pass
	if sweepPass == "all" {
		passes = reconcile.Passes
	} else {
		p, err := reconcile.ParsePass(sweepPass)
		if err != nil {
			return err
		}
		passes = []reconcile.Pass{p}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return sweepOnce(ctx, a.sweeper, passes)
}

func sweepOnce(ctx context.Context, runner reconcile.Runner, passes []reconcile.Pass) error {
	var firstErr error
	for _, p := range passes {
		r, err := runner.Run(ctx, p)
		if err != nil {
			log.WithError(err).WithField("pass", p).Error("Sweep pass failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.WithFields(log.Fields{
			"pass":    r.Pass,
			"scanned": r.Scanned,
			"changed": r.Changed,
			"failed":  r.Failed,
		}).Info("Sweep pass done")
	}
	return firstErr
}
