package reconcile

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Runner runs a single pass.
type Runner interface {
	Run(ctx context.Context, pass Pass) (Report, error)
}

// Scheduler runs every pass on its own ticker until ctx is done. Passes of
// the same kind never overlap; different passes may.
type Scheduler struct {
	runner    Runner
	intervals map[Pass]time.Duration
}

func NewScheduler(runner Runner, intervals map[Pass]time.Duration) *Scheduler {
	return &Scheduler{runner: runner, intervals: intervals}
}

// Start blocks until ctx is done and every in-flight pass has returned.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, pass := range Passes {
		interval := s.intervals[pass]
		if interval <= 0 {
			log.WithField("pass", pass).Info("Sweep pass disabled")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.poll(ctx, pass, interval)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) poll(ctx context.Context, pass Pass, interval time.Duration) {
	log.WithFields(log.Fields{"pass": pass, "interval": interval.String()}).Info("Sweep pass scheduled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runOnce(ctx, pass)
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, pass)
		case <-ctx.Done():
			log.WithField("pass", pass).Info("Stopping sweep pass")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, pass Pass) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.Run(ctx, pass); err != nil {
		log.WithError(err).WithField("pass", pass).Error("Sweep pass failed")
	}
}
