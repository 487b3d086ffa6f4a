// Package reconcile runs the periodic passes that keep entitlements honest:
// expiry with revoke, one-shot reminders, repair of missing access and
// retention cleanup.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/lock"
	"invite-service/internal/metrics"
	"invite-service/internal/repository"
	"invite-service/internal/retry"
	"invite-service/internal/validator"

	log "github.com/sirupsen/logrus"
)

type Pass string

const (
	PassExpire  Pass = "expire"
	PassRemind  Pass = "remind"
	PassRepair  Pass = "repair"
	PassCleanup Pass = "cleanup"
)

// Passes lists every pass in the order RunAll runs them.
var Passes = []Pass{PassExpire, PassRemind, PassRepair, PassCleanup}

func ParsePass(s string) (Pass, error) {
	for _, p := range Passes {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown sweep pass %q", s)
}

type EntitlementRepository interface {
	Get(ctx context.Context, id string) (*domain.Entitlement, error)
	Save(ctx context.Context, e *domain.Entitlement) error
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status domain.EntitlementStatus) ([]domain.Entitlement, error)
	ListRetiredBefore(ctx context.Context, cutoff time.Time) ([]domain.Entitlement, error)
	CoveredBeyond(ctx context.Context, email, excludeID string, until time.Time) (bool, error)
}

type Provisioner interface {
	Grant(ctx context.Context, email string) error
	Revoke(ctx context.Context, email string) error
	Probe(ctx context.Context, email string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
	Alert(ctx context.Context, text string, fields map[string]any)
}

type Options struct {
	ReminderLead time.Duration
	Retention    time.Duration
	// ItemTimeout bounds the work on one entitlement, retries included.
	ItemTimeout time.Duration
}

// Report counts what one pass did.
type Report struct {
	Pass    Pass
	Scanned int
	Changed int
	Failed  int
}

type Sweeper struct {
	repo        EntitlementRepository
	provisioner Provisioner
	notifier    Notifier
	locker      lock.Locker
	policy      retry.Policy
	opts        Options
	now         func() time.Time
}

func NewSweeper(repo EntitlementRepository, provisioner Provisioner, notifier Notifier, locker lock.Locker, policy retry.Policy, opts Options) *Sweeper {
	return &Sweeper{
		repo:        repo,
		provisioner: provisioner,
		notifier:    notifier,
		locker:      locker,
		policy:      policy,
		opts:        opts,
		now:         time.Now,
	}
}

// Run executes one pass.
func (s *Sweeper) Run(ctx context.Context, pass Pass) (Report, error) {
	switch pass {
	case PassExpire:
		return s.Expire(ctx)
	case PassRemind:
		return s.Remind(ctx)
	case PassRepair:
		return s.Repair(ctx)
	case PassCleanup:
		return s.Cleanup(ctx)
	}
	return Report{}, fmt.Errorf("unknown sweep pass %q", pass)
}

// RunAll runs every pass once. A pass that cannot list its snapshot does not
// stop the others.
func (s *Sweeper) RunAll(ctx context.Context) ([]Report, error) {
	var reports []Report
	var errs []error
	for _, p := range Passes {
		r, err := s.Run(ctx, p)
		reports = append(reports, r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// Expire revokes access for active entitlements past their expiry and retires
// them. A failed revoke retires the entitlement as expired_error.
func (s *Sweeper) Expire(ctx context.Context) (Report, error) {
	return s.sweep(ctx, PassExpire, func(ctx context.Context) ([]domain.Entitlement, error) {
		return s.repo.ListByStatus(ctx, domain.EntitlementActive)
	}, s.expireOne)
}

func (s *Sweeper) expireOne(ctx context.Context, e *domain.Entitlement) (bool, error) {
	now := s.now()
	if !e.PastExpiry(now) {
		return false, nil
	}
	logCtx := itemLog(PassExpire, e)

	// A renewal with the same email keeps the access alive.
	covered, err := s.repo.CoveredBeyond(ctx, e.AccessEmail, e.ID, e.ExpiredAt)
	if err != nil {
		return false, err
	}
	var revokeErr error
	if covered {
		logCtx.Info("Access continues under a newer entitlement, skipping revoke")
	} else {
		revokeErr = retry.Do(ctx, s.policy, log.Fields{"email": validator.MaskEmail(e.AccessEmail), "call": "revoke"},
			func(ctx context.Context) error { return s.provisioner.Revoke(ctx, e.AccessEmail) })
		metrics.ProvisioningTotal.WithLabelValues("revoke", metrics.Result(revokeErr)).Inc()
	}

	if !e.Expire(now, revokeErr) {
		return false, nil
	}
	if err := s.repo.Save(ctx, e); err != nil {
		return false, err
	}

	if revokeErr != nil {
		logCtx.WithError(revokeErr).Error("Revoke failed, entitlement retired as expired_error")
		s.notifier.Alert(ctx, "Revoke failed for expired entitlement", map[string]any{
			"entitlement_id": e.ID,
			"buyer_id":       e.BuyerID,
			"email":          e.AccessEmail,
			"error":          revokeErr.Error(),
		})
	} else {
		logCtx.Info("Entitlement expired")
	}
	s.notifier.Notify(ctx, domain.Notification{
		BuyerID: e.BuyerID,
		Kind:    domain.NotifyAccessExpired,
		Payload: map[string]any{"email": e.AccessEmail, "package": e.PackageLabel, "expired_at": e.ExpiredAt},
		Email:   e.AccessEmail,
	})
	return true, nil
}

// Remind sends the one-shot reminder to entitlements expiring inside the lead
// window. The flag is saved after sending, so a crash in between resends.
func (s *Sweeper) Remind(ctx context.Context) (Report, error) {
	return s.sweep(ctx, PassRemind, func(ctx context.Context) ([]domain.Entitlement, error) {
		return s.repo.ListByStatus(ctx, domain.EntitlementActive)
	}, s.remindOne)
}

func (s *Sweeper) remindOne(ctx context.Context, e *domain.Entitlement) (bool, error) {
	now := s.now()
	if !e.DueForReminder(now, s.opts.ReminderLead) {
		return false, nil
	}
	s.notifier.Notify(ctx, domain.Notification{
		BuyerID: e.BuyerID,
		Kind:    domain.NotifyReminder,
		Payload: map[string]any{"email": e.AccessEmail, "package": e.PackageLabel, "expired_at": e.ExpiredAt},
		Email:   e.AccessEmail,
	})
	e.MarkReminded(now)
	if err := s.repo.Save(ctx, e); err != nil {
		return false, err
	}
	itemLog(PassRemind, e).Info("Expiry reminder sent")
	return true, nil
}

// Repair probes active entitlements and re-grants access that disappeared.
// The entitlement stays active; each re-grant is appended to its resend log.
func (s *Sweeper) Repair(ctx context.Context) (Report, error) {
	return s.sweep(ctx, PassRepair, func(ctx context.Context) ([]domain.Entitlement, error) {
		return s.repo.ListByStatus(ctx, domain.EntitlementActive)
	}, s.repairOne)
}

func (s *Sweeper) repairOne(ctx context.Context, e *domain.Entitlement) (bool, error) {
	now := s.now()
	// Left for the expire pass.
	if e.PastExpiry(now) {
		return false, nil
	}
	fields := log.Fields{"email": validator.MaskEmail(e.AccessEmail)}

	exists, err := retry.DoValue(ctx, s.policy, fields, func(ctx context.Context) (bool, error) {
		return s.provisioner.Probe(ctx, e.AccessEmail)
	})
	metrics.ProvisioningTotal.WithLabelValues("probe", metrics.Result(err)).Inc()
	if err != nil {
		return false, fmt.Errorf("%w: probe: %w", domain.ErrProvisioning, err)
	}
	if exists {
		return false, nil
	}

	err = retry.Do(ctx, s.policy, fields, func(ctx context.Context) error {
		return s.provisioner.Grant(ctx, e.AccessEmail)
	})
	metrics.ProvisioningTotal.WithLabelValues("grant", metrics.Result(err)).Inc()
	if err != nil {
		return false, fmt.Errorf("%w: re-grant: %w", domain.ErrProvisioning, err)
	}

	e.RecordResend(now, domain.ResendReasonInviteMissing)
	if err := s.repo.Save(ctx, e); err != nil {
		return false, err
	}
	itemLog(PassRepair, e).WithField("resends", len(e.ResendLog)).Warn("Access was missing, invite re-sent")
	s.notifier.Notify(ctx, domain.Notification{
		BuyerID: e.BuyerID,
		Kind:    domain.NotifyInviteResent,
		Payload: map[string]any{"email": e.AccessEmail, "package": e.PackageLabel, "expired_at": e.ExpiredAt},
		Email:   e.AccessEmail,
	})
	return true, nil
}

// Cleanup deletes retired entitlements whose expiry is older than the
// retention horizon.
func (s *Sweeper) Cleanup(ctx context.Context) (Report, error) {
	return s.sweep(ctx, PassCleanup, func(ctx context.Context) ([]domain.Entitlement, error) {
		return s.repo.ListRetiredBefore(ctx, s.now().Add(-s.opts.Retention))
	}, s.cleanupOne)
}

func (s *Sweeper) cleanupOne(ctx context.Context, e *domain.Entitlement) (bool, error) {
	if !e.Status.Retired() || !e.ExpiredAt.Before(s.now().Add(-s.opts.Retention)) {
		return false, nil
	}
	if err := s.repo.Delete(ctx, e.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	itemLog(PassCleanup, e).Info("Retired entitlement removed")
	return true, nil
}

type itemFunc func(ctx context.Context, e *domain.Entitlement) (bool, error)

// sweep lists a snapshot, then handles each item under its key lock against
// the freshly read record. Item failures are logged and counted, never
// returned. Once ctx is done no new item starts; the one in flight finishes.
func (s *Sweeper) sweep(ctx context.Context, pass Pass, list func(ctx context.Context) ([]domain.Entitlement, error), fn itemFunc) (Report, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.WithLabelValues(string(pass)).Observe(time.Since(start).Seconds()) }()

	report := Report{Pass: pass}
	items, err := list(ctx)
	if err != nil {
		log.WithError(err).WithField("pass", pass).Error("Failed to list entitlements for sweep")
		return report, fmt.Errorf("%s pass: %w", pass, err)
	}
	report.Scanned = len(items)

	for i := range items {
		if ctx.Err() != nil {
			log.WithField("pass", pass).Info("Sweep interrupted by shutdown")
			break
		}
		changed, err := s.item(ctx, &items[i], fn)
		switch {
		case err != nil:
			report.Failed++
			metrics.SweepItemsTotal.WithLabelValues(string(pass), "error").Inc()
			itemLog(pass, &items[i]).WithError(err).Error("Sweep item failed")
		case changed:
			report.Changed++
			metrics.SweepItemsTotal.WithLabelValues(string(pass), "changed").Inc()
		default:
			metrics.SweepItemsTotal.WithLabelValues(string(pass), "unchanged").Inc()
		}
	}

	log.WithFields(log.Fields{
		"pass":     pass,
		"scanned":  report.Scanned,
		"changed":  report.Changed,
		"failed":   report.Failed,
		"duration": time.Since(start).String(),
	}).Info("Sweep pass finished")
	return report, nil
}

func (s *Sweeper) item(parent context.Context, snap *domain.Entitlement, fn itemFunc) (bool, error) {
	ctx := context.WithoutCancel(parent)
	if s.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ItemTimeout)
		defer cancel()
	}

	held, unlock, err := s.locker.Lock(ctx, lock.EntitlementKey(snap.BuyerID, snap.AccessEmail))
	if err != nil {
		return false, err
	}
	defer unlock()

	cur, err := s.repo.Get(held, snap.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.Status != snap.Status {
		return false, nil
	}
	return fn(held, cur)
}

func itemLog(pass Pass, e *domain.Entitlement) *log.Entry {
	return log.WithFields(log.Fields{
		"pass":           pass,
		"entitlement_id": e.ID,
		"buyer_id":       e.BuyerID,
		"email":          validator.MaskEmail(e.AccessEmail),
		"reference":      e.SourceReference,
	})
}
