package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"invite-service/internal/domain"
)

// The memory repositories back STORE_DRIVER=memory and the tests. They hand
// out copies so callers never share state with the store.

type MemoryTransactionRepository struct {
	mu   sync.RWMutex
	byID map[string]domain.Transaction
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{byID: make(map[string]domain.Transaction)}
}

func (r *MemoryTransactionRepository) Create(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[tx.Reference]; ok {
		return fmt.Errorf("transaction %s already exists", tx.Reference)
	}
	r.byID[tx.Reference] = copyTransaction(*tx)
	return nil
}

func (r *MemoryTransactionRepository) Get(_ context.Context, reference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.byID[reference]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyTransaction(tx)
	return &out, nil
}

func (r *MemoryTransactionRepository) Update(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[tx.Reference]
	if !ok {
		return ErrNotFound
	}
	cur.Status = tx.Status
	cur.PaidAt = tx.PaidAt
	cur.AccessEmail = tx.AccessEmail
	cur.Presentation = tx.Presentation
	r.byID[tx.Reference] = copyTransaction(cur)
	return nil
}

func (r *MemoryTransactionRepository) LatestPaidWithoutEmail(_ context.Context, buyerID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *domain.Transaction
	for _, tx := range r.byID {
		if tx.BuyerID != buyerID || tx.Status != domain.TxPaid || tx.AccessEmail != "" {
			continue
		}
		if best == nil || tx.CreatedAt.After(best.CreatedAt) {
			c := copyTransaction(tx)
			best = &c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func copyTransaction(tx domain.Transaction) domain.Transaction {
	if tx.Presentation != nil {
		p := *tx.Presentation
		tx.Presentation = &p
	}
	if tx.PaidAt != nil {
		t := *tx.PaidAt
		tx.PaidAt = &t
	}
	return tx
}

type MemoryEntitlementRepository struct {
	mu   sync.RWMutex
	byID map[string]domain.Entitlement
}

func NewMemoryEntitlementRepository() *MemoryEntitlementRepository {
	return &MemoryEntitlementRepository{byID: make(map[string]domain.Entitlement)}
}

func (r *MemoryEntitlementRepository) Save(_ context.Context, e *domain.Entitlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.SourceReference != "" {
		for id, other := range r.byID {
			if id != e.ID && other.SourceReference == e.SourceReference {
				return fmt.Errorf("%w: entitlement for purchase %s", ErrDuplicate, e.SourceReference)
			}
		}
	}
	next := copyEntitlement(*e)
	if cur, ok := r.byID[e.ID]; ok {
		next.CreatedAt = cur.CreatedAt
		next.ExpiredAt = cur.ExpiredAt
	}
	r.byID[e.ID] = next
	return nil
}

func (r *MemoryEntitlementRepository) Get(_ context.Context, id string) (*domain.Entitlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyEntitlement(e)
	return &out, nil
}

func (r *MemoryEntitlementRepository) FindBySource(_ context.Context, reference string) (*domain.Entitlement, error) {
	list := r.filter(func(e domain.Entitlement) bool { return e.SourceReference == reference }, nil)
	if reference == "" || len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

func (r *MemoryEntitlementRepository) ListByBuyer(_ context.Context, buyerID string) ([]domain.Entitlement, error) {
	return r.filter(func(e domain.Entitlement) bool { return e.BuyerID == buyerID }, newestFirst), nil
}

func (r *MemoryEntitlementRepository) ListByStatus(_ context.Context, status domain.EntitlementStatus) ([]domain.Entitlement, error) {
	return r.filter(func(e domain.Entitlement) bool { return e.Status == status }, soonestExpiry), nil
}

func (r *MemoryEntitlementRepository) ListRetiredBefore(_ context.Context, cutoff time.Time) ([]domain.Entitlement, error) {
	return r.filter(func(e domain.Entitlement) bool {
		return e.Status.Retired() && e.ExpiredAt.Before(cutoff)
	}, soonestExpiry), nil
}

func (r *MemoryEntitlementRepository) CoveredBeyond(_ context.Context, email, excludeID string, until time.Time) (bool, error) {
	list := r.filter(func(e domain.Entitlement) bool {
		return e.AccessEmail == email && e.ID != excludeID && e.Status == domain.EntitlementActive && e.ExpiredAt.After(until)
	}, nil)
	return len(list) > 0, nil
}

func (r *MemoryEntitlementRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryEntitlementRepository) filter(keep func(domain.Entitlement) bool, less func(a, b domain.Entitlement) bool) []domain.Entitlement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Entitlement
	for _, e := range r.byID {
		if keep(e) {
			out = append(out, copyEntitlement(e))
		}
	}
	if less != nil {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}
	return out
}

func newestFirst(a, b domain.Entitlement) bool { return a.CreatedAt.After(b.CreatedAt) }

func soonestExpiry(a, b domain.Entitlement) bool { return a.ExpiredAt.Before(b.ExpiredAt) }

func copyEntitlement(e domain.Entitlement) domain.Entitlement {
	e.ResendLog = append([]domain.ResendEntry(nil), e.ResendLog...)
	for _, p := range []**time.Time{&e.RemovedAt, &e.ReminderSentAt, &e.LastResendAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return e
}

type MemoryPricingRepository struct {
	mu    sync.RWMutex
	tiers map[int]domain.PricingTier
}

func NewMemoryPricingRepository() *MemoryPricingRepository {
	return &MemoryPricingRepository{tiers: make(map[int]domain.PricingTier)}
}

func (r *MemoryPricingRepository) List(_ context.Context) ([]domain.PricingTier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PricingTier, 0, len(r.tiers))
	for _, t := range r.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DurationDays < out[j].DurationDays })
	return out, nil
}

func (r *MemoryPricingRepository) Get(_ context.Context, days int) (*domain.PricingTier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tiers[days]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *MemoryPricingRepository) Seed(_ context.Context, tiers []domain.PricingTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tiers {
		if _, ok := r.tiers[t.DurationDays]; !ok {
			r.tiers[t.DurationDays] = t
		}
	}
	return nil
}

type MemoryNotificationLogRepository struct {
	mu   sync.Mutex
	logs []domain.NotificationLog
}

func NewMemoryNotificationLogRepository() *MemoryNotificationLogRepository {
	return &MemoryNotificationLogRepository{}
}

func (r *MemoryNotificationLogRepository) SaveLog(_ context.Context, l domain.NotificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
	return nil
}

func (r *MemoryNotificationLogRepository) Logs() []domain.NotificationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationLog(nil), r.logs...)
}
