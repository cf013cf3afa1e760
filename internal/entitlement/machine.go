package entitlement

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"budget/internal/log"
	"budget/internal/metrics"
)

// DefaultProductID is the product that unlocks premium.
const DefaultProductID = "premium"

// Machine owns the entitlement status. Create one per process with New and
// share it by reference.
type Machine struct {
	provider    Provider
	store       StatusStore
	logger      *log.Logger
	productID   string
	productType string

	status    atomic.Int32
	persisted atomic.Bool

	// transition serializes status changes together with their persistence
	// and subscriber delivery. epoch counts the runs that superseded every
	// setup or check before them; both are guarded by transition.
	transition sync.Mutex
	epoch      uint64

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub int

	pendingMu sync.Mutex
	pending   *purchaseRequest

	startOnce sync.Once
	wg        sync.WaitGroup
}

type subscriber struct {
	id int
	fn func(Status)
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithProduct sets the premium product id and its type.
func WithProduct(productID, productType string) Option {
	return func(m *Machine) {
		if productID != "" {
			m.productID = productID
		}
		if productType != "" {
			m.productType = productType
		}
	}
}

// New returns a machine in Initializing. Nothing talks to the provider
// until Start.
func New(provider Provider, store StatusStore, opts ...Option) *Machine {
	m := &Machine{
		provider:    provider,
		store:       store,
		logger:      log.Nop(),
		productID:   DefaultProductID,
		productType: ProductTypeInApp,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent(log.ComponentEntitlement)
	m.status.Store(int32(Initializing))
	return m
}

// ProductID returns the premium product id.
func (m *Machine) ProductID() string { return m.productID }

// Status returns the current status.
func (m *Machine) Status() Status {
	return Status(m.status.Load())
}

// IsPremium reports whether premium features are unlocked. While the status
// is not definitive the last persisted value answers, so a check in flight
// never looks like a lost entitlement.
func (m *Machine) IsPremium() bool {
	switch m.Status() {
	case Premium:
		return true
	case NotPremium:
		return false
	default:
		return m.persisted.Load()
	}
}

// Subscribe registers fn for every later transition. fn runs on the
// goroutine that made the transition, in transition order, and must not
// start a transition itself. The returned func removes fn and may be called
// from inside fn.
func (m *Machine) Subscribe(fn func(Status)) (unsubscribe func()) {
	m.subsMu.Lock()
	m.nextSub++
	subID := m.nextSub
	m.subs = append(m.subs, subscriber{id: subID, fn: fn})
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			m.subs = slices.DeleteFunc(m.subs, func(s subscriber) bool { return s.id == subID })
		})
	}
}

// Start loads the persisted entitlement and begins provider setup in the
// background. Later calls do nothing.
func (m *Machine) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		premium, known, err := m.store.LoadPremium(ctx)
		switch {
		case err != nil:
			m.logger.WarnContext(ctx, "Failed to load persisted entitlement", log.FieldError, err)
		case known:
			m.persisted.Store(premium)
		}
		m.goSetup(ctx, m.supersede(ctx, Initializing))
	})
}

// Foreground re-verifies the entitlement: NotPremium starts a check, Error
// restarts setup. Premium is left alone and a setup or check in flight is
// not duplicated.
func (m *Machine) Foreground(ctx context.Context) {
	if epoch, ok := m.transitionIf(ctx, NotPremium, Checking); ok {
		m.goCheck(ctx, epoch)
		return
	}
	if epoch, ok := m.transitionIf(ctx, Error, Initializing); ok {
		m.goSetup(ctx, epoch)
	}
}

// Recheck is an explicit re-verification request; it behaves like
// Foreground.
func (m *Machine) Recheck(ctx context.Context) {
	m.Foreground(ctx)
}

// HandleDisconnected records that the provider connection was lost.
func (m *Machine) HandleDisconnected(ctx context.Context) {
	m.logger.WarnContext(ctx, "Billing provider disconnected")
	m.supersede(ctx, Error)
}

// Wait blocks until every background provider call has returned.
func (m *Machine) Wait() {
	m.wg.Wait()
}

func (m *Machine) goSetup(ctx context.Context, epoch uint64) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.setup(ctx, epoch)
	}()
}

func (m *Machine) goCheck(ctx context.Context, epoch uint64) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.check(ctx, epoch)
	}()
}

func (m *Machine) setup(ctx context.Context, epoch uint64) {
	if err := m.provider.Connect(ctx); err != nil {
		m.logger.WarnContext(ctx, "Billing setup failed", log.FieldError, err, log.FieldCode, CodeOf(err).String())
		m.applyIf(ctx, epoch, Error)
		return
	}
	if m.applyIf(ctx, epoch, Checking) {
		m.check(ctx, epoch)
	}
}

func (m *Machine) check(ctx context.Context, epoch uint64) {
	owned, err := m.provider.QueryPurchaseHistory(ctx, m.productType)
	switch {
	case err != nil:
		m.logger.WarnContext(ctx, "Purchase history query failed", log.FieldError, err, log.FieldCode, CodeOf(err).String())
		m.applyIf(ctx, epoch, Error)
	case slices.Contains(owned, m.productID):
		m.applyIf(ctx, epoch, Premium)
	default:
		m.applyIf(ctx, epoch, NotPremium)
	}
}

// transitionIf moves from `from` to `to` only if from is current, and
// returns the epoch of the run it starts.
func (m *Machine) transitionIf(ctx context.Context, from, to Status) (uint64, bool) {
	m.transition.Lock()
	defer m.transition.Unlock()
	if m.Status() != from {
		return 0, false
	}
	m.epoch++
	m.applyLocked(ctx, to)
	return m.epoch, true
}

// supersede applies s and invalidates every setup or check in flight.
func (m *Machine) supersede(ctx context.Context, s Status) uint64 {
	m.transition.Lock()
	defer m.transition.Unlock()
	m.epoch++
	m.applyLocked(ctx, s)
	return m.epoch
}

// applyIf applies the result of the run started at epoch unless a later
// transition superseded it.
func (m *Machine) applyIf(ctx context.Context, epoch uint64, s Status) bool {
	m.transition.Lock()
	defer m.transition.Unlock()
	if m.epoch != epoch {
		m.logger.InfoContext(ctx, "Dropped stale entitlement result", log.FieldStatus, s.String(), log.FieldPrevStatus, m.Status().String())
		return false
	}
	m.applyLocked(ctx, s)
	return true
}

// applyLocked requires m.transition held. Re-applying the current status
// does nothing.
func (m *Machine) applyLocked(ctx context.Context, s Status) {
	prev := Status(m.status.Swap(int32(s)))
	if prev == s {
		return
	}

	if s.Persistent() {
		premium := s == Premium
		m.persisted.Store(premium)
		if err := m.store.SavePremium(context.WithoutCancel(ctx), premium); err != nil {
			m.logger.WarnContext(ctx, "Failed to persist entitlement", log.FieldError, err, log.FieldStatus, s.String())
		}
	}

	metrics.IncEntitlementTransition(s.String())
	m.logger.InfoContext(ctx, "Entitlement status changed", log.FieldPrevStatus, prev.String(), log.FieldStatus, s.String())

	m.subsMu.Lock()
	subs := slices.Clone(m.subs)
	m.subsMu.Unlock()
	for _, sub := range subs {
		sub.fn(s)
	}
}
