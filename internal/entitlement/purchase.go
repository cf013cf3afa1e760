package entitlement

import (
	"context"
	"errors"
	"fmt"

	"budget/internal/log"
	"budget/internal/metrics"
)

var (
	// ErrAlreadyPremium rejects a purchase when premium is already owned.
	ErrAlreadyPremium = errors.New("premium already unlocked")
	// ErrStatusPending rejects a purchase while setup or a check is running.
	ErrStatusPending = errors.New("entitlement check in progress")
	// ErrProviderUnavailable rejects a purchase while the provider is in error.
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	ErrPurchaseCancelled = errors.New("purchase cancelled")
	ErrPurchaseFailed    = errors.New("purchase failed")
	ErrNothingPurchased  = errors.New("nothing purchased")
)

// OutcomeKind classifies how a purchase ended.
type OutcomeKind int

const (
	PurchaseSucceeded OutcomeKind = iota
	PurchaseCancelled
	PurchaseFailed
	NothingPurchased
)

func (k OutcomeKind) String() string {
	switch k {
	case PurchaseSucceeded:
		return "succeeded"
	case PurchaseCancelled:
		return "cancelled"
	case PurchaseFailed:
		return "failed"
	case NothingPurchased:
		return "nothing_purchased"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is delivered to the listener of the pending purchase.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Succeeded reports whether the purchase unlocked premium.
func (o Outcome) Succeeded() bool { return o.Kind == PurchaseSucceeded }

func outcomeFor(kind OutcomeKind, cause error) Outcome {
	var base error
	switch kind {
	case PurchaseSucceeded:
		return Outcome{Kind: kind}
	case PurchaseCancelled:
		base = ErrPurchaseCancelled
	case NothingPurchased:
		base = ErrNothingPurchased
	default:
		base = ErrPurchaseFailed
	}
	if cause != nil {
		return Outcome{Kind: kind, Err: fmt.Errorf("%w: %w", base, cause)}
	}
	return Outcome{Kind: kind, Err: base}
}

// purchaseRequest is the single in-flight purchase. ctx is the requester's
// liveness token.
type purchaseRequest struct {
	ctx      context.Context
	listener func(Outcome)
}

// InitiatePurchase starts buying the premium product. It fails immediately
// unless the status is NotPremium. Otherwise it replaces any pending
// request, whose listener is then never called, and runs the provider
// calls in the background. listener receives exactly one Outcome unless the
// request is replaced first or ctx is done by then.
func (m *Machine) InitiatePurchase(ctx context.Context, listener func(Outcome)) error {
	switch m.Status() {
	case NotPremium:
	case Premium:
		return ErrAlreadyPremium
	case Error:
		return ErrProviderUnavailable
	default:
		return ErrStatusPending
	}

	req := &purchaseRequest{ctx: ctx, listener: listener}
	m.pendingMu.Lock()
	m.pending = req
	m.pendingMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.purchase(req)
	}()
	return nil
}

func (m *Machine) purchase(req *purchaseRequest) {
	ctx := context.WithoutCancel(req.ctx)

	details, err := m.provider.QueryProductDetails(ctx, []string{m.productID})
	if err != nil {
		if CodeOf(err) == ItemAlreadyOwned {
			m.complete(ctx, req, outcomeFor(PurchaseSucceeded, nil))
			return
		}
		m.logger.WarnContext(ctx, "Product details query failed", log.FieldError, err, log.FieldProductID, m.productID)
		m.complete(ctx, req, outcomeFor(PurchaseFailed, err))
		return
	}
	if len(details) == 0 {
		m.complete(ctx, req, outcomeFor(PurchaseFailed, fmt.Errorf("no details for product %q", m.productID)))
		return
	}

	if !m.isPending(req) {
		return
	}
	if req.ctx.Err() != nil {
		m.logger.InfoContext(ctx, "Purchase requester gone, not launching purchase flow", log.FieldProductID, m.productID)
		return
	}
	if err := m.provider.LaunchPurchaseFlow(ctx, details[0]); err != nil {
		m.complete(ctx, req, m.outcomeOf(PurchaseResult{Code: CodeOf(err)}))
	}
}

// HandlePurchaseResult applies the asynchronous result of a launched
// purchase flow and reports it to the pending request, if any.
func (m *Machine) HandlePurchaseResult(ctx context.Context, res PurchaseResult) {
	out := m.outcomeOf(res)

	m.pendingMu.Lock()
	req := m.pending
	m.pending = nil
	m.pendingMu.Unlock()

	m.finish(ctx, req, out)
}

func (m *Machine) outcomeOf(res PurchaseResult) Outcome {
	switch {
	case res.Code == OK && res.Contains(m.productID), res.Code == ItemAlreadyOwned:
		return outcomeFor(PurchaseSucceeded, nil)
	case res.Code == OK:
		return outcomeFor(NothingPurchased, nil)
	case res.Code == UserCanceled:
		return outcomeFor(PurchaseCancelled, nil)
	default:
		return outcomeFor(PurchaseFailed, &ProviderError{Op: "purchase", Code: res.Code})
	}
}

func (m *Machine) isPending(req *purchaseRequest) bool {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.pending == req
}

// complete reports out to req only if req is still the pending request.
func (m *Machine) complete(ctx context.Context, req *purchaseRequest, out Outcome) {
	m.pendingMu.Lock()
	if m.pending == req {
		m.pending = nil
	} else {
		req = nil
	}
	m.pendingMu.Unlock()

	m.finish(ctx, req, out)
}

func (m *Machine) finish(ctx context.Context, req *purchaseRequest, out Outcome) {
	if out.Succeeded() {
		m.supersede(ctx, Premium)
	}
	metrics.IncPurchaseOutcome(out.Kind.String())
	m.logger.InfoContext(ctx, "Purchase finished", log.FieldOutcome, out.Kind.String(), log.FieldProductID, m.productID)

	if req == nil || req.listener == nil {
		return
	}
	if req.ctx.Err() != nil {
		return
	}
	req.listener(out)
}
