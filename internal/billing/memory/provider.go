// Package memory is an in-process billing provider for local runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"budget/internal/entitlement"
)

// Op names a provider call, for error injection and gating.
type Op string

const (
	OpConnect Op = "connect"
	OpHistory Op = "history"
	OpDetails Op = "details"
	OpLaunch  Op = "launch"
)

// ResultSink receives purchase results; *entitlement.Machine is one.
type ResultSink interface {
	HandlePurchaseResult(ctx context.Context, res entitlement.PurchaseResult)
}

// Provider implements entitlement.Provider against in-memory state. It
// never produces purchase results on its own; see Complete.
type Provider struct {
	mu        sync.Mutex
	owned     []string
	catalogue map[string]entitlement.ProductDetails
	errs      map[Op]error
	gates     map[Op]<-chan struct{}
	launches  []entitlement.ProductDetails
	calls     map[Op]int
}

var _ entitlement.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithOwned marks products as already purchased.
func WithOwned(productIDs ...string) Option {
	return func(p *Provider) { p.owned = append(p.owned, productIDs...) }
}

// WithProduct adds a product to the catalogue.
func WithProduct(d entitlement.ProductDetails) Option {
	return func(p *Provider) { p.catalogue[d.ProductID] = d }
}

// New returns a provider whose catalogue holds the premium in-app product
// unless options say otherwise.
func New(opts ...Option) *Provider {
	p := &Provider{
		catalogue: make(map[string]entitlement.ProductDetails),
		errs:      make(map[Op]error),
		gates:     make(map[Op]<-chan struct{}),
		calls:     make(map[Op]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.catalogue) == 0 {
		p.catalogue[entitlement.DefaultProductID] = entitlement.ProductDetails{
			ProductID: entitlement.DefaultProductID,
			Type:      entitlement.ProductTypeInApp,
			Title:     "Premium",
		}
	}
	return p
}

// SetError makes every later call of op fail with err. A nil err clears it.
func (p *Provider) SetError(op Op, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// Gate makes calls of op block until gate is closed or their context ends.
// A nil gate removes it.
func (p *Provider) Gate(op Op, gate <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gate == nil {
		delete(p.gates, op)
		return
	}
	p.gates[op] = gate
}

// Grant marks productID as owned.
func (p *Provider) Grant(productID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.owned, productID) {
		p.owned = append(p.owned, productID)
	}
}

// Launches returns the products a purchase flow was launched for.
func (p *Provider) Launches() []entitlement.ProductDetails {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.launches)
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Complete finishes a launched purchase flow: an OK result grants the
// products, then res is forwarded to sink.
func (p *Provider) Complete(ctx context.Context, sink ResultSink, res entitlement.PurchaseResult) {
	if res.Code == entitlement.OK {
		for _, id := range res.ProductIDs {
			p.Grant(id)
		}
	}
	sink.HandlePurchaseResult(ctx, res)
}

// enter records the call, waits on its gate and returns the injected error.
func (p *Provider) enter(ctx context.Context, op Op) error {
	p.mu.Lock()
	p.calls[op]++
	gate := p.gates[op]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &entitlement.ProviderError{Op: string(op), Code: entitlement.ServiceUnavailable, Err: ctx.Err()}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[op]
}

func (p *Provider) Connect(ctx context.Context) error {
	return p.enter(ctx, OpConnect)
}

func (p *Provider) QueryPurchaseHistory(ctx context.Context, productType string) ([]string, error) {
	if err := p.enter(ctx, OpHistory); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, id := range p.owned {
		if d, ok := p.catalogue[id]; !ok || d.Type == "" || d.Type == productType {
			out = append(out, id)
		}
	}
	return out, nil
}

func (p *Provider) QueryProductDetails(ctx context.Context, productIDs []string) ([]entitlement.ProductDetails, error) {
	if err := p.enter(ctx, OpDetails); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []entitlement.ProductDetails
	for _, id := range productIDs {
		if d, ok := p.catalogue[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *Provider) LaunchPurchaseFlow(ctx context.Context, details entitlement.ProductDetails) error {
	if err := p.enter(ctx, OpLaunch); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.owned, details.ProductID) {
		return &entitlement.ProviderError{Op: string(OpLaunch), Code: entitlement.ItemAlreadyOwned}
	}
	p.launches = append(p.launches, details)
	return nil
}
