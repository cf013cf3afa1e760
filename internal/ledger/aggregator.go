package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"budget/internal/cache"
	"budget/internal/core"
	"budget/internal/id"
	"budget/internal/log"
	"budget/internal/metrics"
)

// AdjustmentTitle is the title of entries created by AdjustBalance.
const AdjustmentTitle = "Balance adjustment"

// DefaultLowMoneyWarning is the balance under which BalanceState reports Low.
var DefaultLowMoneyWarning = core.Money{Cents: 100_00}

// BalanceState is the balance through a day plus the warnings derived from it.
type BalanceState struct {
	Date     core.Date
	Balance  core.Money
	Negative bool // balance <= 0
	Low      bool // positive but under the low money warning
}

// Aggregator is the single entry point for balance reads and ledger
// mutations. Reads run concurrently; mutations are serialized and never
// observed half-applied.
type Aggregator struct {
	store   Store
	premium PremiumChecker
	logger  *log.Logger
	events  *log.StructuredLogger

	mu       sync.RWMutex
	gen      atomic.Uint64
	balances *cache.LRUCache[string, int64]
	flights  singleflight.Group

	lowMoney core.Money
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithBalanceCache replaces the default balance cache.
func WithBalanceCache(size int, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.balances = cache.NewLRUCache[string, int64](size, ttl)
	}
}

// WithLowMoneyWarning sets the threshold used by BalanceState.
func WithLowMoneyWarning(m core.Money) Option {
	return func(a *Aggregator) { a.lowMoney = m }
}

// NewAggregator builds an Aggregator over store. premium gates template
// creation; a nil checker denies it.
func NewAggregator(store Store, premium PremiumChecker, opts ...Option) *Aggregator {
	if premium == nil {
		premium = PremiumFunc(func() bool { return false })
	}
	a := &Aggregator{
		store:    store,
		premium:  premium,
		logger:   log.Nop(),
		balances: cache.NewLRUCache[string, int64](256, 10*time.Minute),
		lowMoney: DefaultLowMoneyWarning,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent(log.ComponentLedger)
	a.events = log.NewStructuredLogger(a.logger)
	return a
}

// BalanceCache exposes the balance cache so it can be registered with a
// cache.Manager.
func (a *Aggregator) BalanceCache() *cache.LRUCache[string, int64] {
	return a.balances
}

// BalanceThrough returns the account balance through date: the negated sum
// of every stored entry and every expanded occurrence dated on or before it.
// Income is positive, spend is negative.
func (a *Aggregator) BalanceThrough(ctx context.Context, date core.Date) (core.Money, error) {
	if err := date.Validate(); err != nil {
		return core.Money{}, err
	}
	key := strconv.FormatUint(a.gen.Load(), 10) + "/" + date.String()
	ch := a.flights.DoChan(key, func() (any, error) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.balanceLocked(context.WithoutCancel(ctx), date)
	})
	select {
	case <-ctx.Done():
		return core.Money{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return core.Money{}, res.Err
		}
		return core.Money{Cents: res.Val.(int64)}, nil
	}
}

// balanceLocked requires a.mu held in either mode.
func (a *Aggregator) balanceLocked(ctx context.Context, date core.Date) (int64, error) {
	key := date.String()
	if v, ok := a.balances.Get(key); ok {
		metrics.IncBalanceCache(true)
		return v, nil
	}
	metrics.IncBalanceCache(false)

	start := time.Now()
	sum, err := a.sumThrough(ctx, date)
	metrics.ObserveBalance(err, time.Since(start))
	if err != nil {
		return 0, err
	}
	balance, err := core.NegCents(sum)
	if err != nil {
		return 0, err
	}
	a.balances.Set(key, balance)
	return balance, nil
}

func (a *Aggregator) sumThrough(ctx context.Context, date core.Date) (int64, error) {
	sum, err := a.store.SumThrough(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	templates, err := a.store.ActiveTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	for _, t := range templates {
		total, err := core.MulCents(int64(CountThrough(t, date)), t.Amount.Cents)
		if err != nil {
			return 0, fmt.Errorf("template %s: %w", t.ID, err)
		}
		if sum, err = core.AddCents(sum, total); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

// BalanceState returns the balance through date with its warning flags.
func (a *Aggregator) BalanceState(ctx context.Context, date core.Date) (BalanceState, error) {
	bal, err := a.BalanceThrough(ctx, date)
	if err != nil {
		return BalanceState{}, err
	}
	st := BalanceState{Date: date, Balance: bal}
	st.Negative = bal.Cents <= 0
	st.Low = !st.Negative && bal.Cents < a.lowMoney.Cents
	return st, nil
}

// EntriesOn returns the stored entries dated on date in insertion order,
// followed by the virtual occurrences due that day in template order.
func (a *Aggregator) EntriesOn(ctx context.Context, date core.Date) ([]core.Entry, error) {
	if err := date.Validate(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	stored, err := a.store.EntriesInRange(ctx, date, date)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	templates, err := a.store.ActiveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]core.Entry, 0, len(stored)+len(templates))
	out = append(out, stored...)
	for _, t := range templates {
		if occ, ok := OccurrenceOn(t, date); ok {
			out = append(out, occ.Entry())
		}
	}
	return out, nil
}

// MonthOverview summarizes every stored and virtual movement of month m.
func (a *Aggregator) MonthOverview(ctx context.Context, m core.Month) (core.MonthOverview, error) {
	if m.Month < 1 || m.Month > 12 {
		return core.MonthOverview{}, core.ErrInvalidMonth
	}
	from, to := m.Day(1), m.Day(m.LastDay())

	a.mu.RLock()
	defer a.mu.RUnlock()

	stored, err := a.store.EntriesInRange(ctx, from, to)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list entries: %w", err)
	}
	templates, err := a.store.ActiveTemplates(ctx)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list templates: %w", err)
	}
	ov := core.MonthOverview{Month: m}
	for _, e := range stored {
		ov.AddEntry(e.Amount)
	}
	for _, t := range templates {
		for occ := range Expand(t, from, to) {
			ov.AddEntry(occ.Amount)
		}
	}
	return ov, nil
}

// lock takes the write side and returns the release func, which drops
// every cached balance before unlocking.
func (a *Aggregator) lock() func() {
	a.mu.Lock()
	return func() {
		a.balances.Purge()
		a.gen.Add(1)
		a.mu.Unlock()
	}
}

func (a *Aggregator) record(ctx context.Context, op string, fields log.LogFields, err error) {
	metrics.IncLedgerMutation(op, err)
	a.events.LogMutation(ctx, op, fields, err)
}

// AddEntry stores a one-off entry.
func (a *Aggregator) AddEntry(ctx context.Context, title string, amount core.Money, date core.Date) (e core.Entry, err error) {
	e = core.Entry{Title: title, Amount: amount, Date: date}
	if err := e.Validate(); err != nil {
		return core.Entry{}, err
	}
	defer a.lock()()
	defer func() {
		a.record(ctx, log.OpCreate, log.NewFields().WithEntry(e.ID.String(), date.String(), amount.Cents), err)
	}()
	return a.addLocked(ctx, e)
}

func (a *Aggregator) addLocked(ctx context.Context, e core.Entry) (core.Entry, error) {
	entryID, err := a.store.AddEntry(ctx, e)
	if err != nil {
		return core.Entry{}, fmt.Errorf("add entry: %w", err)
	}
	return a.store.GetEntry(ctx, entryID)
}

// UpdateEntry replaces title, amount and date of a stored entry. The id and
// the template link never change; a materialized occurrence must stay in
// its month.
func (a *Aggregator) UpdateEntry(ctx context.Context, entryID id.ID, title string, amount core.Money, date core.Date) (out core.Entry, err error) {
	defer a.lock()()
	defer func() {
		a.record(ctx, log.OpUpdate, log.NewFields().WithEntry(entryID.String(), date.String(), amount.Cents), err)
	}()

	cur, err := a.store.GetEntry(ctx, entryID)
	if err != nil {
		return core.Entry{}, err
	}
	if cur.IsOccurrence() && date.Month() != cur.Date.Month() {
		return core.Entry{}, fmt.Errorf("%w: occurrence must stay in %s", core.ErrInvalidDate, cur.Date.Month())
	}
	cur.Title, cur.Amount, cur.Date = title, amount, date
	if err := cur.Validate(); err != nil {
		return core.Entry{}, err
	}
	if err := a.store.UpdateEntry(ctx, cur); err != nil {
		return core.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	return cur, nil
}

// DeleteEntry removes a stored entry and returns it so the caller can offer
// an undo. Deleting a materialized occurrence also excludes its month, so
// the template does not produce it again.
func (a *Aggregator) DeleteEntry(ctx context.Context, entryID id.ID) (removed core.Entry, ok bool, err error) {
	defer a.lock()()
	defer func() {
		a.record(ctx, log.OpDelete, log.NewFields().WithEntry(entryID.String(), removed.Date.String(), removed.Amount.Cents), err)
	}()

	cur, err := a.store.GetEntry(ctx, entryID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, err
	}
	if cur.IsOccurrence() {
		if err := a.store.RecordExclusion(ctx, cur.TemplateID, cur.Date.Month()); err != nil {
			return core.Entry{}, false, fmt.Errorf("record exclusion: %w", err)
		}
	}
	deleted, err := a.store.DeleteEntry(ctx, entryID)
	if err != nil {
		return core.Entry{}, false, fmt.Errorf("delete entry: %w", err)
	}
	return cur, deleted, nil
}

// RestoreEntry re-adds an entry returned by DeleteEntry under its original
// id. A restored occurrence comes back as a one-off entry: its month stays
// excluded, so the balance is exactly what it was before the delete.
func (a *Aggregator) RestoreEntry(ctx context.Context, e core.Entry) (out core.Entry, err error) {
	e.Virtual = false
	e.TemplateID = id.Nil
	if e.ID.IsNil() {
		return core.Entry{}, fmt.Errorf("restore: %w", core.ErrNotFound)
	}
	if err := e.Validate(); err != nil {
		return core.Entry{}, err
	}
	defer a.lock()()
	defer func() {
		a.record(ctx, log.OpRestore, log.NewFields().WithEntry(e.ID.String(), e.Date.String(), e.Amount.Cents), err)
	}()
	return a.addLocked(ctx, e)
}

// AdjustBalance adds one entry dated date so that the balance through date
// becomes target. target is a signed decimal. When the balance already
// matches, nothing is created and the entry is nil.
func (a *Aggregator) AdjustBalance(ctx context.Context, date core.Date, target string) (out *core.Entry, err error) {
	cents, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if err := date.Validate(); err != nil {
		return nil, err
	}
	defer a.lock()()

	current, err := a.balanceLocked(ctx, date)
	if err != nil {
		return nil, err
	}
	diff, err := core.AddCents(cents, -current)
	if err != nil {
		return nil, err
	}
	if diff == 0 {
		return nil, nil
	}
	defer func() {
		a.record(ctx, log.OpAdjust, log.NewFields().WithEntry(entryIDOf(out), date.String(), -diff), err)
	}()
	adjustment := core.Entry{
		Title:  AdjustmentTitle,
		Amount: core.Money{Cents: -diff},
		Date:   date,
	}
	if err := adjustment.Amount.Validate(); err != nil {
		return nil, err
	}
	e, err := a.addLocked(ctx, adjustment)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ParseTarget parses a balance target: a finite signed decimal.
func ParseTarget(s string) (int64, error) {
	cents, err := core.ParseSignedDecimalToCents(s)
	if err != nil {
		return 0, fmt.Errorf("%w: balance target %q", core.ErrInvalidAmount, s)
	}
	return cents, nil
}

func entryIDOf(e *core.Entry) string {
	if e == nil {
		return ""
	}
	return e.ID.String()
}

// CreateTemplate adds a recurring template. Only premium users may do so.
func (a *Aggregator) CreateTemplate(ctx context.Context, title string, amount core.Money, start core.Date) (out core.RecurringTemplate, err error) {
	if !a.premium.IsPremium() {
		return core.RecurringTemplate{}, ErrPremiumRequired
	}
	t := core.RecurringTemplate{Title: title, Amount: amount, StartDate: start, Active: true}
	if err := t.Validate(); err != nil {
		return core.RecurringTemplate{}, err
	}
	defer a.lock()()
	defer func() {
		fields := log.NewFields().WithEntry("", start.String(), amount.Cents)
		fields[log.FieldTemplateID] = out.ID.String()
		a.record(ctx, log.OpCreate, fields, err)
	}()

	templateID, err := a.store.AddTemplate(ctx, t)
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("add template: %w", err)
	}
	return a.store.GetTemplate(ctx, templateID)
}

// DeactivateTemplate stops a template from producing occurrences.
// Materialized occurrences stay in the ledger.
func (a *Aggregator) DeactivateTemplate(ctx context.Context, templateID id.ID) (err error) {
	defer a.lock()()
	defer func() {
		fields := log.NewFields()
		fields[log.FieldTemplateID] = templateID.String()
		a.record(ctx, log.OpDeactivate, fields, err)
	}()
	return a.store.DeactivateTemplate(ctx, templateID)
}

// EditOccurrence changes the occurrence of a template in one month only,
// materializing it as an override entry the first time. date must fall in
// month.
func (a *Aggregator) EditOccurrence(ctx context.Context, templateID id.ID, month core.Month, title string, amount core.Money, date core.Date) (out core.Entry, err error) {
	if date.Month() != month {
		return core.Entry{}, fmt.Errorf("%w: %s is not in %s", core.ErrInvalidDate, date, month)
	}
	e := core.Entry{Title: title, Amount: amount, Date: date, TemplateID: templateID}
	if err := e.Validate(); err != nil {
		return core.Entry{}, err
	}
	defer a.lock()()
	defer func() {
		a.record(ctx, log.OpOverride, log.NewFields().
			WithOccurrence(templateID.String(), month.String()).
			WithEntry(out.ID.String(), date.String(), amount.Cents), err)
	}()

	t, err := a.store.GetTemplate(ctx, templateID)
	if err != nil {
		return core.Entry{}, err
	}
	existing, found, err := a.store.OverrideFor(ctx, templateID, month)
	if err != nil {
		return core.Entry{}, fmt.Errorf("find override: %w", err)
	}
	if found {
		existing.Title, existing.Amount, existing.Date = title, amount, date
		if err := a.store.UpdateEntry(ctx, existing); err != nil {
			return core.Entry{}, fmt.Errorf("update override: %w", err)
		}
		return existing, nil
	}
	if _, ok := OccurrenceIn(t, month, month.Day(month.LastDay())); !ok {
		return core.Entry{}, fmt.Errorf("occurrence %s of %s: %w", month, templateID, core.ErrNotFound)
	}
	entryID, err := a.store.RecordOverride(ctx, templateID, month, e)
	if err != nil {
		return core.Entry{}, fmt.Errorf("record override: %w", err)
	}
	return a.store.GetEntry(ctx, entryID)
}

// DeleteOccurrence removes the occurrence of a template in one month. An
// existing override entry is deleted; other months are untouched.
func (a *Aggregator) DeleteOccurrence(ctx context.Context, templateID id.ID, month core.Month) (err error) {
	defer a.lock()()
	defer func() {
		a.record(ctx, log.OpExclude, log.NewFields().WithOccurrence(templateID.String(), month.String()), err)
	}()

	t, err := a.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	existing, found, err := a.store.OverrideFor(ctx, templateID, month)
	if err != nil {
		return fmt.Errorf("find override: %w", err)
	}
	if !found {
		if month.Before(t.StartDate.Month()) {
			return fmt.Errorf("occurrence %s of %s: %w", month, templateID, core.ErrNotFound)
		}
		if t.Skip.Has(month) {
			return nil
		}
	}
	if err := a.store.RecordExclusion(ctx, templateID, month); err != nil {
		return fmt.Errorf("record exclusion: %w", err)
	}
	if found {
		if _, err := a.store.DeleteEntry(ctx, existing.ID); err != nil {
			return fmt.Errorf("delete override: %w", err)
		}
	}
	return nil
}
