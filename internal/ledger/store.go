// Package ledger computes balances over concrete entries and lazily expanded
// recurring templates, and applies every ledger mutation.
package ledger

import (
	"context"
	"errors"

	"budget/internal/core"
	"budget/internal/id"
)

var (
	// ErrOverrideExists is returned by Store.RecordOverride when the month
	// already has an override.
	ErrOverrideExists = errors.New("override already exists for month")
	// ErrPremiumRequired is returned when a premium-only operation is
	// attempted without the entitlement.
	ErrPremiumRequired = errors.New("premium required")
)

// Store persists entries, templates and per-month template exceptions.
// Implementations must be safe for concurrent use.
type Store interface {
	// AddEntry stores e, assigning an ID when e.ID is Nil and a fresh Seq.
	AddEntry(ctx context.Context, e core.Entry) (id.ID, error)
	// DeleteEntry reports false when no entry has that id.
	DeleteEntry(ctx context.Context, entryID id.ID) (bool, error)
	// UpdateEntry replaces title, amount and date of an existing entry.
	UpdateEntry(ctx context.Context, e core.Entry) error
	GetEntry(ctx context.Context, entryID id.ID) (core.Entry, error)
	// EntriesInRange returns entries dated in [from, to], ordered by date
	// then insertion order.
	EntriesInRange(ctx context.Context, from, to core.Date) ([]core.Entry, error)
	// SumThrough returns the signed sum in cents of entries dated on or
	// before date.
	SumThrough(ctx context.Context, date core.Date) (int64, error)

	// ActiveTemplates returns active templates in creation order with Skip
	// populated.
	ActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error)
	GetTemplate(ctx context.Context, templateID id.ID) (core.RecurringTemplate, error)
	AddTemplate(ctx context.Context, t core.RecurringTemplate) (id.ID, error)
	DeactivateTemplate(ctx context.Context, templateID id.ID) error

	// RecordOverride stores e tagged with templateID and marks month as
	// overridden, in one step.
	RecordOverride(ctx context.Context, templateID id.ID, month core.Month, e core.Entry) (id.ID, error)
	OverrideFor(ctx context.Context, templateID id.ID, month core.Month) (core.Entry, bool, error)
	// RecordExclusion marks month as excluded, replacing an override mark.
	// It does not delete the override entry.
	RecordExclusion(ctx context.Context, templateID id.ID, month core.Month) error
}

// PremiumChecker reports whether premium-only operations are allowed.
type PremiumChecker interface {
	IsPremium() bool
}

// PremiumFunc adapts a plain function to PremiumChecker.
type PremiumFunc func() bool

func (f PremiumFunc) IsPremium() bool { return f() }

// ErrEntryExists is returned by Store.AddEntry when an entry with the given
// id is already stored.
var ErrEntryExists = errors.New("entry already exists")
