// Package memory is an in-process ledger.Store and entitlement status store.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"budget/internal/core"
	"budget/internal/id"
	"budget/internal/ledger"
)

type exceptionKind int

const (
	kindOverride exceptionKind = iota + 1
	kindExclusion
)

type exception struct {
	kind    exceptionKind
	entryID string
}

type exceptionKey struct {
	templateID string
	month      core.Month
}

// Store keeps everything in maps guarded by a single mutex.
type Store struct {
	mu sync.RWMutex

	seq        int64
	entries    map[string]core.Entry
	templates  map[string]core.RecurringTemplate
	exceptions map[exceptionKey]exception

	premium      bool
	premiumKnown bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entries:    make(map[string]core.Entry),
		templates:  make(map[string]core.RecurringTemplate),
		exceptions: make(map[exceptionKey]exception),
	}
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Store) AddEntry(ctx context.Context, e core.Entry) (id.ID, error) {
	if err := ctx.Err(); err != nil {
		return id.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEntryLocked(e)
}

func (s *Store) addEntryLocked(e core.Entry) (id.ID, error) {
	if e.ID.IsNil() {
		e.ID = id.NewEntryID()
	} else if _, exists := s.entries[e.ID.String()]; exists {
		return id.Nil, ledger.ErrEntryExists
	}
	e.Virtual = false
	e.Seq = s.nextSeq()
	s.entries[e.ID.String()] = e
	return e.ID, nil
}

func (s *Store) DeleteEntry(ctx context.Context, entryID id.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryID.String()
	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	if e.IsOccurrence() {
		k := exceptionKey{e.TemplateID.String(), e.Date.Month()}
		if ex, ok := s.exceptions[k]; ok && ex.kind == kindOverride && ex.entryID == key {
			delete(s.exceptions, k)
		}
	}
	return true, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e core.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[e.ID.String()]
	if !ok {
		return core.ErrNotFound
	}
	cur.Title, cur.Amount, cur.Date = e.Title, e.Amount, e.Date
	s.entries[e.ID.String()] = cur
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return core.Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID.String()]
	if !ok {
		return core.Entry{}, core.ErrNotFound
	}
	return e, nil
}

func (s *Store) EntriesInRange(ctx context.Context, from, to core.Date) ([]core.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Entry
	for _, e := range s.entries {
		if !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b core.Entry) int {
		if c := a.Date.Compare(b.Date.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out, nil
}

func (s *Store) SumThrough(ctx context.Context, date core.Date) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sum int64
		err error
	)
	for _, e := range s.entries {
		if e.Date.After(date) {
			continue
		}
		if sum, err = core.AddCents(sum, e.Amount.Cents); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

func (s *Store) ActiveTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.RecurringTemplate
	for _, t := range s.templates {
		if t.Active {
			out = append(out, s.withSkipLocked(t))
		}
	}
	slices.SortFunc(out, func(a, b core.RecurringTemplate) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out, nil
}

func (s *Store) withSkipLocked(t core.RecurringTemplate) core.RecurringTemplate {
	t.Skip = core.MonthSet{}
	key := t.ID.String()
	for k := range s.exceptions {
		if k.templateID == key {
			t.Skip.Add(k.month)
		}
	}
	return t
}

func (s *Store) GetTemplate(ctx context.Context, templateID id.ID) (core.RecurringTemplate, error) {
	if err := ctx.Err(); err != nil {
		return core.RecurringTemplate{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[templateID.String()]
	if !ok {
		return core.RecurringTemplate{}, core.ErrNotFound
	}
	return s.withSkipLocked(t), nil
}

func (s *Store) AddTemplate(ctx context.Context, t core.RecurringTemplate) (id.ID, error) {
	if err := ctx.Err(); err != nil {
		return id.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID.IsNil() {
		t.ID = id.NewTemplateID()
	}
	t.Seq = s.nextSeq()
	t.Skip = nil
	s.templates[t.ID.String()] = t
	return t.ID, nil
}

func (s *Store) DeactivateTemplate(ctx context.Context, templateID id.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[templateID.String()]
	if !ok {
		return core.ErrNotFound
	}
	t.Active = false
	s.templates[templateID.String()] = t
	return nil
}

func (s *Store) RecordOverride(ctx context.Context, templateID id.ID, month core.Month, e core.Entry) (id.ID, error) {
	if err := ctx.Err(); err != nil {
		return id.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[templateID.String()]; !ok {
		return id.Nil, core.ErrNotFound
	}
	k := exceptionKey{templateID.String(), month}
	if _, ok := s.exceptions[k]; ok {
		return id.Nil, ledger.ErrOverrideExists
	}
	e.TemplateID = templateID
	entryID, err := s.addEntryLocked(e)
	if err != nil {
		return id.Nil, err
	}
	s.exceptions[k] = exception{kind: kindOverride, entryID: entryID.String()}
	return entryID, nil
}

func (s *Store) OverrideFor(ctx context.Context, templateID id.ID, month core.Month) (core.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Entry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ex, ok := s.exceptions[exceptionKey{templateID.String(), month}]
	if !ok || ex.kind != kindOverride {
		return core.Entry{}, false, nil
	}
	e, ok := s.entries[ex.entryID]
	return e, ok, nil
}

func (s *Store) RecordExclusion(ctx context.Context, templateID id.ID, month core.Month) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[templateID.String()]; !ok {
		return core.ErrNotFound
	}
	s.exceptions[exceptionKey{templateID.String(), month}] = exception{kind: kindExclusion}
	return nil
}

// SavePremium persists the last known entitlement.
func (s *Store) SavePremium(ctx context.Context, premium bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.premium, s.premiumKnown = premium, true
	return nil
}

// LoadPremium returns the persisted entitlement; known is false until
// SavePremium has been called once.
func (s *Store) LoadPremium(ctx context.Context) (premium, known bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.premium, s.premiumKnown, nil
}
