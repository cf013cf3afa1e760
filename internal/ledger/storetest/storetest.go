// Package storetest holds the behaviour every ledger.Store must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/id"
	"budget/internal/ledger"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) ledger.Store

// Run exercises s against the ledger.Store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, ledger.Store)
	}{
		{"EntryLifecycle", testEntryLifecycle},
		{"EntriesOrdering", testEntriesOrdering},
		{"SumThrough", testSumThrough},
		{"DuplicateEntryID", testDuplicateEntryID},
		{"Templates", testTemplates},
		{"Override", testOverride},
		{"Exclusion", testExclusion},
		{"DeleteOverrideEntry", testDeleteOverrideEntry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func entry(title string, cents int64, d core.Date) core.Entry {
	return core.Entry{Title: title, Amount: core.Money{Cents: cents}, Date: d}
}

func testEntryLifecycle(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := core.NewDate(2024, 3, 10)

	entryID, err := s.AddEntry(ctx, entry("coffee", 250, d))
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if entryID.IsNil() || entryID.Prefix() != id.PrefixEntry {
		t.Fatalf("unexpected id %q", entryID)
	}

	got, err := s.GetEntry(ctx, entryID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Title != "coffee" || got.Amount.Cents != 250 || !got.Date.Equal(d) || got.Virtual {
		t.Fatalf("unexpected entry %+v", got)
	}
	if !got.TemplateID.IsNil() {
		t.Fatal("one-off entry must not carry a template id")
	}

	got.Title = "espresso"
	got.Amount = core.Money{Cents: 300}
	got.Date = d.AddDays(1)
	if err := s.UpdateEntry(ctx, got); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	again, _ := s.GetEntry(ctx, entryID)
	if again.Title != "espresso" || again.Amount.Cents != 300 || !again.Date.Equal(d.AddDays(1)) {
		t.Fatalf("update not applied: %+v", again)
	}
	if again.ID.String() != entryID.String() {
		t.Fatal("id changed on update")
	}

	missing := core.Entry{ID: id.NewEntryID(), Title: "x", Amount: core.Money{Cents: 1}, Date: d}
	if err := s.UpdateEntry(ctx, missing); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("UpdateEntry missing = %v, want ErrNotFound", err)
	}

	ok, err := s.DeleteEntry(ctx, entryID)
	if err != nil || !ok {
		t.Fatalf("DeleteEntry = %v, %v", ok, err)
	}
	ok, err = s.DeleteEntry(ctx, entryID)
	if err != nil || ok {
		t.Fatalf("second DeleteEntry = %v, %v", ok, err)
	}
	if _, err := s.GetEntry(ctx, entryID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetEntry after delete = %v", err)
	}
}

func testEntriesOrdering(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d1 := core.NewDate(2024, 1, 5)
	d2 := core.NewDate(2024, 1, 6)

	for _, e := range []core.Entry{
		entry("b-late", 1, d2),
		entry("a-first", 2, d1),
		entry("a-second", 3, d1),
		entry("outside", 4, d2.AddDays(10)),
	} {
		if _, err := s.AddEntry(ctx, e); err != nil {
			t.Fatalf("AddEntry: %v", err)
		}
	}

	got, err := s.EntriesInRange(ctx, d1, d2)
	if err != nil {
		t.Fatalf("EntriesInRange: %v", err)
	}
	want := []string{"a-first", "a-second", "b-late"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("entry %d = %q, want %q", i, got[i].Title, title)
		}
	}
	if !(got[0].Seq < got[1].Seq) {
		t.Errorf("seq not increasing: %d, %d", got[0].Seq, got[1].Seq)
	}

	none, err := s.EntriesInRange(ctx, d2, d1)
	if err != nil || len(none) != 0 {
		t.Fatalf("inverted range = %v, %v", none, err)
	}
}

func testSumThrough(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	d := core.NewDate(2024, 2, 1)
	s.AddEntry(ctx, entry("rent", 50000, d))
	s.AddEntry(ctx, entry("salary", -200000, d.AddDays(1)))
	s.AddEntry(ctx, entry("food", 3000, d.AddDays(2)))

	cases := []struct {
		date core.Date
		want int64
	}{
		{d.AddDays(-1), 0},
		{d, 50000},
		{d.AddDays(1), -150000},
		{d.AddDays(30), -147000},
	}
	for _, tc := range cases {
		got, err := s.SumThrough(ctx, tc.date)
		if err != nil {
			t.Fatalf("SumThrough: %v", err)
		}
		if got != tc.want {
			t.Errorf("SumThrough(%s) = %d, want %d", tc.date, got, tc.want)
		}
	}
}

func testDuplicateEntryID(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	e := entry("once", 100, core.NewDate(2024, 5, 5))
	e.ID = id.NewEntryID()
	if _, err := s.AddEntry(ctx, e); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if _, err := s.AddEntry(ctx, e); !errors.Is(err, ledger.ErrEntryExists) {
		t.Fatalf("second AddEntry = %v, want ErrEntryExists", err)
	}
}

func newTemplate(t *testing.T, s ledger.Store, title string, cents int64, start core.Date) core.RecurringTemplate {
	t.Helper()
	ctx := context.Background()
	templateID, err := s.AddTemplate(ctx, core.RecurringTemplate{
		Title: title, Amount: core.Money{Cents: cents}, StartDate: start, Active: true,
	})
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	tmpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	return tmpl
}

func testTemplates(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	first := newTemplate(t, s, "rent", 80000, core.NewDate(2024, 1, 31))
	second := newTemplate(t, s, "gym", 3000, core.NewDate(2024, 2, 1))

	if first.ID.Prefix() != id.PrefixTemplate {
		t.Fatalf("unexpected prefix %q", first.ID.Prefix())
	}
	if !first.Active || first.Title != "rent" || !first.StartDate.Equal(core.NewDate(2024, 1, 31)) {
		t.Fatalf("unexpected template %+v", first)
	}

	active, err := s.ActiveTemplates(ctx)
	if err != nil {
		t.Fatalf("ActiveTemplates: %v", err)
	}
	if len(active) != 2 || active[0].ID.String() != first.ID.String() || active[1].ID.String() != second.ID.String() {
		t.Fatalf("unexpected active templates %+v", active)
	}

	if err := s.DeactivateTemplate(ctx, first.ID); err != nil {
		t.Fatalf("DeactivateTemplate: %v", err)
	}
	active, _ = s.ActiveTemplates(ctx)
	if len(active) != 1 || active[0].ID.String() != second.ID.String() {
		t.Fatalf("deactivated template still listed: %+v", active)
	}
	got, err := s.GetTemplate(ctx, first.ID)
	if err != nil || got.Active {
		t.Fatalf("GetTemplate after deactivate = %+v, %v", got, err)
	}

	if err := s.DeactivateTemplate(ctx, id.NewTemplateID()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("DeactivateTemplate missing = %v", err)
	}
	if _, err := s.GetTemplate(ctx, id.NewTemplateID()); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetTemplate missing = %v", err)
	}
}

func testOverride(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	tmpl := newTemplate(t, s, "rent", 80000, core.NewDate(2024, 1, 15))
	feb := core.Month{Year: 2024, Month: time.February}

	if _, ok, err := s.OverrideFor(ctx, tmpl.ID, feb); err != nil || ok {
		t.Fatalf("OverrideFor before = %v, %v", ok, err)
	}

	entryID, err := s.RecordOverride(ctx, tmpl.ID, feb, entry("rent (discount)", 70000, core.NewDate(2024, 2, 15)))
	if err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}

	got, ok, err := s.OverrideFor(ctx, tmpl.ID, feb)
	if err != nil || !ok {
		t.Fatalf("OverrideFor = %v, %v", ok, err)
	}
	if got.ID.String() != entryID.String() || got.TemplateID.String() != tmpl.ID.String() || got.Amount.Cents != 70000 {
		t.Fatalf("unexpected override %+v", got)
	}

	active, _ := s.ActiveTemplates(ctx)
	if len(active) != 1 || !active[0].Skip.Has(feb) || len(active[0].Skip) != 1 {
		t.Fatalf("skip set not populated: %+v", active)
	}

	if _, err := s.RecordOverride(ctx, tmpl.ID, feb, entry("again", 1, core.NewDate(2024, 2, 15))); !errors.Is(err, ledger.ErrOverrideExists) {
		t.Fatalf("second RecordOverride = %v, want ErrOverrideExists", err)
	}

	sum, _ := s.SumThrough(ctx, core.NewDate(2024, 12, 31))
	if sum != 70000 {
		t.Fatalf("override entry not summed: %d", sum)
	}
}

func testExclusion(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	tmpl := newTemplate(t, s, "gym", 3000, core.NewDate(2024, 1, 1))
	mar := core.Month{Year: 2024, Month: time.March}

	if err := s.RecordExclusion(ctx, tmpl.ID, mar); err != nil {
		t.Fatalf("RecordExclusion: %v", err)
	}
	if err := s.RecordExclusion(ctx, tmpl.ID, mar); err != nil {
		t.Fatalf("RecordExclusion is not idempotent: %v", err)
	}
	got, _ := s.GetTemplate(ctx, tmpl.ID)
	if !got.Skip.Has(mar) {
		t.Fatal("excluded month missing from skip set")
	}
	if _, ok, _ := s.OverrideFor(ctx, tmpl.ID, mar); ok {
		t.Fatal("exclusion reported as override")
	}
	if _, err := s.RecordOverride(ctx, tmpl.ID, mar, entry("x", 1, core.NewDate(2024, 3, 1))); !errors.Is(err, ledger.ErrOverrideExists) {
		t.Fatalf("override on excluded month = %v", err)
	}

	// exclusion replaces an override mark
	apr := core.Month{Year: 2024, Month: time.April}
	entryID, err := s.RecordOverride(ctx, tmpl.ID, apr, entry("gym", 2000, core.NewDate(2024, 4, 1)))
	if err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}
	if err := s.RecordExclusion(ctx, tmpl.ID, apr); err != nil {
		t.Fatalf("RecordExclusion over override: %v", err)
	}
	if _, ok, _ := s.OverrideFor(ctx, tmpl.ID, apr); ok {
		t.Fatal("override mark survived exclusion")
	}
	if ok, _ := s.DeleteEntry(ctx, entryID); !ok {
		t.Fatal("override entry should still exist until deleted")
	}
	got, _ = s.GetTemplate(ctx, tmpl.ID)
	if !got.Skip.Has(apr) {
		t.Fatal("deleting the entry dropped the exclusion")
	}
}

func testDeleteOverrideEntry(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	tmpl := newTemplate(t, s, "rent", 80000, core.NewDate(2024, 1, 15))
	may := core.Month{Year: 2024, Month: time.May}

	entryID, err := s.RecordOverride(ctx, tmpl.ID, may, entry("rent", 1, core.NewDate(2024, 5, 15)))
	if err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}
	if ok, err := s.DeleteEntry(ctx, entryID); err != nil || !ok {
		t.Fatalf("DeleteEntry = %v, %v", ok, err)
	}
	got, _ := s.GetTemplate(ctx, tmpl.ID)
	if got.Skip.Has(may) {
		t.Fatal("override mark must go with its entry")
	}
}
