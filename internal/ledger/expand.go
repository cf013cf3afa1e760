package ledger

import (
	"iter"

	"budget/internal/core"
	"budget/internal/id"
)

// Occurrence is one month of a recurring template.
type Occurrence struct {
	TemplateID id.ID
	Month      core.Month
	Date       core.Date
	Amount     core.Money
	Title      string
}

// Entry returns the occurrence as a virtual ledger entry.
func (o Occurrence) Entry() core.Entry {
	return core.Entry{
		Title:      o.Title,
		Amount:     o.Amount,
		Date:       o.Date,
		TemplateID: o.TemplateID,
		Virtual:    true,
	}
}

// Expand yields the occurrences of t dated in [from, to], one per month on
// the start day clamped to the month's length. Months in t.Skip are left out.
// The sequence does no I/O and can be ranged any number of times.
func Expand(t core.RecurringTemplate, from, to core.Date) iter.Seq[Occurrence] {
	return func(yield func(Occurrence) bool) {
		if !t.Active || to.Before(from) || to.Before(t.StartDate) {
			return
		}
		first := t.StartDate.Month()
		if fm := from.Month(); first.Before(fm) {
			first = fm
		}
		last := to.Month()
		day := t.StartDate.Day()
		for m := first; !last.Before(m); m = m.Next() {
			if t.Skip.Has(m) {
				continue
			}
			d := m.Day(day)
			if d.Before(from) || d.Before(t.StartDate) || d.After(to) {
				continue
			}
			if !yield(occurrence(t, m, d)) {
				return
			}
		}
	}
}

// OccurrenceOn returns the occurrence of t dated exactly on date, if any.
func OccurrenceOn(t core.RecurringTemplate, date core.Date) (Occurrence, bool) {
	occ, ok := OccurrenceIn(t, date.Month(), date)
	if !ok || !occ.Date.Equal(date) {
		return Occurrence{}, false
	}
	return occ, true
}

// OccurrenceIn returns the occurrence of t in month m when it falls on or
// before limit.
func OccurrenceIn(t core.RecurringTemplate, m core.Month, limit core.Date) (Occurrence, bool) {
	if !t.Active || t.Skip.Has(m) || m.Before(t.StartDate.Month()) {
		return Occurrence{}, false
	}
	d := m.Day(t.StartDate.Day())
	if d.After(limit) {
		return Occurrence{}, false
	}
	return occurrence(t, m, d), true
}

// CountThrough returns how many occurrences of t fall on or before date,
// without walking the months.
func CountThrough(t core.RecurringTemplate, date core.Date) int {
	if !t.Active || date.Before(t.StartDate) {
		return 0
	}
	start := t.StartDate.Month()
	last := date.Month()
	if date.Before(last.Day(t.StartDate.Day())) {
		last = monthBefore(last)
	}
	if last.Before(start) {
		return 0
	}
	n := start.MonthsUntil(last) + 1
	return n - t.Skip.CountBetween(start, last)
}

func monthBefore(m core.Month) core.Month {
	if m.Month == 1 {
		return core.Month{Year: m.Year - 1, Month: 12}
	}
	return core.Month{Year: m.Year, Month: m.Month - 1}
}

func occurrence(t core.RecurringTemplate, m core.Month, d core.Date) Occurrence {
	return Occurrence{
		TemplateID: t.ID,
		Month:      m,
		Date:       d,
		Amount:     t.Amount,
		Title:      t.Title,
	}
}
