package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"budget/internal/id"
)

const maxTitleLen = 200

type (
	// Date is a calendar day. The wrapped time is always midnight UTC.
	Date struct {
		time.Time
	}

	// Month identifies a calendar month.
	Month struct {
		Year  int
		Month time.Month
	}

	// Money is a signed amount in minor units. Positive amounts are
	// outflows (spend), negative amounts are inflows (income).
	Money struct {
		Cents int64
	}

	// Entry is a concrete, dated monetary movement.
	Entry struct {
		ID         id.ID
		Title      string
		Amount     Money
		Date       Date
		TemplateID id.ID // set only on a materialized occurrence
		Virtual    bool  // produced by expansion on read, never stored
		Seq        int64 // store-assigned insertion order
	}

	// RecurringTemplate produces one occurrence per month from StartDate on.
	RecurringTemplate struct {
		ID        id.ID
		Title     string
		Amount    Money
		StartDate Date
		Active    bool
		Seq       int64
		// Skip holds the months that have an override or an exclusion.
		Skip MonthSet
	}

	// MonthSet is a set of calendar months.
	MonthSet map[Month]struct{}
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyTitle    = errors.New("empty title")
	ErrTitleTooLong  = fmt.Errorf("title too long (max %d characters)", maxTitleLen)
	ErrNotFound      = errors.New("not found")
)

// NewDate creates a Date from year, month, day. Out-of-range values are
// normalized the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Month returns the calendar month containing d.
func (d Date) Month() Month {
	return Month{Year: d.Time.Year(), Month: d.Time.Month()}
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is a later day than o.
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(data []byte) error {
	parsed, err := ParseDate(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON overrides the promoted time.Time encoding with YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, data)
	}
	return d.UnmarshalText([]byte(s))
}

// ParseMonth parses a YYYY-MM string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// String formats m as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Index returns a running month number, so that month arithmetic is plain
// integer arithmetic.
func (m Month) Index() int {
	return m.Year*12 + int(m.Month) - 1
}

// Next returns the following month.
func (m Month) Next() Month {
	return monthFromIndex(m.Index() + 1)
}

// Before reports whether m precedes o.
func (m Month) Before(o Month) bool { return m.Index() < o.Index() }

// MonthsUntil returns the number of months from m to o (negative if o is
// earlier).
func (m Month) MonthsUntil(o Month) int {
	return o.Index() - m.Index()
}

// LastDay returns the number of days in m.
func (m Month) LastDay() int {
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Day returns day n of m, clamped to the last day of the month.
func (m Month) Day(n int) Date {
	if last := m.LastDay(); n > last {
		n = last
	}
	return NewDate(m.Year, m.Month, n)
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(data []byte) error {
	parsed, err := ParseMonth(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func monthFromIndex(i int) Month {
	return Month{Year: i / 12, Month: time.Month(i%12 + 1)}
}

// Has reports whether m is in the set. A nil set is empty.
func (s MonthSet) Has(m Month) bool {
	_, ok := s[m]
	return ok
}

// Add inserts m. s must not be nil.
func (s MonthSet) Add(m Month) {
	s[m] = struct{}{}
}

// CountBetween returns how many months of the set fall in [from, to].
func (s MonthSet) CountBetween(from, to Month) int {
	n := 0
	for m := range s {
		if !m.Before(from) && !to.Before(m) {
			n++
		}
	}
	return n
}

// Clone returns a copy of s.
func (s MonthSet) Clone() MonthSet {
	out := make(MonthSet, len(s))
	for m := range s {
		out[m] = struct{}{}
	}
	return out
}

// Validate rejects zero and anything beyond MaxAmountCents either way.
func (m Money) Validate() error {
	if m.Cents == 0 {
		return ErrInvalidAmount
	}
	if m.Cents > MaxAmountCents || m.Cents < -MaxAmountCents {
		return ErrAmountOutOfRange
	}
	return nil
}

// Neg returns -m.
func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return ErrTitleTooLong
	}
	return nil
}

func (e Entry) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := validateTitle(e.Title); err != nil {
		return err
	}
	return e.Amount.Validate()
}

// IsOccurrence reports whether e stands for a month of a recurring template,
// either materialized or virtual.
func (e Entry) IsOccurrence() bool {
	return !e.TemplateID.IsNil()
}

func (t RecurringTemplate) Validate() error {
	if err := t.StartDate.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if err := validateTitle(t.Title); err != nil {
		return err
	}
	return t.Amount.Validate()
}
