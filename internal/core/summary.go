package core

// MonthOverview is a compact summary of every movement in one month,
// stored and virtual.
type MonthOverview struct {
	Month   Month
	Spent   Money // sum of outflows, positive
	Earned  Money // sum of inflows, positive
	Entries int
}

// Net returns earned minus spent for the month.
func (o MonthOverview) Net() Money {
	return Money{Cents: o.Earned.Cents - o.Spent.Cents}
}

// AddEntry folds one movement into the overview.
func (o *MonthOverview) AddEntry(amount Money) {
	if amount.Cents > 0 {
		o.Spent.Cents += amount.Cents
	} else {
		o.Earned.Cents -= amount.Cents
	}
	o.Entries++
}
