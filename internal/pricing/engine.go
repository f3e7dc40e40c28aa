package pricing

import "fmt"

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// Item describes a carted test used for pricing calculation.
type Item struct {
	Price Money
}

// Result aggregates computed cart totals. Savings always equals Discount and
// is kept as a separate field for display.
type Result struct {
	Subtotal   Money
	PercentBps int
	Discount   Money
	Total      Money
	Savings    Money
	Label      string
}

// EmptyLabel is returned when there is nothing to price.
const EmptyLabel = "empty"

// Discount tiers by item count. Lower bounds are inclusive and the highest
// qualifying tier wins, so four items still price at the three-item tier.
var tiers = []struct {
	minItems   int
	percentBps int
}{
	{5, 2500},
	{3, 1500},
	{2, 1000},
}

// Price computes the bundle totals for the given items. It never fails; an
// empty input yields zero values and the empty label.
func Price(items []Item) Result {
	if len(items) == 0 {
		return Result{Label: EmptyLabel}
	}
	var subtotal Money
	for _, it := range items {
		if it.Price < 0 {
			continue
		}
		subtotal += it.Price
	}
	bps := tierFor(len(items))
	discount := (subtotal * Money(bps)) / 10000
	total := subtotal - discount
	if total < 0 {
		total = 0
	}
	return Result{
		Subtotal:   subtotal,
		PercentBps: bps,
		Discount:   discount,
		Total:      total,
		Savings:    discount,
		Label:      label(len(items), bps),
	}
}

// SplitEven divides the discounted total across n purchases. The final share
// absorbs the integer remainder so the shares always sum to total exactly.
func SplitEven(total Money, n int) []Money {
	if n <= 0 {
		return nil
	}
	per := total / Money(n)
	shares := make([]Money, n)
	for i := range shares {
		shares[i] = per
	}
	shares[n-1] = total - per*Money(n-1)
	return shares
}

func tierFor(count int) int {
	for _, t := range tiers {
		if count >= t.minItems {
			return t.percentBps
		}
	}
	return 0
}

func label(count, bps int) string {
	if bps == 0 {
		return "Add 1 more test to unlock a 10% bundle discount"
	}
	return fmt.Sprintf("%d%% bundle discount applied (%d tests)", bps/100, count)
}
