package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Summary aggregates computed cart totals.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// Compute calculates cart totals from the selected course prices and the
// voucher discount. The discount is clamped so the total never goes negative.
func Compute(prices []Money, discount Money) Summary {
	var subtotal Money
	for _, p := range prices {
		if p <= 0 {
			continue
		}
		subtotal += p
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Total:    subtotal - discount,
	}
}
