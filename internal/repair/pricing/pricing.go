package pricing

import "github.com/shopspring/decimal"

var (
	// DefaultBaseFee is the flat part of the delivery cost.
	DefaultBaseFee = decimal.NewFromInt(20)
	// DefaultRate is the share of the repair price added to the delivery cost.
	DefaultRate = decimal.RequireFromString("0.30")
)

// Tariff holds the delivery cost formula parameters.
type Tariff struct {
	BaseFee decimal.Decimal
	Rate    decimal.Decimal
}

// DefaultTariff returns the standard 20 + 30% tariff.
func DefaultTariff() Tariff {
	return Tariff{BaseFee: DefaultBaseFee, Rate: DefaultRate}
}

// DeliveryCost returns base + rate*repairPrice rounded to two decimals.
func (t Tariff) DeliveryCost(repairPrice decimal.Decimal) decimal.Decimal {
	if repairPrice.IsNegative() {
		repairPrice = decimal.Zero
	}
	return t.BaseFee.Add(t.Rate.Mul(repairPrice)).Round(2)
}

// AmountDue is what the client pays at the end: the final price plus the
// delivery cost unless the delivery was prepaid.
func AmountDue(finalPrice, deliveryCost decimal.Decimal, deliveryPaid bool) decimal.Decimal {
	total := finalPrice
	if !deliveryPaid {
		total = total.Add(deliveryCost)
	}
	return total.Round(2)
}

// Format renders an amount with two decimals and the currency code.
func Format(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + currency
}
