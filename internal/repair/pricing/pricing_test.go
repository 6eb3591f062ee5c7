package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDeliveryCost(t *testing.T) {
	tariff := DefaultTariff()
	cases := []struct {
		repair string
		want   string
	}{
		{"0", "20.00"},
		{"100", "50.00"},
		{"100.00", "50.00"},
		{"33.33", "30.00"},
		{"199.99", "80.00"},
		{"-5", "20.00"},
	}
	for _, tc := range cases {
		t.Run(tc.repair, func(t *testing.T) {
			got := tariff.DeliveryCost(decimal.RequireFromString(tc.repair))
			if got.StringFixed(2) != tc.want {
				t.Fatalf("DeliveryCost(%s) = %s, want %s", tc.repair, got.StringFixed(2), tc.want)
			}
		})
	}
}

func TestAmountDue(t *testing.T) {
	final := decimal.RequireFromString("250")
	delivery := decimal.RequireFromString("95")
	if got := AmountDue(final, delivery, false); got.StringFixed(2) != "345.00" {
		t.Fatalf("unexpected amount due %s", got)
	}
	if got := AmountDue(final, delivery, true); got.StringFixed(2) != "250.00" {
		t.Fatalf("prepaid delivery must not be charged twice, got %s", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(decimal.NewFromInt(50), "BYN"); got != "50.00 BYN" {
		t.Fatalf("unexpected format %q", got)
	}
}
