package service

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/commerce/order/pkg/money"
)

func defaultTiers() []Tier {
	return []Tier{
		{Threshold: decimal.NewFromInt(200), Rate: decimal.RequireFromString("0.15")},
		{Threshold: decimal.NewFromInt(50), Rate: decimal.RequireFromString("0.05")},
		{Threshold: decimal.NewFromInt(100), Rate: decimal.RequireFromString("0.10")},
	}
}

func TestDiscountTiers(t *testing.T) {
	calc := NewDiscountCalculator(defaultTiers())

	cases := []struct {
		subtotal string
		discount string
		rate     string
	}{
		{"25.00", "0.00", "0"},
		{"49.99", "0.00", "0"},
		{"50.00", "2.50", "0.05"},
		{"99.99", "5.00", "0.05"},
		{"100.00", "10.00", "0.1"},
		{"150.00", "15.00", "0.1"},
		{"200.00", "30.00", "0.15"},
		{"1000.00", "150.00", "0.15"},
	}
	for _, c := range cases {
		subtotal := money.MustParse(c.subtotal)
		if got := money.Format(calc.Discount(subtotal)); got != c.discount {
			t.Fatalf("Discount(%s): expected %s, got %s", c.subtotal, c.discount, got)
		}
		if got := calc.RateFor(subtotal); !got.Equal(decimal.RequireFromString(c.rate)) {
			t.Fatalf("RateFor(%s): expected %s, got %s", c.subtotal, c.rate, got)
		}
	}
}

func TestDiscountRoundsHalfUp(t *testing.T) {
	calc := NewDiscountCalculator([]Tier{
		{Threshold: decimal.NewFromInt(50), Rate: decimal.RequireFromString("0.05")},
	})

	// 66.33 * 0.05 = 3.3165 -> 3.32
	got := money.Format(calc.Discount(money.MustParse("66.33")))
	if got != "3.32" {
		t.Fatalf("expected 3.32, got %s", got)
	}
}

func TestDiscountZeroSubtotal(t *testing.T) {
	calc := NewDiscountCalculator(defaultTiers())
	if got := money.Format(calc.Discount(decimal.Zero)); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
}
