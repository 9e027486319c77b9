package scheme

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCatalogLookup(t *testing.T) {
	catalog := NewCatalog(DefaultAmounts())

	amount, ok := catalog.AuthorizedAmount("Health_Scheme")
	if !ok {
		t.Fatal("Expected Health_Scheme in default catalog")
	}
	if !amount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected amount 5000, got %s", amount)
	}

	if _, ok := catalog.AuthorizedAmount("Pension_Scheme"); ok {
		t.Error("Expected unknown scheme to miss")
	}
}

func TestCatalogIDsSorted(t *testing.T) {
	catalog := NewCatalog(DefaultAmounts())

	ids := catalog.IDs()
	if len(ids) != 4 {
		t.Fatalf("Expected 4 schemes, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Errorf("Expected sorted IDs, got %v", ids)
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	base := decimal.NewFromInt(5000)

	cases := []struct {
		name   string
		other  decimal.Decimal
		expect bool
	}{
		{"exact", decimal.NewFromInt(5000), true},
		{"at tolerance", decimal.NewFromFloat(5000.01), true},
		{"below tolerance", decimal.NewFromFloat(4999.99), true},
		{"just over", decimal.NewFromFloat(5000.02), false},
		{"whole rupee off", decimal.NewFromInt(4999), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := WithinTolerance(c.other, base); got != c.expect {
				t.Errorf("WithinTolerance(%s, %s) = %v, expected %v", c.other, base, got, c.expect)
			}
		})
	}
}
