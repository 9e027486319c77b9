package scheme

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AmountTolerance is the maximum difference tolerated when comparing a
// submitted or registered amount against the catalog value.
var AmountTolerance = decimal.NewFromFloat(0.01)

// Catalog maps scheme identifiers to their authorized fixed disbursement
// amounts. It is immutable for the process lifetime.
type Catalog struct {
	amounts map[string]decimal.Decimal
}

// DefaultAmounts returns the built-in scheme table used when the config file
// does not override it.
func DefaultAmounts() map[string]float64 {
	return map[string]float64{
		"Health_Scheme":      5000,
		"Education_Scheme":   10000,
		"Agriculture_Scheme": 15000,
		"Housing_Scheme":     20000,
	}
}

func NewCatalog(amounts map[string]float64) *Catalog {
	c := &Catalog{amounts: make(map[string]decimal.Decimal, len(amounts))}
	for id, amount := range amounts {
		c.amounts[id] = decimal.NewFromFloat(amount)
	}
	return c
}

// AuthorizedAmount returns the fixed amount for a scheme, or ok=false for an
// unknown scheme.
func (c *Catalog) AuthorizedAmount(schemeID string) (decimal.Decimal, bool) {
	amount, ok := c.amounts[schemeID]
	return amount, ok
}

// IDs returns all scheme identifiers in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.amounts))
	for id := range c.amounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithinTolerance reports whether two amounts agree within AmountTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(AmountTolerance)
}
