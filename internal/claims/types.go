package claims

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pharmacy is a row of the pharmacy reference table.
type Pharmacy struct {
	NPI   string `json:"npi"`
	Chain string `json:"chain"`
}

// Claim is a single fill event. Price is the total price of the fill.
type Claim struct {
	ID        string          `json:"id"`
	NPI       string          `json:"npi"`
	NDC       string          `json:"ndc"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// UnitPrice returns Price / Quantity. A non-positive quantity is an
// InvalidRecordError naming the claim.
func (c Claim) UnitPrice() (decimal.Decimal, error) {
	if c.Quantity <= 0 {
		return decimal.Zero, &InvalidRecordError{
			Kind:   KindClaim,
			ID:     c.ID,
			Field:  "quantity",
			Value:  decimal.NewFromInt(c.Quantity).String(),
			Reason: "quantity must be positive to compute unit price",
		}
	}
	return c.Price.Div(decimal.NewFromInt(c.Quantity)), nil
}

// Revert cancels a previously recorded claim.
type Revert struct {
	ID        string    `json:"id"`
	ClaimID   string    `json:"claim_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsRecord aggregates all claims for one (npi, ndc) pair.
// Reverted claims still count as fills and still contribute to both prices.
type MetricsRecord struct {
	NPI        string
	NDC        string
	Fills      int
	Reverted   int
	AvgPrice   decimal.Decimal // mean of per-claim unit prices
	TotalPrice decimal.Decimal // sum of per-claim total prices
}

// ChainPrice is one ranked chain within a ChainRankRecord.
type ChainPrice struct {
	Name     string
	AvgPrice decimal.Decimal
}

// ChainRankRecord lists the cheapest chains for a drug, cheapest first.
type ChainRankRecord struct {
	NDC    string
	Chains []ChainPrice
}

// QuantityModeRecord lists the most frequent quantities for a drug in
// ascending order. Ties are all kept.
type QuantityModeRecord struct {
	NDC        string
	Quantities []int64
}
