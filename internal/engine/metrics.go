package engine

import (
	"context"
	"sort"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/shopspring/decimal"
)

type npiNDC struct {
	npi string
	ndc string
}

type metricsAcc struct {
	fills    int
	reverted int
	total    decimal.Decimal
	unitSum  decimal.Decimal
}

type metricsTable struct {
	idx    *JoinIndex
	groups map[npiNDC]*metricsAcc
}

func newMetricsTable(idx *JoinIndex) func() *metricsTable {
	return func() *metricsTable {
		return &metricsTable{idx: idx, groups: make(map[npiNDC]*metricsAcc)}
	}
}

func (t *metricsTable) add(c claims.Claim) error {
	unit, err := c.UnitPrice()
	if err != nil {
		return err
	}

	k := npiNDC{npi: c.NPI, ndc: c.NDC}
	acc, ok := t.groups[k]
	if !ok {
		acc = &metricsAcc{}
		t.groups[k] = acc
	}

	acc.fills++
	if t.idx.IsReverted(c.ID) {
		acc.reverted++
	}
	acc.total = acc.total.Add(c.Price)
	acc.unitSum = acc.unitSum.Add(unit)
	return nil
}

func (t *metricsTable) merge(other *metricsTable) {
	for k, src := range other.groups {
		dst, ok := t.groups[k]
		if !ok {
			t.groups[k] = src
			continue
		}
		dst.fills += src.fills
		dst.reverted += src.reverted
		dst.total = dst.total.Add(src.total)
		dst.unitSum = dst.unitSum.Add(src.unitSum)
	}
}

// ComputeMetrics groups claims by (npi, ndc). Every claim counts as a fill and
// contributes to both prices whether or not it was reverted; reverted counts
// the subset whose id appears in the index's revert set. Records are sorted by
// npi, then ndc.
func ComputeMetrics(ctx context.Context, cs []claims.Claim, idx *JoinIndex, opts Options) ([]claims.MetricsRecord, error) {
	opts = opts.withDefaults()

	t, err := reduce(ctx, cs, opts.Shards, newMetricsTable(idx))
	if err != nil {
		return nil, err
	}

	records := make([]claims.MetricsRecord, 0, len(t.groups))
	for k, acc := range t.groups {
		records = append(records, claims.MetricsRecord{
			NPI:        k.npi,
			NDC:        k.ndc,
			Fills:      acc.fills,
			Reverted:   acc.reverted,
			AvgPrice:   acc.unitSum.Div(decimal.NewFromInt(int64(acc.fills))),
			TotalPrice: acc.total,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].NPI != records[j].NPI {
			return records[i].NPI < records[j].NPI
		}
		return records[i].NDC < records[j].NDC
	})
	return records, nil
}
