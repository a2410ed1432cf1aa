package engine

import (
	"context"
	"sort"

	"github.com/gyeh/pharmacy-claims/internal/claims"
)

// quantityTable maps ndc → quantity → number of claims.
type quantityTable struct {
	freq map[string]map[int64]int
}

func newQuantityTable() *quantityTable {
	return &quantityTable{freq: make(map[string]map[int64]int)}
}

func (t *quantityTable) add(c claims.Claim) error {
	if _, err := c.UnitPrice(); err != nil {
		return err
	}
	counts, ok := t.freq[c.NDC]
	if !ok {
		counts = make(map[int64]int)
		t.freq[c.NDC] = counts
	}
	counts[c.Quantity]++
	return nil
}

func (t *quantityTable) merge(other *quantityTable) {
	for ndc, src := range other.freq {
		dst, ok := t.freq[ndc]
		if !ok {
			t.freq[ndc] = src
			continue
		}
		for q, n := range src {
			dst[q] += n
		}
	}
}

// QuantityModes returns, for each drug, every quantity whose frequency equals
// the highest frequency for that drug, ascending. Records are sorted by ndc.
// A claim with a non-positive quantity aborts with an InvalidRecordError.
func QuantityModes(ctx context.Context, cs []claims.Claim, opts Options) ([]claims.QuantityModeRecord, error) {
	opts = opts.withDefaults()

	t, err := reduce(ctx, cs, opts.Shards, newQuantityTable)
	if err != nil {
		return nil, err
	}

	records := make([]claims.QuantityModeRecord, 0, len(t.freq))
	for ndc, counts := range t.freq {
		best := 0
		for _, n := range counts {
			if n > best {
				best = n
			}
		}

		var modes []int64
		for q, n := range counts {
			if n == best {
				modes = append(modes, q)
			}
		}
		sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

		records = append(records, claims.QuantityModeRecord{NDC: ndc, Quantities: modes})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].NDC < records[j].NDC })
	return records, nil
}
