package engine

import (
	"context"
	"sort"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/shopspring/decimal"
)

type ndcChain struct {
	ndc   string
	chain string
}

type meanAcc struct {
	sum decimal.Decimal
	n   int
}

type chainTable struct {
	idx    *JoinIndex
	groups map[ndcChain]*meanAcc
}

func newChainTable(idx *JoinIndex) func() *chainTable {
	return func() *chainTable {
		return &chainTable{idx: idx, groups: make(map[ndcChain]*meanAcc)}
	}
}

func (t *chainTable) add(c claims.Claim) error {
	p, ok := t.idx.Pharmacy(c.NPI)
	if !ok {
		return nil // unresolved npi: excluded from chain ranking only
	}

	unit, err := c.UnitPrice()
	if err != nil {
		return err
	}

	k := ndcChain{ndc: c.NDC, chain: p.Chain}
	acc, ok := t.groups[k]
	if !ok {
		acc = &meanAcc{}
		t.groups[k] = acc
	}
	acc.sum = acc.sum.Add(unit)
	acc.n++
	return nil
}

func (t *chainTable) merge(other *chainTable) {
	for k, src := range other.groups {
		dst, ok := t.groups[k]
		if !ok {
			t.groups[k] = src
			continue
		}
		dst.sum = dst.sum.Add(src.sum)
		dst.n += src.n
	}
}

// RankChains computes, for each drug, the mean unit price of every chain that
// filled it and keeps the opts.TopN cheapest. Equal averages are ordered by
// chain name. Claims whose npi has no pharmacy are skipped. Records are sorted
// by ndc.
func RankChains(ctx context.Context, cs []claims.Claim, idx *JoinIndex, opts Options) ([]claims.ChainRankRecord, error) {
	opts = opts.withDefaults()

	t, err := reduce(ctx, cs, opts.Shards, newChainTable(idx))
	if err != nil {
		return nil, err
	}

	byNDC := make(map[string][]claims.ChainPrice)
	for k, acc := range t.groups {
		byNDC[k.ndc] = append(byNDC[k.ndc], claims.ChainPrice{
			Name:     k.chain,
			AvgPrice: acc.sum.Div(decimal.NewFromInt(int64(acc.n))),
		})
	}

	records := make([]claims.ChainRankRecord, 0, len(byNDC))
	for ndc, chains := range byNDC {
		sort.Slice(chains, func(i, j int) bool {
			if c := chains[i].AvgPrice.Cmp(chains[j].AvgPrice); c != 0 {
				return c < 0
			}
			return chains[i].Name < chains[j].Name
		})
		if len(chains) > opts.TopN {
			chains = chains[:opts.TopN]
		}
		records = append(records, claims.ChainRankRecord{NDC: ndc, Chains: chains})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].NDC < records[j].NDC })
	return records, nil
}
