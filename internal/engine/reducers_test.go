package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/gyeh/pharmacy-claims/internal/claims"
)

func TestBuildIndex_LastPharmacyWins(t *testing.T) {
	idx := BuildIndex([]claims.Pharmacy{
		{NPI: "1", Chain: "old"},
		{NPI: "1", Chain: "new"},
	}, nil)

	p, ok := idx.Pharmacy("1")
	if !ok || p.Chain != "new" {
		t.Errorf("expected chain \"new\", got %+v (ok=%v)", p, ok)
	}
	if _, ok := idx.Pharmacy("2"); ok {
		t.Error("expected npi 2 to be unresolved")
	}
}

func TestBuildIndex_RevertsAreASet(t *testing.T) {
	idx := BuildIndex(nil, []claims.Revert{revert("r1", "c1"), revert("r2", "c1")})
	if !idx.IsReverted("c1") {
		t.Error("expected c1 to be reverted")
	}
	if idx.IsReverted("c2") {
		t.Error("expected c2 not to be reverted")
	}
	if idx.Stats().RevertedClaims != 1 {
		t.Errorf("expected 1 reverted claim, got %d", idx.Stats().RevertedClaims)
	}
}

func TestComputeMetrics_AveragesUnitPrices(t *testing.T) {
	cs := []claims.Claim{
		claim("c1", "n1", "d1", "100", 10), // unit 10
		claim("c2", "n1", "d1", "50", 25),  // unit 2
		claim("c3", "n1", "d2", "7", 7),
		claim("c4", "n2", "d1", "3", 1),
	}
	idx := BuildIndex(nil, []claims.Revert{revert("r1", "c2"), revert("r2", "c2")})

	got, err := ComputeMetrics(context.Background(), cs, idx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(got))
	}

	// Sorted by npi, ndc
	keys := [][2]string{{got[0].NPI, got[0].NDC}, {got[1].NPI, got[1].NDC}, {got[2].NPI, got[2].NDC}}
	wantKeys := [][2]string{{"n1", "d1"}, {"n1", "d2"}, {"n2", "d1"}}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Errorf("keys: got %v, want %v", keys, wantKeys)
	}

	m := got[0]
	if m.Fills != 2 {
		t.Errorf("expected 2 fills, got %d", m.Fills)
	}
	if m.Reverted != 1 {
		t.Errorf("duplicate reverts must count once: got reverted=%d", m.Reverted)
	}
	// mean of unit prices (10 + 2) / 2, not total / fills
	if !m.AvgPrice.Equal(dec("6")) {
		t.Errorf("expected avg_price 6, got %s", m.AvgPrice)
	}
	if !m.TotalPrice.Equal(dec("150")) {
		t.Errorf("expected total_price 150, got %s", m.TotalPrice)
	}

	if got[1].Reverted != 0 || got[2].Reverted != 0 {
		t.Errorf("expected reverted=0 for groups without reverts, got %d and %d", got[1].Reverted, got[2].Reverted)
	}
}

func TestComputeMetrics_Properties(t *testing.T) {
	in := buildDataset(1000)
	idx := BuildIndex(in.Pharmacies, in.Reverts)

	got, err := ComputeMetrics(context.Background(), in.Claims, idx, Options{Shards: 3})
	if err != nil {
		t.Fatal(err)
	}

	fills := 0
	seen := map[[2]string]bool{}
	for _, m := range got {
		fills += m.Fills
		if m.Reverted > m.Fills {
			t.Errorf("(%s, %s): reverted %d > fills %d", m.NPI, m.NDC, m.Reverted, m.Fills)
		}
		k := [2]string{m.NPI, m.NDC}
		if seen[k] {
			t.Errorf("(%s, %s) emitted twice", m.NPI, m.NDC)
		}
		seen[k] = true
	}
	if fills != len(in.Claims) {
		t.Errorf("sum of fills %d != claim count %d", fills, len(in.Claims))
	}
}

func TestRankChains_TieBreakByName(t *testing.T) {
	cs := []claims.Claim{
		claim("c1", "p-zeta", "d1", "5", 1),
		claim("c2", "p-alpha", "d1", "5", 1),
		claim("c3", "p-mid", "d1", "5", 1),
	}
	idx := BuildIndex([]claims.Pharmacy{
		{NPI: "p-zeta", Chain: "Zeta"},
		{NPI: "p-alpha", Chain: "Alpha"},
		{NPI: "p-mid", Chain: "Mid"},
	}, nil)

	got, err := RankChains(context.Background(), cs, idx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0].Chains) != 2 {
		t.Fatalf("expected one record with 2 chains, got %+v", got)
	}
	if got[0].Chains[0].Name != "Alpha" || got[0].Chains[1].Name != "Mid" {
		t.Errorf("expected [Alpha Mid], got [%s %s]", got[0].Chains[0].Name, got[0].Chains[1].Name)
	}
}

func TestRankChains_AveragesAcrossPharmaciesOfOneChain(t *testing.T) {
	cs := []claims.Claim{
		claim("c1", "cvs-1", "d1", "10", 1), // CVS unit 10
		claim("c2", "cvs-2", "d1", "2", 1),  // CVS unit 2 -> avg 6
		claim("c3", "wag-1", "d1", "7", 1),  // Walgreens 7
		claim("c4", "rite-1", "d1", "20", 1),
	}
	idx := BuildIndex([]claims.Pharmacy{
		{NPI: "cvs-1", Chain: "CVS"},
		{NPI: "cvs-2", Chain: "CVS"},
		{NPI: "wag-1", Chain: "Walgreens"},
		{NPI: "rite-1", Chain: "Rite Aid"},
	}, nil)

	got, err := RankChains(context.Background(), cs, idx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	chains := got[0].Chains
	if chains[0].Name != "CVS" || !chains[0].AvgPrice.Equal(dec("6")) {
		t.Errorf("expected CVS@6 first, got %s@%s", chains[0].Name, chains[0].AvgPrice)
	}
	if chains[1].Name != "Walgreens" || !chains[1].AvgPrice.Equal(dec("7")) {
		t.Errorf("expected Walgreens@7 second, got %s@%s", chains[1].Name, chains[1].AvgPrice)
	}
}

func TestRankChains_SkipsUnresolvedAndSingleChain(t *testing.T) {
	cs := []claims.Claim{
		claim("c1", "known", "d1", "4", 2),
		claim("c2", "unknown", "d1", "1", 1),
		claim("c3", "unknown", "d2", "1", 1),
	}
	idx := BuildIndex([]claims.Pharmacy{{NPI: "known", Chain: "CVS"}}, nil)

	got, err := RankChains(context.Background(), cs, idx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only d1 (d2 has no resolvable claim), got %+v", got)
	}
	if got[0].NDC != "d1" || len(got[0].Chains) != 1 {
		t.Errorf("expected d1 with exactly one chain, got %+v", got[0])
	}
	if !got[0].Chains[0].AvgPrice.Equal(dec("2")) {
		t.Errorf("unresolved claims must not affect the average, got %s", got[0].Chains[0].AvgPrice)
	}
}

func TestRankChains_TopN(t *testing.T) {
	cs := []claims.Claim{
		claim("c1", "a", "d1", "1", 1),
		claim("c2", "b", "d1", "2", 1),
		claim("c3", "c", "d1", "3", 1),
	}
	idx := BuildIndex([]claims.Pharmacy{{NPI: "a", Chain: "A"}, {NPI: "b", Chain: "B"}, {NPI: "c", Chain: "C"}}, nil)

	got, err := RankChains(context.Background(), cs, idx, Options{TopN: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0].Chains) != 3 {
		t.Errorf("expected 3 chains with TopN=3, got %d", len(got[0].Chains))
	}
}

func TestRankChains_Ordering(t *testing.T) {
	in := buildDataset(1000)
	idx := BuildIndex(in.Pharmacies, in.Reverts)

	got, err := RankChains(context.Background(), in.Claims, idx, Options{Shards: 4})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range got {
		if len(r.Chains) == 0 || len(r.Chains) > DefaultTopN {
			t.Errorf("%s: expected 1..%d chains, got %d", r.NDC, DefaultTopN, len(r.Chains))
		}
		if len(r.Chains) == 2 && r.Chains[0].AvgPrice.GreaterThan(r.Chains[1].AvgPrice) {
			t.Errorf("%s: chains not cheapest first: %+v", r.NDC, r.Chains)
		}
	}
}

func TestQuantityModes_ScenarioD(t *testing.T) {
	tests := []struct {
		name       string
		quantities []int64
		want       []int64
	}{
		{name: "single mode", quantities: []int64{30, 30, 60}, want: []int64{30}},
		{name: "tie kept", quantities: []int64{30, 30, 60, 60}, want: []int64{30, 60}},
		{name: "ascending order", quantities: []int64{90, 10, 90, 10, 5}, want: []int64{10, 90}},
		{name: "all distinct", quantities: []int64{3, 1, 2}, want: []int64{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cs []claims.Claim
			for i, q := range tt.quantities {
				cs = append(cs, claim(string(rune('a'+i)), "n1", "d1", "10", q))
			}

			got, err := QuantityModes(context.Background(), cs, Options{})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 {
				t.Fatalf("expected 1 record, got %d", len(got))
			}
			if !reflect.DeepEqual(got[0].Quantities, tt.want) {
				t.Errorf("got %v, want %v", got[0].Quantities, tt.want)
			}
		})
	}
}

func TestQuantityModes_RejectsNonPositiveQuantity(t *testing.T) {
	for _, q := range []int64{0, -30} {
		cs := []claims.Claim{
			claim("a", "n1", "d1", "10", 30),
			claim("bad", "n1", "d1", "10", q),
		}
		for _, shards := range []int{1, 2} {
			_, err := QuantityModes(context.Background(), cs, Options{Shards: shards})
			var ire *claims.InvalidRecordError
			if !errors.As(err, &ire) || ire.ID != "bad" || ire.Field != "quantity" {
				t.Errorf("quantity %d, shards %d: expected invalid quantity on claim bad, got %v", q, shards, err)
			}
		}
	}
}

func TestQuantityModes_Properties(t *testing.T) {
	in := buildDataset(1000)

	got, err := QuantityModes(context.Background(), in.Claims, Options{Shards: 5})
	if err != nil {
		t.Fatal(err)
	}

	freq := map[string]map[int64]int{}
	for _, c := range in.Claims {
		if freq[c.NDC] == nil {
			freq[c.NDC] = map[int64]int{}
		}
		freq[c.NDC][c.Quantity]++
	}
	if len(got) != len(freq) {
		t.Fatalf("expected %d records, got %d", len(freq), len(got))
	}

	for _, r := range got {
		best := 0
		for _, n := range freq[r.NDC] {
			if n > best {
				best = n
			}
		}
		for i, q := range r.Quantities {
			if freq[r.NDC][q] != best {
				t.Errorf("%s: quantity %d has frequency %d, max is %d", r.NDC, q, freq[r.NDC][q], best)
			}
			if i > 0 && r.Quantities[i-1] >= q {
				t.Errorf("%s: quantities not strictly ascending: %v", r.NDC, r.Quantities)
			}
		}
	}
}
