package engine

import "github.com/gyeh/pharmacy-claims/internal/claims"

// IndexStats describes how the join index absorbed its inputs.
type IndexStats struct {
	Pharmacies          int // distinct npis
	DuplicatePharmacies int // rows overwritten by a later row with the same npi
	Reverts             int // revert events seen
	RevertedClaims      int // distinct claim ids referenced by reverts
}

// JoinIndex holds the lookups shared by all reducers. It is never mutated
// after BuildIndex returns, so reducers may read it concurrently.
type JoinIndex struct {
	pharmacyByNPI map[string]claims.Pharmacy
	reverted      map[string]struct{}
	stats         IndexStats
}

// BuildIndex builds pharmacy-by-npi (last row wins) and the set of reverted
// claim ids. Reverts for unknown claims are kept in the set; they never match
// a claim so they have no effect on any report.
func BuildIndex(pharmacies []claims.Pharmacy, reverts []claims.Revert) *JoinIndex {
	idx := &JoinIndex{
		pharmacyByNPI: make(map[string]claims.Pharmacy, len(pharmacies)),
		reverted:      make(map[string]struct{}, len(reverts)),
	}

	for _, p := range pharmacies {
		if _, ok := idx.pharmacyByNPI[p.NPI]; ok {
			idx.stats.DuplicatePharmacies++
		}
		idx.pharmacyByNPI[p.NPI] = p
	}

	for _, r := range reverts {
		idx.reverted[r.ClaimID] = struct{}{}
	}

	idx.stats.Pharmacies = len(idx.pharmacyByNPI)
	idx.stats.Reverts = len(reverts)
	idx.stats.RevertedClaims = len(idx.reverted)
	return idx
}

// Pharmacy resolves an npi to its pharmacy.
func (x *JoinIndex) Pharmacy(npi string) (claims.Pharmacy, bool) {
	p, ok := x.pharmacyByNPI[npi]
	return p, ok
}

// IsReverted reports whether at least one revert references claimID.
func (x *JoinIndex) IsReverted(claimID string) bool {
	_, ok := x.reverted[claimID]
	return ok
}

// Stats returns counters gathered while building the index.
func (x *JoinIndex) Stats() IndexStats {
	return x.stats
}

// DanglingReverts counts reverted claim ids with no matching claim in cs.
func (x *JoinIndex) DanglingReverts(cs []claims.Claim) int {
	if len(x.reverted) == 0 {
		return 0
	}
	known := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		known[c.ID] = struct{}{}
	}
	n := 0
	for id := range x.reverted {
		if _, ok := known[id]; !ok {
			n++
		}
	}
	return n
}
