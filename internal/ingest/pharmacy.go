package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gyeh/pharmacy-claims/internal/claims"
)

// LoadStats counts what a loader saw.
type LoadStats struct {
	Files      int
	Rows       int // records read, valid or not
	Valid      int
	Skipped    int // blank pharmacy rows
	Duplicates int // records replaced by a later record with the same key
}

// Add accumulates o into s.
func (s *LoadStats) Add(o LoadStats) {
	s.Files += o.Files
	s.Rows += o.Rows
	s.Valid += o.Valid
	s.Skipped += o.Skipped
	s.Duplicates += o.Duplicates
}

// LoadPharmacies reads the pharmacy reference CSV. The npi column may be named
// "npi" or "id"; the chain column is "chain". Header matching ignores case and
// surrounding spaces. Rows with a blank npi or chain are skipped. Rows are
// returned in file order; duplicates are left for the join index to resolve.
func LoadPharmacies(src Source, onProgress ProgressFunc) ([]claims.Pharmacy, LoadStats, error) {
	stats := LoadStats{Files: 1}

	rc, err := Open(src.Path, onProgress)
	if err != nil {
		return nil, stats, fmt.Errorf("open %s: %w", src.Path, err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, fmt.Errorf("%s: CSV has no header", src.Path)
	}
	if err != nil {
		return nil, stats, fmt.Errorf("%s: read header: %w", src.Path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := colIdx[key]; !ok {
			colIdx[key] = i
		}
	}

	npiCol, ok := colIdx["npi"]
	if !ok {
		npiCol, ok = colIdx["id"]
	}
	if !ok {
		return nil, stats, fmt.Errorf("%s: missing npi (or id) column in header %v", src.Path, header)
	}
	chainCol, ok := colIdx["chain"]
	if !ok {
		return nil, stats, fmt.Errorf("%s: missing chain column in header %v", src.Path, header)
	}

	seen := make(map[string]struct{})
	var pharmacies []claims.Pharmacy
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("%s: %w", src.Path, err)
		}
		stats.Rows++

		npi := field(row, npiCol)
		chain := field(row, chainCol)
		if npi == "" || chain == "" {
			stats.Skipped++
			continue
		}

		if _, dup := seen[npi]; dup {
			stats.Duplicates++
		}
		seen[npi] = struct{}{}

		pharmacies = append(pharmacies, claims.Pharmacy{NPI: npi, Chain: chain})
		stats.Valid++
	}

	return pharmacies, stats, nil
}

func field(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
