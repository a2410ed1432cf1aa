// Package ingest turns pharmacy CSV files and claim/revert JSON files into
// normalized in-memory records.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gyeh/pharmacy-claims/internal/claims"
)

var (
	pharmacySuffixes = []string{".csv", ".csv.gz"}
	eventSuffixes    = []string{".json", ".json.gz", ".ndjson", ".ndjson.gz", ".jsonl", ".jsonl.gz"}
)

// Source is one input file and the kind of record it holds.
type Source struct {
	Path string
	Kind claims.Kind
}

// Name returns the file's base name.
func (s Source) Name() string { return filepath.Base(s.Path) }

// Inputs lists the files discovered for one run.
type Inputs struct {
	Pharmacy Source
	Claims   []Source
	Reverts  []Source
}

// Events returns the claim sources followed by the revert sources.
func (in *Inputs) Events() []Source {
	out := make([]Source, 0, len(in.Claims)+len(in.Reverts))
	out = append(out, in.Claims...)
	return append(out, in.Reverts...)
}

// Discover checks that every directory exists and collects input files.
// Exactly one pharmacy file must exist across pharmacyDirs.
func Discover(pharmacyDirs, claimDirs, revertDirs []string) (*Inputs, error) {
	pharmacyFiles, err := findFiles(pharmacyDirs, pharmacySuffixes)
	if err != nil {
		return nil, fmt.Errorf("pharmacy dirs: %w", err)
	}
	claimFiles, err := findFiles(claimDirs, eventSuffixes)
	if err != nil {
		return nil, fmt.Errorf("claims dirs: %w", err)
	}
	revertFiles, err := findFiles(revertDirs, eventSuffixes)
	if err != nil {
		return nil, fmt.Errorf("reverts dirs: %w", err)
	}

	switch len(pharmacyFiles) {
	case 0:
		return nil, fmt.Errorf("no pharmacy CSV file found in %s", strings.Join(pharmacyDirs, ", "))
	case 1:
	default:
		return nil, fmt.Errorf("expected 1 pharmacy CSV file, found %d: %s",
			len(pharmacyFiles), strings.Join(pharmacyFiles, ", "))
	}

	in := &Inputs{Pharmacy: Source{Path: pharmacyFiles[0], Kind: claims.KindPharmacy}}
	for _, p := range claimFiles {
		in.Claims = append(in.Claims, Source{Path: p, Kind: claims.KindClaim})
	}
	for _, p := range revertFiles {
		in.Reverts = append(in.Reverts, Source{Path: p, Kind: claims.KindRevert})
	}
	return in, nil
}

// findFiles returns regular files in dirs whose names end with one of
// suffixes. Files are sorted by name within each dir; dirs keep their order.
func findFiles(dirs []string, suffixes []string) ([]string, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no directories given")
	}

	var files []string
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("directory not found: %s", dir)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", dir)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}

		var found []string
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if hasSuffix(strings.ToLower(e.Name()), suffixes) {
				found = append(found, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// isNDJSON reports whether path holds one JSON object per line.
func isNDJSON(path string) bool {
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	return strings.HasSuffix(name, ".ndjson") || strings.HasSuffix(name, ".jsonl")
}
