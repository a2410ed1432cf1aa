// Package output persists engine reports as JSON or Parquet artifacts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/gyeh/pharmacy-claims/internal/engine"
	"github.com/shopspring/decimal"
)

// Format selects the artifact encoding.
type Format string

// Supported formats; the value doubles as the file extension.
const (
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// Artifact base names, without extension.
const (
	MetricsName  = "metrics_by_npi_ndc"
	ChainsName   = "top2_chains_per_ndc"
	QuantityName = "most_common_quantity_per_ndc"
)

// moneyPlaces is the number of decimal places emitted for monetary values.
const moneyPlaces = 2

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatParquet:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json or parquet)", s)
}

// Write persists the three reports to dir and returns the written paths.
// Every artifact is staged to a temp file first; nothing is renamed into place
// unless all three encoded successfully. If a rename fails, the artifacts
// already moved into place are removed along with the remaining temp files.
func Write(dir string, format Format, r *engine.Reports) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	type artifact struct {
		name   string
		encode func(io.Writer) error
	}
	var artifacts []artifact
	switch format {
	case FormatJSON:
		artifacts = []artifact{
			{MetricsName, func(w io.Writer) error { return encodeJSON(w, metricsJSON(r.Metrics)) }},
			{ChainsName, func(w io.Writer) error { return encodeJSON(w, chainsJSON(r.TopChains)) }},
			{QuantityName, func(w io.Writer) error { return encodeJSON(w, quantityJSON(r.QuantityModes)) }},
		}
	case FormatParquet:
		artifacts = []artifact{
			{MetricsName, func(w io.Writer) error { return writeParquet(w, metricsRows(r.Metrics)) }},
			{ChainsName, func(w io.Writer) error { return writeParquet(w, chainRows(r.TopChains)) }},
			{QuantityName, func(w io.Writer) error { return writeParquet(w, quantityRows(r.QuantityModes)) }},
		}
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}

	var staged []string
	cleanup := func() {
		for _, p := range staged {
			os.Remove(p)
		}
	}

	for _, a := range artifacts {
		tmp, err := stage(dir, a.name, a.encode)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("writing %s: %w", a.name, err)
		}
		staged = append(staged, tmp)
	}

	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = filepath.Join(dir, a.name+"."+string(format))
		if err := os.Rename(staged[i], paths[i]); err != nil {
			for _, p := range paths[:i] {
				os.Remove(p)
			}
			staged = staged[i:]
			cleanup()
			return nil, fmt.Errorf("renaming %s: %w", paths[i], err)
		}
	}
	return paths, nil
}

// stage encodes into a hidden temp file in dir and returns its path.
func stage(dir, name string, encode func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return "", err
	}
	if err := encode(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	return nil
}

// Money rounds d half away from zero to two places for emission.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func moneyJSON(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(moneyPlaces))
}

type metricsRecordJSON struct {
	NPI        string      `json:"npi"`
	NDC        string      `json:"ndc"`
	Fills      int         `json:"fills"`
	Reverted   int         `json:"reverted"`
	AvgPrice   json.Number `json:"avg_price"`
	TotalPrice json.Number `json:"total_price"`
}

type chainPriceJSON struct {
	Name     string      `json:"name"`
	AvgPrice json.Number `json:"avg_price"`
}

type chainRankJSON struct {
	NDC   string           `json:"ndc"`
	Chain []chainPriceJSON `json:"chain"`
}

type quantityModeJSON struct {
	NDC                    string  `json:"ndc"`
	MostPrescribedQuantity []int64 `json:"most_prescribed_quantity"`
}

func metricsJSON(recs []claims.MetricsRecord) []metricsRecordJSON {
	out := make([]metricsRecordJSON, 0, len(recs))
	for _, m := range recs {
		out = append(out, metricsRecordJSON{
			NPI:        m.NPI,
			NDC:        m.NDC,
			Fills:      m.Fills,
			Reverted:   m.Reverted,
			AvgPrice:   moneyJSON(m.AvgPrice),
			TotalPrice: moneyJSON(m.TotalPrice),
		})
	}
	return out
}

func chainsJSON(recs []claims.ChainRankRecord) []chainRankJSON {
	out := make([]chainRankJSON, 0, len(recs))
	for _, r := range recs {
		chains := make([]chainPriceJSON, 0, len(r.Chains))
		for _, c := range r.Chains {
			chains = append(chains, chainPriceJSON{Name: c.Name, AvgPrice: moneyJSON(c.AvgPrice)})
		}
		out = append(out, chainRankJSON{NDC: r.NDC, Chain: chains})
	}
	return out
}

func quantityJSON(recs []claims.QuantityModeRecord) []quantityModeJSON {
	out := make([]quantityModeJSON, 0, len(recs))
	for _, r := range recs {
		qs := r.Quantities
		if qs == nil {
			qs = []int64{}
		}
		out = append(out, quantityModeJSON{NDC: r.NDC, MostPrescribedQuantity: qs})
	}
	return out
}
