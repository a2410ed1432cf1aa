package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/gyeh/pharmacy-claims/internal/engine"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testReports() *engine.Reports {
	return &engine.Reports{
		Metrics: []claims.MetricsRecord{
			{NPI: "111", NDC: "d1", Fills: 3, Reverted: 1, AvgPrice: dec("3.3333333333"), TotalPrice: dec("10.005")},
			{NPI: "222", NDC: "d1", Fills: 1, Reverted: 0, AvgPrice: dec("-2.345"), TotalPrice: dec("7")},
		},
		TopChains: []claims.ChainRankRecord{
			{NDC: "d1", Chains: []claims.ChainPrice{
				{Name: "CVS", AvgPrice: dec("1.115")},
				{Name: "Walgreens", AvgPrice: dec("2")},
			}},
		},
		QuantityModes: []claims.QuantityModeRecord{
			{NDC: "d1", Quantities: []int64{30, 90}},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "parquet"} {
		if f, err := ParseFormat(s); err != nil || string(f) != s {
			t.Errorf("ParseFormat(%q) = %q, %v", s, f, err)
		}
	}
	if _, err := ParseFormat("csv"); err == nil {
		t.Error("expected error for csv")
	}
}

func TestMoney_RoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"-2.345", "-2.35"},
		{"3.3333333", "3.33"},
	}
	for _, tt := range tests {
		if got := Money(dec(tt.in)); !got.Equal(dec(tt.want)) {
			t.Errorf("Money(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWrite_JSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := Write(dir, FormatJSON, testReports())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(dir, "metrics_by_npi_ndc.json"),
		filepath.Join(dir, "top2_chains_per_ndc.json"),
		filepath.Join(dir, "most_common_quantity_per_ndc.json"),
	}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected paths %v", paths)
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"avg_price": 3.33`) || !strings.Contains(string(data), `"total_price": 10.01`) {
		t.Errorf("expected rounded money values, got:\n%s", data)
	}
	if !strings.Contains(string(data), `"total_price": 7.00`) || !strings.Contains(string(data), `"avg_price": -2.35`) {
		t.Errorf("expected fixed two-place values, got:\n%s", data)
	}

	var metrics []map[string]any
	if err := json.Unmarshal(data, &metrics); err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 2 || metrics[0]["npi"] != "111" || metrics[0]["fills"] != float64(3) || metrics[0]["reverted"] != float64(1) {
		t.Errorf("unexpected metrics %v", metrics)
	}

	data, err = os.ReadFile(paths[1])
	if err != nil {
		t.Fatal(err)
	}
	var chains []struct {
		NDC   string `json:"ndc"`
		Chain []struct {
			Name     string  `json:"name"`
			AvgPrice float64 `json:"avg_price"`
		} `json:"chain"`
	}
	if err := json.Unmarshal(data, &chains); err != nil {
		t.Fatal(err)
	}
	if len(chains) != 1 || len(chains[0].Chain) != 2 || chains[0].Chain[0].Name != "CVS" || chains[0].Chain[0].AvgPrice != 1.12 {
		t.Errorf("unexpected chains %+v", chains)
	}

	data, err = os.ReadFile(paths[2])
	if err != nil {
		t.Fatal(err)
	}
	var modes []struct {
		NDC string  `json:"ndc"`
		Qty []int64 `json:"most_prescribed_quantity"`
	}
	if err := json.Unmarshal(data, &modes); err != nil {
		t.Fatal(err)
	}
	if len(modes) != 1 || len(modes[0].Qty) != 2 || modes[0].Qty[0] != 30 || modes[0].Qty[1] != 90 {
		t.Errorf("unexpected modes %+v", modes)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("expected only the 3 artifacts, found %d entries", len(entries))
	}
}

func TestWrite_EmptyReportsAreEmptyArrays(t *testing.T) {
	dir := t.TempDir()
	paths, err := Write(dir, FormatJSON, &engine.Reports{})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(string(data)) != "[]" {
			t.Errorf("%s: expected [], got %s", filepath.Base(p), data)
		}
	}
}

func TestWrite_Deterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	pa, err := Write(dirA, FormatJSON, testReports())
	if err != nil {
		t.Fatal(err)
	}
	pb, err := Write(dirB, FormatJSON, testReports())
	if err != nil {
		t.Fatal(err)
	}
	for i := range pa {
		a, _ := os.ReadFile(pa[i])
		b, _ := os.ReadFile(pb[i])
		if string(a) != string(b) {
			t.Errorf("%s differs between runs", filepath.Base(pa[i]))
		}
	}
}

func TestWrite_Parquet(t *testing.T) {
	dir := t.TempDir()

	paths, err := Write(dir, FormatParquet, testReports())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(paths[0]) != "metrics_by_npi_ndc.parquet" {
		t.Errorf("unexpected path %s", paths[0])
	}

	metrics, err := parquet.ReadFile[MetricsParquet](paths[0])
	if err != nil {
		t.Fatalf("Failed to read parquet file: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics rows, got %d", len(metrics))
	}
	if metrics[0].NPI != "111" || metrics[0].Fills != 3 || metrics[0].AvgPrice != 3.33 || metrics[0].TotalPrice != 10.01 {
		t.Errorf("unexpected metrics row %+v", metrics[0])
	}

	chains, err := parquet.ReadFile[ChainRankParquet](paths[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(chains) != 2 {
		t.Fatalf("expected 2 chain rows, got %d", len(chains))
	}
	if chains[0].Rank != 1 || chains[0].Chain != "CVS" || chains[1].Rank != 2 || chains[1].Chain != "Walgreens" {
		t.Errorf("unexpected chain rows %+v", chains)
	}

	modes, err := parquet.ReadFile[QuantityModeParquet](paths[2])
	if err != nil {
		t.Fatal(err)
	}
	if len(modes) != 1 || len(modes[0].MostPrescribedQuantity) != 2 || modes[0].MostPrescribedQuantity[1] != 90 {
		t.Errorf("unexpected mode rows %+v", modes)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, Format("xml"), testReports()); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected nothing written, found %d entries", len(entries))
	}
}

func TestWrite_FailedRenameLeavesNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory where the chain report belongs makes its rename fail.
	blocker := filepath.Join(dir, ChainsName+".json")
	if err := os.MkdirAll(filepath.Join(blocker, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := Write(dir, FormatJSON, testReports()); err == nil {
		t.Fatal("expected rename error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(blocker) {
			t.Errorf("unexpected leftover %s", e.Name())
		}
	}
}
