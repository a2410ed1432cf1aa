package output

import (
	"fmt"
	"io"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/parquet-go/parquet-go"
)

// MetricsParquet is one metrics row. Money columns hold values rounded to
// two places.
type MetricsParquet struct {
	NPI        string  `parquet:"npi"`
	NDC        string  `parquet:"ndc"`
	Fills      int64   `parquet:"fills"`
	Reverted   int64   `parquet:"reverted"`
	AvgPrice   float64 `parquet:"avg_price"`
	TotalPrice float64 `parquet:"total_price"`
}

// ChainRankParquet flattens a chain ranking to one row per (ndc, rank).
// Rank starts at 1 for the cheapest chain.
type ChainRankParquet struct {
	NDC      string  `parquet:"ndc"`
	Rank     int32   `parquet:"rank"`
	Chain    string  `parquet:"chain"`
	AvgPrice float64 `parquet:"avg_price"`
}

// QuantityModeParquet is one row per ndc with its tied modes.
type QuantityModeParquet struct {
	NDC                    string  `parquet:"ndc"`
	MostPrescribedQuantity []int64 `parquet:"most_prescribed_quantity,list"`
}

const parquetFlushInterval = 100_000

// writeParquet writes rows with Snappy compression, flushing a row group
// every parquetFlushInterval rows.
func writeParquet[T any](w io.Writer, rows []T) error {
	writer := parquet.NewGenericWriter[T](w,
		parquet.Compression(&parquet.Snappy),
	)

	for start := 0; start < len(rows); start += parquetFlushInterval {
		end := min(start+parquetFlushInterval, len(rows))
		if _, err := writer.Write(rows[start:end]); err != nil {
			return fmt.Errorf("failed to write parquet records: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush parquet row group: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

func metricsRows(recs []claims.MetricsRecord) []MetricsParquet {
	rows := make([]MetricsParquet, 0, len(recs))
	for _, m := range recs {
		rows = append(rows, MetricsParquet{
			NPI:        m.NPI,
			NDC:        m.NDC,
			Fills:      int64(m.Fills),
			Reverted:   int64(m.Reverted),
			AvgPrice:   Money(m.AvgPrice).InexactFloat64(),
			TotalPrice: Money(m.TotalPrice).InexactFloat64(),
		})
	}
	return rows
}

func chainRows(recs []claims.ChainRankRecord) []ChainRankParquet {
	var rows []ChainRankParquet
	for _, r := range recs {
		for i, c := range r.Chains {
			rows = append(rows, ChainRankParquet{
				NDC:      r.NDC,
				Rank:     int32(i + 1),
				Chain:    c.Name,
				AvgPrice: Money(c.AvgPrice).InexactFloat64(),
			})
		}
	}
	return rows
}

func quantityRows(recs []claims.QuantityModeRecord) []QuantityModeParquet {
	rows := make([]QuantityModeParquet, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, QuantityModeParquet{NDC: r.NDC, MostPrescribedQuantity: r.Quantities})
	}
	return rows
}
