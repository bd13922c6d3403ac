package revenue

import (
	"context"
	"fmt"
	"io"
	"time"

	goparquet "github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

// ExportRow is one line of a revenue export. Trend rows carry the bucket
// start as Key; category rows carry the category.
type ExportRow struct {
	Section     string `parquet:"section"`
	Key         string `parquet:"key"`
	RangeFrom   string `parquet:"range_from"`
	RangeTo     string `parquet:"range_to"`
	AmountPaise int64  `parquet:"amount_paise"`
	Amount      string `parquet:"amount"`
	Count       int64  `parquet:"count"`
	Department  string `parquet:"department,optional"`
}

const (
	SectionTrend    = "trend"
	SectionCategory = "category"
)

// ExportRows collects the trend and category rows for a range.
func (s *Service) ExportRows(ctx context.Context, r Range, b Bucket) ([]ExportRow, error) {
	trend, err := s.Trend(ctx, r, b)
	if err != nil {
		return nil, err
	}
	cats, err := s.ByCategory(ctx, r)
	if err != nil {
		return nil, err
	}

	from, to := r.From.UTC().Format(time.RFC3339), r.To.UTC().Format(time.RFC3339)
	rows := make([]ExportRow, 0, len(trend)+len(cats))
	for _, p := range trend {
		rows = append(rows, ExportRow{
			Section:     SectionTrend,
			Key:         p.Start.Format(time.DateOnly),
			RangeFrom:   from,
			RangeTo:     to,
			AmountPaise: paise(p.Collected),
			Amount:      p.Collected.StringFixed(2),
			Count:       int64(p.PaymentCount),
		})
	}
	for _, c := range cats {
		rows = append(rows, ExportRow{
			Section:     SectionCategory,
			Key:         string(c.Category),
			RangeFrom:   from,
			RangeTo:     to,
			AmountPaise: paise(c.Amount),
			Amount:      c.Amount.StringFixed(2),
			Count:       int64(c.ItemCount),
			Department:  DepartmentOf(c.Category),
		})
	}
	return rows, nil
}

// ExportParquet writes ExportRows to w as a single Parquet file.
func (s *Service) ExportParquet(ctx context.Context, w io.Writer, r Range, b Bucket) (int, error) {
	rows, err := s.ExportRows(ctx, r, b)
	if err != nil {
		return 0, err
	}
	writer := goparquet.NewGenericWriter[ExportRow](w)
	if _, err := writer.Write(rows); err != nil {
		return 0, fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	s.logger.Info().Int("rows", len(rows)).Str("bucket", string(b)).Msg("revenue exported")
	return len(rows), nil
}

func paise(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
