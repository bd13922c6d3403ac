package revenue

import (
	"bytes"
	"io"
	"testing"

	goparquet "github.com/parquet-go/parquet-go"
)

func TestExportParquet_RoundTrip(t *testing.T) {
	repo := &mockRepo{
		categories: sampleCategories(),
		collections: []TrendPoint{
			{Start: day(2026, 3, 9), Collected: dec("1234.56"), PaymentCount: 2},
		},
	}
	svc := newTestService(repo)

	var buf bytes.Buffer
	n, err := svc.ExportParquet(t.Context(), &buf, march, BucketWeek)
	if err != nil {
		t.Fatalf("ExportParquet: %v", err)
	}
	if n != 3+4 {
		t.Fatalf("wrote %d rows, want 7", n)
	}

	reader := goparquet.NewGenericReader[ExportRow](bytes.NewReader(buf.Bytes()))
	defer reader.Close()
	rows := make([]ExportRow, reader.NumRows())
	if _, err := reader.Read(rows); err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != n {
		t.Fatalf("read %d rows, want %d", len(rows), n)
	}

	last := rows[2]
	if last.Section != SectionTrend || last.Key != "2026-03-09" || last.AmountPaise != 123456 || last.Count != 2 {
		t.Errorf("unexpected trend row %+v", last)
	}
	lab := rows[3]
	if lab.Section != SectionCategory || lab.Key != "LAB" || lab.Department != "LABORATORY" || lab.Amount != "3000.00" {
		t.Errorf("unexpected category row %+v", lab)
	}
	if lab.RangeFrom != "2026-03-01T00:00:00Z" {
		t.Errorf("range_from = %q", lab.RangeFrom)
	}
}

func TestExportParquet_InvalidBucketRange(t *testing.T) {
	var buf bytes.Buffer
	_, err := newTestService(&mockRepo{}).ExportParquet(t.Context(), &buf, Range{From: march.To, To: march.From}, BucketDay)
	if err == nil {
		t.Fatal("expected error for inverted range")
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for a failed export")
	}
}
