package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

func sampleStats() domain.Stats {
	return domain.Stats{
		Total:        42,
		Today:        5,
		AvgLatencyMS: 1234.5,
		AvgRating:    4.2,
		MethodDistribution: map[string]int64{
			"hybrid":     20,
			"relational": 15,
			"semantic":   7,
		},
		Recent: []domain.StatsRecent{
			{
				QueryID:   "q1",
				Question:  "¿Cuántas víctimas hay en Antioquia?",
				Method:    "relational",
				LatencyMS: 812,
				Timestamp: time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC),
			},
		},
	}
}

func TestWriteStatsWorkbook(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteStatsWorkbook(&buf, sampleStats()); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != sheetSummary || sheets[1] != sheetRecent {
		t.Fatalf("unexpected sheets %v", sheets)
	}

	total, err := f.GetCellValue(sheetSummary, "B2")
	if err != nil {
		t.Fatal(err)
	}
	if total != "42" {
		t.Fatalf("total = %q, want 42", total)
	}

	question, err := f.GetCellValue(sheetRecent, "B2")
	if err != nil {
		t.Fatal(err)
	}
	if question != "¿Cuántas víctimas hay en Antioquia?" {
		t.Fatalf("unexpected question cell %q", question)
	}
}

func TestWriteStatsWorkbookEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteStatsWorkbook(&buf, domain.Stats{}); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	header, err := f.GetCellValue(sheetRecent, "A1")
	if err != nil {
		t.Fatal(err)
	}
	if header != "ID" {
		t.Fatalf("unexpected header %q", header)
	}
}
