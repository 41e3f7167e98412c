// Package report renders usage statistics as an xlsx workbook for the
// analysts who review how the query service is being used.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
)

const (
	sheetSummary = "Resumen"
	sheetRecent  = "Consultas recientes"
)

// WriteStatsWorkbook writes a two-sheet workbook: aggregate numbers plus the
// most recent queries. The writer owns nothing beyond w; closing the file
// handle is the caller's job.
func WriteStatsWorkbook(w io.Writer, stats domain.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetSummary)
	if err := writeSummary(f, stats); err != nil {
		return err
	}
	if err := writeRecent(f, stats.Recent); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write stats workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, stats domain.Stats) error {
	rows := [][]any{
		{"Métrica", "Valor"},
		{"Consultas totales", stats.Total},
		{"Consultas hoy", stats.Today},
		{"Latencia promedio (ms)", stats.AvgLatencyMS},
		{"Calificación promedio", stats.AvgRating},
	}

	methods := make([]string, 0, len(stats.MethodDistribution))
	for m := range stats.MethodDistribution {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		rows = append(rows, []any{"Método: " + m, stats.MethodDistribution[m]})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("summary cell: %w", err)
		}
		if err := f.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return fmt.Errorf("summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeRecent(f *excelize.File, recent []domain.StatsRecent) error {
	if _, err := f.NewSheet(sheetRecent); err != nil {
		return fmt.Errorf("recent sheet: %w", err)
	}

	header := []any{"ID", "Pregunta", "Método", "Latencia (ms)", "Fecha"}
	if err := f.SetSheetRow(sheetRecent, "A1", &header); err != nil {
		return fmt.Errorf("recent header: %w", err)
	}

	for i, entry := range recent {
		row := []any{
			entry.QueryID,
			entry.Question,
			entry.Method,
			entry.LatencyMS,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("recent cell: %w", err)
		}
		if err := f.SetSheetRow(sheetRecent, cell, &row); err != nil {
			return fmt.Errorf("recent row %d: %w", i+2, err)
		}
	}
	return nil
}
