// Package export writes publish-history reports as xlsx files.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streamcast/internal/database"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const historySheet = "Publish History"

type Exporter struct {
	db     *database.DB
	path   string
	logger zerolog.Logger
}

func NewExporter(db *database.DB, path string, logger zerolog.Logger) *Exporter {
	return &Exporter{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// PublishHistory writes every occurrence published in [from, to) to an
// xlsx file and returns the file path.
func (e *Exporter) PublishHistory(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	occurrences, err := e.db.ListPublishedBetween(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("error listing published occurrences: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(historySheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(historySheet, "A1", fmt.Sprintf("Published: %s - %s",
		from.Format("02.01.2006"), to.Format("02.01.2006")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.MergeCell(historySheet, "A1", "H1")
	_ = f.SetCellStyle(historySheet, "A1", "A1", headerStyle)

	headers := []string{"ID", "User", "Group", "Title", "Platforms", "Scheduled For", "Retries", "Remote IDs"}
	columnStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(historySheet, cell, header)
		_ = f.SetCellStyle(historySheet, cell, cell, columnStyle)
	}

	for i, occ := range occurrences {
		row := i + 3
		_ = f.SetCellValue(historySheet, fmt.Sprintf("A%d", row), occ.ID)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("B%d", row), occ.UserID)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("C%d", row), occ.GroupID)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("D%d", row), occ.Title)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("E%d", row), strings.Join(occ.Platforms, ", "))
		_ = f.SetCellValue(historySheet, fmt.Sprintf("F%d", row), occ.ScheduledFor.Format("02.01.2006 15:04"))
		_ = f.SetCellValue(historySheet, fmt.Sprintf("G%d", row), occ.RetryCount)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("H%d", row), e.remoteIDs(ctx, occ.ID))
	}

	_ = f.SetColWidth(historySheet, "A", "A", 8)
	_ = f.SetColWidth(historySheet, "B", "C", 12)
	_ = f.SetColWidth(historySheet, "D", "D", 40)
	_ = f.SetColWidth(historySheet, "E", "E", 25)
	_ = f.SetColWidth(historySheet, "F", "F", 18)
	_ = f.SetColWidth(historySheet, "G", "G", 8)
	_ = f.SetColWidth(historySheet, "H", "H", 35)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("publish_history_%s_to_%s.xlsx",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("rows", len(occurrences)).Msg("publish history exported")
	return filePath, nil
}

func (e *Exporter) remoteIDs(ctx context.Context, occurrenceID int64) string {
	outcomes, err := e.db.ListOutcomes(ctx, occurrenceID)
	if err != nil {
		e.logger.Error().Err(err).Int64("occurrence_id", occurrenceID).Msg("error listing outcomes for export")
		return ""
	}

	var parts []string
	for _, outcome := range outcomes {
		if outcome.RemoteID != "" {
			parts = append(parts, fmt.Sprintf("%s:%s", outcome.Platform, outcome.RemoteID))
		}
	}
	return strings.Join(parts, ", ")
}
