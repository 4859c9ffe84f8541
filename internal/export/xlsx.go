// Package export はスピーチセッション一覧をスプレッドシートに書き出す。
package export

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hitoshi/speechcoach/internal/model"
)

// ContentType はXLSXのMIMEタイプ。
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SheetName は出力するワークシート名。
const SheetName = "Sessions"

var headers = []string{
	"ID", "Date", "Duration (s)", "Duration", "Filler Count", "Filler Rate (/min)",
	"Confidence", "Status", "Pacing Analysis", "Transcription",
}

var colWidths = []float64{38, 18, 12, 10, 12, 16, 12, 12, 50, 60}

// Filename はダウンロード時のファイル名を返す。
func Filename(now time.Time) string {
	return fmt.Sprintf("speech_sessions_%s.xlsx", now.Format("20060102"))
}

// WriteSessions はセッション一覧を1シートのXLSXとしてwに書き出す。
// 1行目はヘッダーで、以降は渡された順に1セッション1行とする。
func WriteSessions(w io.Writer, sessions []*model.SpeechSession) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, s := range sessions {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		var confidence interface{}
		if s.ConfidenceScore != nil {
			confidence = *s.ConfidenceScore
		}
		row := []interface{}{
			s.ID,
			s.Date.UTC().Format("2006-01-02 15:04"),
			s.Duration,
			s.DurationMinutes(),
			s.FillerCount,
			roundRate(s.FillerRate()),
			confidence,
			s.Status.Display(),
			s.PacingAnalysis,
			s.Transcription,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	for i, width := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func roundRate(v float64) float64 {
	return math.Round(v*100) / 100
}
