package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/hitoshi/speechcoach/internal/analytics"
	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/speech"
)

// defaultReportLimit はreportコマンドで表示する直近セッションの既定件数。
const defaultReportLimit = 10

type summarizer interface {
	Summarize(ctx context.Context, userID string) (*analytics.Summary, error)
}

type sessionLister interface {
	List(ctx context.Context, params speech.ListParams) (*speech.Page, error)
}

// writeReport はユーザーの統計と直近のセッションを表形式でwに書き出す。
func writeReport(ctx context.Context, w io.Writer, stats summarizer, sessions sessionLister, userID string, limit int) error {
	if limit <= 0 {
		limit = defaultReportLimit
	}

	summary, err := stats.Summarize(ctx, userID)
	if err != nil {
		return fmt.Errorf("summarize sessions: %w", err)
	}

	page, err := sessions.List(ctx, speech.ListParams{
		Filter:   model.SessionFilter{UserID: userID},
		Ordering: model.DefaultSessionOrdering,
		Page:     1,
		PageSize: limit,
	})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	fmt.Fprintln(w, renderSummaryTable(summary))
	fmt.Fprintln(w)
	if len(page.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded")
		return nil
	}
	fmt.Fprintln(w, renderSessionTable(page.Sessions, time.Now()))
	return nil
}

func renderSummaryTable(s *analytics.Summary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Speech Analytics")

	tw.AppendRow(table.Row{"Total sessions", humanize.Comma(int64(s.TotalSessions))})
	tw.AppendRow(table.Row{"Total duration", formatSeconds(s.TotalDuration)})
	tw.AppendRow(table.Row{"Average duration", humanize.FormatFloat("#,###.##", s.AverageDuration) + "s"})
	tw.AppendRow(table.Row{"Filler words (analyzed)", humanize.Comma(s.TotalFillerWords)})
	tw.AppendRow(table.Row{"Fillers per minute", humanize.FormatFloat("#,###.##", s.AverageFillerRate)})
	tw.AppendRow(table.Row{"Sessions in last 30 days", humanize.Comma(int64(s.RecentSessionsCount))})
	for _, status := range model.SessionStatuses {
		tw.AppendRow(table.Row{status.Display(), humanize.Comma(int64(s.SessionsByStatus[status]))})
	}
	if p := s.ImprovementMetrics.FillerImprovementPercent; p != nil {
		tw.AppendRow(table.Row{"Filler improvement", humanize.FormatFloat("#,###.##", *p) + "%"})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	return tw.Render()
}

func renderSessionTable(sessions []*model.SpeechSession, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Date", "Duration", "Fillers", "Confidence", "Status"})

	for _, s := range sessions {
		confidence := "-"
		if s.ConfidenceScore != nil {
			confidence = strconv.FormatFloat(*s.ConfidenceScore*100, 'f', 0, 64) + "%"
		}
		tw.AppendRow(table.Row{
			s.ID,
			humanize.RelTime(s.Date, now, "ago", "from now"),
			s.DurationMinutes(),
			s.FillerCount,
			confidence,
			s.Status.Display(),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return tw.Render()
}

// formatSeconds は秒数を "1h 2m 3s" 形式にする。
func formatSeconds(total int64) string {
	d := time.Duration(total) * time.Second
	h := int64(d.Hours())
	m := int64(d.Minutes()) % 60
	sec := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
