package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/speechcoach/internal/analytics"
	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/speech"
)

type mockSummarizer struct {
	summary *analytics.Summary
	err     error
}

func (m *mockSummarizer) Summarize(ctx context.Context, userID string) (*analytics.Summary, error) {
	return m.summary, m.err
}

type mockLister struct {
	listFn func(ctx context.Context, params speech.ListParams) (*speech.Page, error)
}

func (m *mockLister) List(ctx context.Context, params speech.ListParams) (*speech.Page, error) {
	return m.listFn(ctx, params)
}

func TestWriteReport(t *testing.T) {
	improvement := 25.0
	score := 0.9
	stats := &mockSummarizer{summary: &analytics.Summary{
		TotalSessions:     1200,
		TotalDuration:     3725,
		AverageDuration:   3.1,
		TotalFillerWords:  15000,
		AverageFillerRate: 2.5,
		SessionsByStatus:  map[model.SessionStatus]int{model.SessionStatusAnalyzed: 1000, model.SessionStatusPending: 200},
		ImprovementMetrics: analytics.ImprovementMetrics{
			FillerImprovementPercent: &improvement,
		},
	}}
	sessions := &mockLister{listFn: func(ctx context.Context, params speech.ListParams) (*speech.Page, error) {
		if params.Filter.UserID != "user-1" || params.PageSize != 3 || params.Page != 1 {
			t.Errorf("params = %+v", params)
		}
		if params.Ordering != model.DefaultSessionOrdering {
			t.Errorf("report should list the most recent sessions first")
		}
		return &speech.Page{Sessions: []*model.SpeechSession{{
			ID:              "s-1",
			Date:            time.Now().Add(-2 * time.Hour),
			Duration:        125,
			FillerCount:     4,
			ConfidenceScore: &score,
			Status:          model.SessionStatusAnalyzed,
		}}}, nil
	}}

	var buf bytes.Buffer
	if err := writeReport(context.Background(), &buf, stats, sessions, "user-1", 3); err != nil {
		t.Fatalf("writeReport failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"1,200", "15,000", "1h 2m 5s", "25.00%", "s-1", "2:05", "90%", "2 hours ago", "Analyzed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report should contain %q:\n%s", want, out)
		}
	}
}

func TestWriteReport_NoSessions(t *testing.T) {
	stats := &mockSummarizer{summary: analytics.Empty()}
	sessions := &mockLister{listFn: func(ctx context.Context, params speech.ListParams) (*speech.Page, error) {
		if params.PageSize != defaultReportLimit {
			t.Errorf("PageSize = %d, want default %d", params.PageSize, defaultReportLimit)
		}
		return &speech.Page{Number: 1, NumPages: 1}, nil
	}}

	var buf bytes.Buffer
	if err := writeReport(context.Background(), &buf, stats, sessions, "user-1", 0); err != nil {
		t.Fatalf("writeReport failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No sessions recorded") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestWriteReport_Error(t *testing.T) {
	dbErr := errors.New("connection reset")
	stats := &mockSummarizer{err: dbErr}

	err := writeReport(context.Background(), &bytes.Buffer{}, stats, &mockLister{}, "user-1", 1)
	if !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapped %v", err, dbErr)
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := map[int64]string{
		0:    "0s",
		59:   "59s",
		61:   "1m 1s",
		3725: "1h 2m 5s",
	}
	for in, want := range tests {
		if got := formatSeconds(in); got != want {
			t.Errorf("formatSeconds(%d) = %q, want %q", in, got, want)
		}
	}
}
