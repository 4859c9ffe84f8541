// Package analytics はユーザー単位のスピーチセッション統計を算出する。
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/speechcoach/internal/metrics"
	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/repository"
)

// Window は直近期間および比較対象の前期間の長さ。
const Window = 30 * 24 * time.Hour

// ImprovementMetrics は直近期間と前期間の比較結果。
// 比較できない場合は各フィールドを省略する（0とは区別する）。
type ImprovementMetrics struct {
	FillerImprovementPercent *float64 `json:"filler_improvement_percent,omitempty"`
}

// Summary はユーザーのセッション統計。
type Summary struct {
	TotalSessions       int                         `json:"total_sessions"`
	TotalDuration       int64                       `json:"total_duration"`
	AverageDuration     float64                     `json:"average_duration"`
	TotalFillerWords    int64                       `json:"total_filler_words"`
	AverageFillerRate   float64                     `json:"average_filler_rate"`
	SessionsByStatus    map[model.SessionStatus]int `json:"sessions_by_status"`
	RecentSessionsCount int                         `json:"recent_sessions_count"`
	ImprovementMetrics  ImprovementMetrics          `json:"improvement_metrics"`
}

// AnalyzedSessions は解析済みセッション数を返す。
func (s *Summary) AnalyzedSessions() int {
	return s.SessionsByStatus[model.SessionStatusAnalyzed]
}

// AverageFillersPerAnalyzed は解析済みセッション1件あたりの平均フィラー数を返す。
func (s *Summary) AverageFillersPerAnalyzed() float64 {
	n := s.AnalyzedSessions()
	if n == 0 {
		return 0
	}
	return round2(float64(s.TotalFillerWords) / float64(n))
}

// Windows はnowを基準にした集計期間の境界を返す。
func Windows(now time.Time) repository.AggregateWindows {
	return repository.AggregateWindows{
		RecentFrom:   now.Add(-Window),
		PreviousFrom: now.Add(-2 * Window),
	}
}

// Empty はセッションが1件もない場合の統計を返す。
func Empty() *Summary {
	return &Summary{SessionsByStatus: map[model.SessionStatus]int{}}
}

// Compute は集計値から統計を算出する。DBには依存しない。
// byStatusはTotalSessionsが0の場合は参照しない。
func Compute(agg *repository.SessionAggregates, byStatus map[model.SessionStatus]int) *Summary {
	if agg == nil || agg.TotalSessions == 0 {
		return Empty()
	}

	summary := &Summary{
		TotalSessions:       agg.TotalSessions,
		TotalDuration:       agg.TotalDuration,
		AverageDuration:     round2(float64(agg.TotalDuration) / float64(agg.TotalSessions)),
		TotalFillerWords:    agg.AnalyzedFillerWords,
		SessionsByStatus:    make(map[model.SessionStatus]int, len(byStatus)),
		RecentSessionsCount: agg.RecentSessions,
	}

	if agg.AnalyzedDuration > 0 {
		summary.AverageFillerRate = round2(float64(agg.AnalyzedFillerWords) / float64(agg.AnalyzedDuration) * 60)
	}

	for status, count := range byStatus {
		if count > 0 {
			summary.SessionsByStatus[status] = count
		}
	}

	if agg.TotalSessions > 1 && agg.RecentSessions > 0 && agg.PreviousSessions > 0 {
		recentAvg := float64(agg.RecentFillerSum) / float64(agg.RecentSessions)
		previousAvg := float64(agg.PreviousFillerSum) / float64(agg.PreviousSessions)
		if previousAvg > 0 {
			pct := round2((previousAvg - recentAvg) / previousAvg * 100)
			summary.ImprovementMetrics.FillerImprovementPercent = &pct
		}
	}

	return summary
}

// round2 は小数点以下2桁に丸める（0.5は0から遠い方へ）。
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Store は統計算出に必要なリポジトリ操作。
type Store interface {
	Aggregates(ctx context.Context, userID string, windows repository.AggregateWindows) (*repository.SessionAggregates, error)
	CountByStatus(ctx context.Context, userID string) (map[model.SessionStatus]int, error)
}

// Service はユーザーの統計を集計して返す。
type Service struct {
	store   Store
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService は統計サービスを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(store Store, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{store: store, metrics: mc, now: time.Now}
}

// Summarize は指定ユーザーの統計を返す。
func (s *Service) Summarize(ctx context.Context, userID string) (*Summary, error) {
	start := time.Now()
	defer func() { s.metrics.RecordAnalyticsLatency(time.Since(start)) }()

	agg, err := s.store.Aggregates(ctx, userID, Windows(s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	if agg.TotalSessions == 0 {
		return Empty(), nil
	}

	byStatus, err := s.store.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions by status: %w", err)
	}

	return Compute(agg, byStatus), nil
}
