// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"math"
	"time"
)

// MaxIntegerField は duration と filler_count に格納できる最大値（PostgreSQLのINTEGER）。
const MaxIntegerField = math.MaxInt32

// SessionStatus はスピーチセッションの処理状態を表す。
// 状態遷移の制約はなく、任意の値から任意の値へ変更できる。
type SessionStatus string

const (
	// SessionStatusPending は未解析の状態。
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusAnalyzed は解析済みの状態。
	SessionStatusAnalyzed SessionStatus = "analyzed"
	// SessionStatusArchived はアーカイブ済みの状態。
	SessionStatusArchived SessionStatus = "archived"
)

// SessionStatuses は有効なステータスの一覧（表示順）。
var SessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusAnalyzed,
	SessionStatusArchived,
}

// Valid はステータスが定義済みの値かどうかを返す。
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusAnalyzed, SessionStatusArchived:
		return true
	default:
		return false
	}
}

// Display は画面表示用のラベルを返す。
func (s SessionStatus) Display() string {
	switch s {
	case SessionStatusPending:
		return "Pending"
	case SessionStatusAnalyzed:
		return "Analyzed"
	case SessionStatusArchived:
		return "Archived"
	default:
		return string(s)
	}
}

// SpeechSession は1回分の発話練習の記録を表す。
// UserIDは作成時に一度だけ設定され、全ての参照・更新はUserIDでスコープされる。
type SpeechSession struct {
	ID              string
	UserID          string
	UserEmail       string // usersテーブルとのJOINで取得（読み取り専用）
	Date            time.Time
	Duration        int // 秒
	FillerCount     int
	PacingAnalysis  string
	Transcription   string
	ConfidenceScore *float64 // 未設定はnil、設定時は0.0-1.0
	Status          SessionStatus
	AudioFile       string // media.Store上の相対パス。未添付は空文字列
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasAudio は音声ファイルが添付されているかを返す。
func (s *SpeechSession) HasAudio() bool {
	return s.AudioFile != ""
}

// DurationMinutes は長さを "分:秒" 形式で返す（例: 125秒 → "2:05"）。
func (s *SpeechSession) DurationMinutes() string {
	return fmt.Sprintf("%d:%02d", s.Duration/60, s.Duration%60)
}

// FillerRate は1分あたりのフィラー数を返す。長さが0の場合は0を返す。
func (s *SpeechSession) FillerRate() float64 {
	if s.Duration == 0 {
		return 0
	}
	return float64(s.FillerCount) / float64(s.Duration) * 60
}

// SessionPatch はスピーチセッションの部分更新内容を表す。
// nilフィールドは変更しない。
// ConfidenceSetがtrueの場合のみConfidenceScoreを反映する（nilはNULLへの更新）。
type SessionPatch struct {
	Duration        *int
	FillerCount     *int
	PacingAnalysis  *string
	Transcription   *string
	Status          *SessionStatus
	ConfidenceSet   bool
	ConfidenceScore *float64
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (p SessionPatch) IsEmpty() bool {
	return p.Duration == nil && p.FillerCount == nil && p.PacingAnalysis == nil &&
		p.Transcription == nil && p.Status == nil && !p.ConfidenceSet
}

// Apply はパッチの内容をセッションに反映する。
func (p SessionPatch) Apply(s *SpeechSession) {
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.FillerCount != nil {
		s.FillerCount = *p.FillerCount
	}
	if p.PacingAnalysis != nil {
		s.PacingAnalysis = *p.PacingAnalysis
	}
	if p.Transcription != nil {
		s.Transcription = *p.Transcription
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ConfidenceSet {
		s.ConfidenceScore = p.ConfidenceScore
	}
}

// SessionFilter はスピーチセッション一覧の絞り込み条件を表す。
// UserIDは必須で、他の条件はゼロ値の場合は適用しない。
type SessionFilter struct {
	UserID   string
	Status   SessionStatus
	DateFrom *time.Time // 日単位、両端を含む
	DateTo   *time.Time // 日単位、両端を含む
	Search   string     // transcription または pacing_analysis の部分一致（大文字小文字を区別しない）
}

// SessionOrderField は一覧の並び替えに使用できる列。
type SessionOrderField string

const (
	OrderByDate            SessionOrderField = "date"
	OrderByDuration        SessionOrderField = "duration"
	OrderByFillerCount     SessionOrderField = "filler_count"
	OrderByConfidenceScore SessionOrderField = "confidence_score"
)

// SessionOrdering は一覧の並び順を表す。
type SessionOrdering struct {
	Field SessionOrderField
	Desc  bool
}

// DefaultSessionOrdering は日付の降順。
var DefaultSessionOrdering = SessionOrdering{Field: OrderByDate, Desc: true}

// BulkAction は一括操作の種類を表す。
type BulkAction string

const (
	BulkActionDelete       BulkAction = "delete"
	BulkActionArchive      BulkAction = "archive"
	BulkActionMarkAnalyzed BulkAction = "mark_analyzed"
)

// Valid は一括操作が定義済みの値かどうかを返す。
func (a BulkAction) Valid() bool {
	switch a {
	case BulkActionDelete, BulkActionArchive, BulkActionMarkAnalyzed:
		return true
	default:
		return false
	}
}
