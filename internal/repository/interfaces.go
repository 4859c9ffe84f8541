// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/speechcoach/internal/model"
)

// ErrNotFound は更新・削除対象の行が存在しない（または所有者が異なる）場合に返す。
var ErrNotFound = errors.New("record not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// LoginSessionRepository はログインセッションの永続化インターフェース。
// セッションの発行はログインフロー側が担い、ここでは参照と期限切れ削除のみを扱う。
type LoginSessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.LoginSession, error)

	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// SpeechSessionRepository はスピーチセッションの永続化インターフェース。
// 全ての操作は所有者のユーザーIDでスコープされる。
type SpeechSessionRepository interface {
	// FindByIDForUser は指定ユーザーが所有するセッションを取得する。
	// 存在しない場合、または他ユーザーのセッションの場合はnilを返す。
	FindByIDForUser(ctx context.Context, userID, id string) (*model.SpeechSession, error)

	// List は絞り込み条件に一致するセッションを指定順で取得する。
	// limitが0以下の場合は全件を返す。
	List(ctx context.Context, filter model.SessionFilter, ordering model.SessionOrdering, limit, offset int) ([]*model.SpeechSession, error)

	// Count は絞り込み条件に一致するセッション数を返す。
	Count(ctx context.Context, filter model.SessionFilter) (int, error)

	// CountByStatus はユーザーのセッション数をステータス別に返す。
	// 1件も存在しないステータスはマップに含まれない。
	CountByStatus(ctx context.Context, userID string) (map[model.SessionStatus]int, error)

	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.SpeechSession) error

	// Update はセッションの可変フィールドを上書き更新する。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, session *model.SpeechSession) error

	// Delete は指定ユーザーが所有するセッションを削除する。
	// 対象が存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, userID, id string) error

	// BulkUpdate は指定ユーザーが所有するセッション群に同一のパッチを1文で適用し、更新件数を返す。
	BulkUpdate(ctx context.Context, userID string, ids []string, patch model.SessionPatch) (int64, error)

	// BulkDelete は指定ユーザーが所有するセッション群を1文で削除し、削除件数を返す。
	BulkDelete(ctx context.Context, userID string, ids []string) (int64, error)

	// Aggregates はユーザーの統計値を1回のクエリで集計する。
	Aggregates(ctx context.Context, userID string, windows AggregateWindows) (*SessionAggregates, error)
}

// AggregateWindows は改善率算出に使う期間の境界を表す。
// 直近期間は [RecentFrom, ∞)、前期間は [PreviousFrom, RecentFrom)。
type AggregateWindows struct {
	RecentFrom   time.Time
	PreviousFrom time.Time
}

// SessionAggregates はユーザー単位の集計結果。
type SessionAggregates struct {
	TotalSessions       int
	TotalDuration       int64
	AnalyzedFillerWords int64 // status = analyzed のみ
	AnalyzedDuration    int64 // status = analyzed のみ
	RecentSessions      int
	RecentFillerSum     int64 // 全ステータス
	PreviousSessions    int
	PreviousFillerSum   int64 // 全ステータス
}
