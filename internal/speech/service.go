// Package speech はスピーチセッションの作成・参照・更新・削除と一括操作を提供する。
// 全ての操作は呼び出し元ユーザーが所有するセッションに限定される。
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/speechcoach/internal/analysis"
	"github.com/hitoshi/speechcoach/internal/media"
	"github.com/hitoshi/speechcoach/internal/metrics"
	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/repository"
	"github.com/hitoshi/speechcoach/internal/security"
)

// AudioStore は音声ファイルの保存先。
type AudioStore interface {
	Save(filename string, r io.Reader) (string, int64, error)
	Open(rel string) (*os.File, error)
	Remove(rel string) error
}

// Service はスピーチセッションのビジネスロジックを提供する。
type Service struct {
	repo      repository.SpeechSessionRepository
	analyzer  analysis.Analyzer
	audio     AudioStore
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	repo repository.SpeechSessionRepository,
	analyzer analysis.Analyzer,
	audio AudioStore,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		analyzer:  analyzer,
		audio:     audio,
		sanitizer: sanitizer,
		metrics:   mc,
		now:       time.Now,
	}
}

// List は絞り込み・並び替え・ページ分割したセッション一覧を返す。
func (s *Service) List(ctx context.Context, params ListParams) (*Page, error) {
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	count, err := s.repo.Count(ctx, params.Filter)
	if err != nil {
		return nil, err
	}

	number, numPages, offset := paginate(count, params.Page, pageSize)
	page := &Page{Count: count, Number: number, NumPages: numPages, PageSize: pageSize}
	if count == 0 {
		return page, nil
	}

	page.Sessions, err = s.repo.List(ctx, params.Filter, params.Ordering, pageSize, offset)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ListAll は絞り込み条件に一致する全セッションを返す。エクスポートで使用する。
func (s *Service) ListAll(ctx context.Context, filter model.SessionFilter, ordering model.SessionOrdering) ([]*model.SpeechSession, error) {
	return s.repo.List(ctx, filter, ordering, 0, 0)
}

// CountByStatus はユーザーのステータス別件数を返す。
func (s *Service) CountByStatus(ctx context.Context, userID string) (map[model.SessionStatus]int, error) {
	return s.repo.CountByStatus(ctx, userID)
}

// Get はユーザーが所有するセッションを返す。
// 存在しないIDと他ユーザーのIDは区別せずSESSION_NOT_FOUNDとする。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.SpeechSession, error) {
	if !isValidID(id) {
		return nil, model.NewSessionNotFoundError(id)
	}

	session, err := s.repo.FindByIDForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.NewSessionNotFoundError(id)
	}
	return session, nil
}

// AudioUpload はアップロードされた音声ファイル。
type AudioUpload struct {
	Filename string
	Body     io.Reader
}

// CreateInput はセッション作成の入力。
type CreateInput struct {
	Duration      *int
	Transcription string
	Audio         *AudioUpload
}

// Create はセッションを作成する。
// 音声ファイルが添付されている場合は保存した上で解析結果を設定する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.SpeechSession, error) {
	if in.Duration == nil {
		return nil, model.NewValidationError("duration", "This field is required.")
	}
	if err := validateDuration(*in.Duration); err != nil {
		return nil, err
	}

	now := s.now()
	session := &model.SpeechSession{
		ID:            uuid.New().String(),
		UserID:        userID,
		Date:          now,
		Duration:      *in.Duration,
		Transcription: s.sanitizer.Sanitize(in.Transcription),
		Status:        model.SessionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if in.Audio != nil {
		rel, size, err := s.audio.Save(in.Audio.Filename, in.Audio.Body)
		if err != nil {
			if errors.Is(err, media.ErrFileTooLarge) {
				return nil, model.NewInvalidAudioFileError("file exceeds the upload size limit")
			}
			return nil, err
		}
		s.metrics.RecordAudioUpload(size)
		session.AudioFile = rel
		s.analyzer.Analyze(session)
	}

	if err := s.repo.Create(ctx, session); err != nil {
		if session.HasAudio() {
			if rmErr := s.audio.Remove(session.AudioFile); rmErr != nil {
				slog.Warn("failed to remove orphaned audio file",
					slog.String("path", session.AudioFile),
					slog.String("error", rmErr.Error()),
				)
			}
		}
		return nil, err
	}

	s.metrics.RecordSessionCreated(session.HasAudio())
	slog.Info("speech session created",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
		slog.Bool("has_audio", session.HasAudio()),
	)
	return session, nil
}

// Update はセッションの可変フィールドを更新する。
// partialがfalse（PUT）の場合はdurationを必須とする。省略したフィールドは変更しない。
func (s *Service) Update(ctx context.Context, userID, id string, patch model.SessionPatch, partial bool) (*model.SpeechSession, error) {
	if !partial && patch.Duration == nil {
		return nil, model.NewValidationError("duration", "This field is required.")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	session, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	s.sanitizePatch(&patch).Apply(session)
	session.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, session); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewSessionNotFoundError(id)
		}
		return nil, err
	}
	return session, nil
}

// Delete はセッションを削除する。添付された音声ファイルは残す。
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if !isValidID(id) {
		return model.NewSessionNotFoundError(id)
	}

	if err := s.repo.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewSessionNotFoundError(id)
		}
		return err
	}

	slog.Info("speech session deleted",
		slog.String("user_id", userID),
		slog.String("session_id", id),
	)
	return nil
}

// Reanalyze は音声ファイル付きのセッションを再解析する。
// 音声ファイルがない場合はNO_AUDIO_FILEを返し、セッションは変更しない。
func (s *Service) Reanalyze(ctx context.Context, userID, id string) (*model.SpeechSession, error) {
	session, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !session.HasAudio() {
		return nil, model.NewNoAudioFileError()
	}

	s.analyzer.Reanalyze(session)
	session.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, session); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewSessionNotFoundError(id)
		}
		return nil, err
	}

	s.metrics.RecordSessionReanalyzed()
	return session, nil
}

// OpenAudio はセッションに添付された音声ファイルを開く。
// 音声ファイルがない場合もSESSION_NOT_FOUNDとする。
func (s *Service) OpenAudio(ctx context.Context, userID, id string) (*os.File, *model.SpeechSession, error) {
	session, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if !session.HasAudio() {
		return nil, nil, model.NewSessionNotFoundError(id)
	}

	f, err := s.audio.Open(session.AudioFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, model.NewSessionNotFoundError(id)
		}
		return nil, nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	return f, session, nil
}

// BulkUpdate は所有するセッション群にパッチを1文で適用し、更新件数を返す。
// 一致するセッションが1件もない場合はNO_VALID_SESSIONSを返す。
func (s *Service) BulkUpdate(ctx context.Context, userID string, req *BulkUpdateRequest) (int64, error) {
	if err := validatePatch(req.Patch); err != nil {
		return 0, err
	}

	ids := validIDs(req.SessionIDs)
	if len(ids) == 0 {
		return 0, model.NewNoValidSessionsError()
	}

	n, err := s.repo.BulkUpdate(ctx, userID, ids, *s.sanitizePatch(&req.Patch))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, model.NewNoValidSessionsError()
	}

	s.metrics.RecordBulkOperation("update", n)
	slog.Info("speech sessions bulk updated",
		slog.String("user_id", userID),
		slog.Int64("count", n),
	)
	return n, nil
}

// BulkAction は所有するセッション群に一括操作（削除・アーカイブ・解析済み化）を行う。
func (s *Service) BulkAction(ctx context.Context, userID string, req *BulkActionRequest) (int64, error) {
	ids := validIDs(req.SessionIDs)
	if len(ids) == 0 {
		return 0, model.NewNoValidSessionsError()
	}

	var n int64
	var err error
	switch req.Action {
	case model.BulkActionDelete:
		n, err = s.repo.BulkDelete(ctx, userID, ids)
	case model.BulkActionArchive:
		status := model.SessionStatusArchived
		n, err = s.repo.BulkUpdate(ctx, userID, ids, model.SessionPatch{Status: &status})
	case model.BulkActionMarkAnalyzed:
		status := model.SessionStatusAnalyzed
		n, err = s.repo.BulkUpdate(ctx, userID, ids, model.SessionPatch{Status: &status})
	default:
		return 0, model.NewInvalidBulkActionError(string(req.Action))
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, model.NewNoValidSessionsError()
	}

	s.metrics.RecordBulkOperation(string(req.Action), n)
	slog.Info("speech sessions bulk action",
		slog.String("user_id", userID),
		slog.String("action", string(req.Action)),
		slog.Int64("count", n),
	)
	return n, nil
}

// sanitizePatch は自由記述フィールドからマークアップを除去する。
func (s *Service) sanitizePatch(p *model.SessionPatch) *model.SessionPatch {
	if p.PacingAnalysis != nil {
		v := s.sanitizer.Sanitize(*p.PacingAnalysis)
		p.PacingAnalysis = &v
	}
	if p.Transcription != nil {
		v := s.sanitizer.Sanitize(*p.Transcription)
		p.Transcription = &v
	}
	return p
}

func validateDuration(d int) error {
	if d <= 0 {
		return model.NewValidationError("duration", "Duration must be greater than 0 seconds.")
	}
	if d > model.MaxIntegerField {
		return model.NewValidationError("duration", maxIntegerMessage)
	}
	return nil
}

// maxIntegerMessage はINTEGER列の上限を超えた値に対するメッセージ。
var maxIntegerMessage = fmt.Sprintf("Ensure this value is less than or equal to %d.", model.MaxIntegerField)

// validatePatch はパッチの値が不変条件を満たすかを検証する。
func validatePatch(p model.SessionPatch) error {
	if p.Duration != nil {
		if err := validateDuration(*p.Duration); err != nil {
			return err
		}
	}
	if p.FillerCount != nil {
		if *p.FillerCount < 0 {
			return model.NewValidationError("filler_count", "Ensure this value is greater than or equal to 0.")
		}
		if *p.FillerCount > model.MaxIntegerField {
			return model.NewValidationError("filler_count", maxIntegerMessage)
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return model.NewValidationError("status", fmt.Sprintf("%q is not a valid choice.", string(*p.Status)))
	}
	if p.ConfidenceSet && p.ConfidenceScore != nil {
		if v := *p.ConfidenceScore; math.IsNaN(v) || v < 0 || v > 1 {
			return model.NewValidationError("confidence_score", "Confidence score must be between 0.0 and 1.0.")
		}
	}
	return nil
}

func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// validIDs はUUIDとして解釈できるIDのみを重複なく返す。
func validIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		key := u.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
