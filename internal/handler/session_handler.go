package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/speechcoach/internal/analytics"
	"github.com/hitoshi/speechcoach/internal/export"
	"github.com/hitoshi/speechcoach/internal/media"
	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/speech"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
// 全ての操作はuserIDでスコープされる。
type SessionServiceInterface interface {
	List(ctx context.Context, params speech.ListParams) (*speech.Page, error)
	ListAll(ctx context.Context, filter model.SessionFilter, ordering model.SessionOrdering) ([]*model.SpeechSession, error)
	CountByStatus(ctx context.Context, userID string) (map[model.SessionStatus]int, error)
	Get(ctx context.Context, userID, id string) (*model.SpeechSession, error)
	Create(ctx context.Context, userID string, in speech.CreateInput) (*model.SpeechSession, error)
	// Update はpartialがfalseの場合（PUT）にdurationを必須とする。
	Update(ctx context.Context, userID, id string, patch model.SessionPatch, partial bool) (*model.SpeechSession, error)
	Delete(ctx context.Context, userID, id string) error
	Reanalyze(ctx context.Context, userID, id string) (*model.SpeechSession, error)
	OpenAudio(ctx context.Context, userID, id string) (*os.File, *model.SpeechSession, error)
	BulkUpdate(ctx context.Context, userID string, req *speech.BulkUpdateRequest) (int64, error)
	BulkAction(ctx context.Context, userID string, req *speech.BulkActionRequest) (int64, error)
}

// AnalyticsServiceInterface は統計サービスのインターフェース。
type AnalyticsServiceInterface interface {
	Summarize(ctx context.Context, userID string) (*analytics.Summary, error)
}

// SessionHandlerConfig はセッションAPIの設定。
type SessionHandlerConfig struct {
	BaseURL     string // audio_file_url の組み立てに使う（末尾スラッシュなし）
	PageSize    int
	MaxPageSize int
}

// SessionHandler はスピーチセッションREST APIのHTTPハンドラー。
type SessionHandler struct {
	service   SessionServiceInterface
	analytics AnalyticsServiceInterface
	config    SessionHandlerConfig
	now       func() time.Time
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface, analytics AnalyticsServiceInterface, config SessionHandlerConfig) *SessionHandler {
	if config.PageSize <= 0 {
		config.PageSize = speech.DefaultPageSize
	}
	if config.MaxPageSize < config.PageSize {
		config.MaxPageSize = config.PageSize
	}
	return &SessionHandler{
		service:   service,
		analytics: analytics,
		config:    config,
		now:       time.Now,
	}
}

// --- レスポンス型 ---

// sessionSummaryResponse は一覧用のセッション表現。
type sessionSummaryResponse struct {
	ID              string              `json:"id"`
	UserEmail       string              `json:"user_email"`
	Date            time.Time           `json:"date"`
	Duration        int                 `json:"duration"`
	DurationMinutes string              `json:"duration_minutes"`
	FillerCount     int                 `json:"filler_count"`
	Status          model.SessionStatus `json:"status"`
	StatusDisplay   string              `json:"status_display"`
	ConfidenceScore *float64            `json:"confidence_score"`
}

// sessionDetailResponse は詳細用のセッション表現。
type sessionDetailResponse struct {
	ID              string              `json:"id"`
	User            string              `json:"user"`
	UserEmail       string              `json:"user_email"`
	Date            time.Time           `json:"date"`
	Duration        int                 `json:"duration"`
	DurationMinutes string              `json:"duration_minutes"`
	FillerCount     int                 `json:"filler_count"`
	FillerRate      float64             `json:"filler_rate"`
	PacingAnalysis  string              `json:"pacing_analysis"`
	Status          model.SessionStatus `json:"status"`
	StatusDisplay   string              `json:"status_display"`
	AudioFile       *string             `json:"audio_file"`
	AudioFileURL    *string             `json:"audio_file_url"`
	Transcription   string              `json:"transcription"`
	ConfidenceScore *float64            `json:"confidence_score"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// sessionListResponse はページ分割された一覧のレスポンス。
type sessionListResponse struct {
	Count    int                      `json:"count"`
	Page     int                      `json:"page"`
	NumPages int                      `json:"num_pages"`
	PageSize int                      `json:"page_size"`
	Results  []sessionSummaryResponse `json:"results"`
}

type bulkUpdateResponse struct {
	Success      bool   `json:"success"`
	UpdatedCount int64  `json:"updated_count"`
	Message      string `json:"message"`
}

type reanalyzeResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Session sessionDetailResponse `json:"session"`
}

// ListSessions はセッション一覧を取得する。
// GET /api/sessions/?status=&date_from=&date_to=&search=&ordering=&page=&page_size=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter, ordering, err := parseListQuery(userID, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	page, err := h.service.List(r.Context(), speech.ListParams{
		Filter:   filter,
		Ordering: ordering,
		Page:     speech.ParsePage(q.Get("page")),
		PageSize: speech.ParsePageSize(q.Get("page_size"), h.config.PageSize, h.config.MaxPageSize),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]sessionSummaryResponse, 0, len(page.Sessions))
	for _, s := range page.Sessions {
		results = append(results, toSummaryResponse(s))
	}

	writeJSON(w, http.StatusOK, sessionListResponse{
		Count:    page.Count,
		Page:     page.Number,
		NumPages: page.NumPages,
		PageSize: page.PageSize,
		Results:  results,
	})
}

// CreateSession はセッションを作成する。
// POST /api/sessions/ (JSON または multipart/form-data)
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	in, cleanup, err := decodeCreateInput(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer cleanup()

	session, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.toDetailResponse(session))
}

// GetSession はセッション詳細を取得する。
// GET /api/sessions/{id}/
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toDetailResponse(session))
}

// ReplaceSession はセッションを更新する（durationは必須）。
// PUT /api/sessions/{id}/
func (h *SessionHandler) ReplaceSession(w http.ResponseWriter, r *http.Request) {
	h.updateSession(w, r, false)
}

// PatchSession はセッションを部分更新する。
// PATCH /api/sessions/{id}/
func (h *SessionHandler) PatchSession(w http.ResponseWriter, r *http.Request) {
	h.updateSession(w, r, true)
}

func (h *SessionHandler) updateSession(w http.ResponseWriter, r *http.Request, partial bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの読み取りに失敗しました。"))
		return
	}

	patch, err := speech.DecodeSessionPatch(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	session, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), patch, partial)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toDetailResponse(session))
}

// DeleteSession はセッションを削除する。
// DELETE /api/sessions/{id}/
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Analytics はユーザーの統計を返す。
// GET /api/sessions/analytics/
func (h *SessionHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summary, err := h.analytics.Summarize(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// BulkUpdate は複数のセッションを一括更新する。
// POST /api/sessions/bulk_update/ {"session_ids": [...], "updates": {...}}
func (h *SessionHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの読み取りに失敗しました。"))
		return
	}

	req, err := speech.DecodeBulkUpdate(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	n, err := h.service.BulkUpdate(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bulkUpdateResponse{
		Success:      true,
		UpdatedCount: n,
		Message:      fmt.Sprintf("%d session(s) updated successfully", n),
	})
}

// Reanalyze はセッションを再解析する。音声ファイルがない場合は400。
// POST /api/sessions/{id}/reanalyze/
func (h *SessionHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	session, err := h.service.Reanalyze(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reanalyzeResponse{
		Success: true,
		Message: "Session re-analyzed successfully",
		Session: h.toDetailResponse(session),
	})
}

// DownloadAudio はセッションの音声ファイルを返す。Rangeリクエストに対応する。
// GET /api/sessions/{id}/audio/
func (h *SessionHandler) DownloadAudio(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	f, session, err := h.service.OpenAudio(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		handleServiceError(w, fmt.Errorf("failed to stat audio file: %w", err))
		return
	}

	w.Header().Set("Content-Type", media.ContentType(session.AudioFile))
	http.ServeContent(w, r, path.Base(session.AudioFile), info.ModTime(), f)
}

// Export は絞り込み条件に一致するセッションをXLSXで返す。
// GET /api/sessions/export/?status=&date_from=&date_to=&search=&ordering=
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	filter, ordering, err := parseListQuery(userID, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	sessions, err := h.service.ListAll(r.Context(), filter, ordering)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 書き込み途中のエラーを500で返せるよう、一旦バッファに書き出す
	var buf bytes.Buffer
	if err := export.WriteSessions(&buf, sessions); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(h.now())))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write export response", slog.String("error", err.Error()))
	}
}

// --- ヘルパー関数 ---

// parseListQuery はクエリ文字列から絞り込み条件と並び順を取り出す。
func parseListQuery(userID string, r *http.Request) (model.SessionFilter, model.SessionOrdering, error) {
	q := r.URL.Query()
	filter, err := speech.ParseFilter(userID, speech.FilterParams{
		Status:   q.Get("status"),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Search:   q.Get("search"),
	})
	if err != nil {
		return model.SessionFilter{}, model.SessionOrdering{}, err
	}

	ordering, err := speech.ParseOrdering(q.Get("ordering"))
	if err != nil {
		return model.SessionFilter{}, model.SessionOrdering{}, err
	}
	return filter, ordering, nil
}

func toSummaryResponse(s *model.SpeechSession) sessionSummaryResponse {
	return sessionSummaryResponse{
		ID:              s.ID,
		UserEmail:       s.UserEmail,
		Date:            s.Date,
		Duration:        s.Duration,
		DurationMinutes: s.DurationMinutes(),
		FillerCount:     s.FillerCount,
		Status:          s.Status,
		StatusDisplay:   s.Status.Display(),
		ConfidenceScore: s.ConfidenceScore,
	}
}

func (h *SessionHandler) toDetailResponse(s *model.SpeechSession) sessionDetailResponse {
	resp := sessionDetailResponse{
		ID:              s.ID,
		User:            s.UserID,
		UserEmail:       s.UserEmail,
		Date:            s.Date,
		Duration:        s.Duration,
		DurationMinutes: s.DurationMinutes(),
		FillerCount:     s.FillerCount,
		FillerRate:      s.FillerRate(),
		PacingAnalysis:  s.PacingAnalysis,
		Status:          s.Status,
		StatusDisplay:   s.Status.Display(),
		Transcription:   s.Transcription,
		ConfidenceScore: s.ConfidenceScore,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.HasAudio() {
		file := s.AudioFile
		url := audioURL(h.config.BaseURL, s.ID)
		resp.AudioFile = &file
		resp.AudioFileURL = &url
	}
	return resp
}

// audioURL は音声ダウンロードエンドポイントの絶対URLを返す。
func audioURL(baseURL, sessionID string) string {
	return baseURL + "/api/sessions/" + sessionID + "/audio/"
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
