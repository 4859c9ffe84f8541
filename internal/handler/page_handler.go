package handler

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/speechcoach/internal/analytics"
	"github.com/hitoshi/speechcoach/internal/middleware"
	"github.com/hitoshi/speechcoach/internal/model"
	"github.com/hitoshi/speechcoach/internal/speech"
)

//go:embed templates/*.html
var templateFS embed.FS

// flashCookieName は次の画面表示で1回だけ表示するメッセージを保持するCookie名。
const flashCookieName = "flash"

var templateFuncs = template.FuncMap{
	"comma": humanize.Comma,
	"since": humanize.Time,
	"decimal": func(v float64) string {
		return humanize.FormatFloat("#,###.##", v)
	},
	"percent": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.0f%%", *v*100)
	},
	"datetime": func(t time.Time) string {
		return t.Format("Jan 2, 2006 15:04")
	},
	"statusClass": func(s model.SessionStatus) string {
		switch s {
		case model.SessionStatusAnalyzed:
			return "status-analyzed"
		case model.SessionStatusArchived:
			return "status-archived"
		default:
			return "status-pending"
		}
	},
}

var pageTemplates = parsePageTemplates(
	"session_list",
	"session_form",
	"session_detail",
	"session_confirm_delete",
	"session_analytics",
	"error",
)

// parsePageTemplates はページごとに共通レイアウトと組み合わせたテンプレートを構築する。
func parsePageTemplates(names ...string) map[string]*template.Template {
	templates := make(map[string]*template.Template, len(names))
	for _, name := range names {
		templates[name] = template.Must(
			template.New("base.html").Funcs(templateFuncs).
				ParseFS(templateFS, "templates/base.html", "templates/"+name+".html"),
		)
	}
	return templates
}

// PageHandlerConfig は画面ハンドラーの設定。
type PageHandlerConfig struct {
	PageSize     int
	CookieSecure bool
}

// PageHandler はサーバーレンダリング画面のHTTPハンドラー。
type PageHandler struct {
	service   SessionServiceInterface
	analytics AnalyticsServiceInterface
	config    PageHandlerConfig
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(service SessionServiceInterface, analytics AnalyticsServiceInterface, config PageHandlerConfig) *PageHandler {
	if config.PageSize <= 0 {
		config.PageSize = speech.DefaultPageSize
	}
	return &PageHandler{
		service:   service,
		analytics: analytics,
		config:    config,
	}
}

// --- テンプレートデータ ---

type pageBase struct {
	Title     string
	CSRFToken string
	Flash     string
}

type listPageData struct {
	pageBase
	Page             *speech.Page
	Filter           speech.FilterParams
	FilterError      string
	Statuses         []model.SessionStatus
	TotalSessions    int
	PendingSessions  int
	AnalyzedSessions int
	FilterQuery      template.URL // ページ送りリンク用の絞り込み条件（末尾に&を含む）
}

// sessionForm はフォームの入力値（再表示用に文字列のまま保持する）。
type sessionForm struct {
	Duration        string
	FillerCount     string
	PacingAnalysis  string
	Status          string
	Transcription   string
	ConfidenceScore string
}

type formPageData struct {
	pageBase
	Session    *model.SpeechSession
	Form       sessionForm
	Error      string
	SubmitText string
	Statuses   []model.SessionStatus
}

type detailPageData struct {
	pageBase
	Session *model.SpeechSession
}

type analyticsPageData struct {
	pageBase
	Summary          *analytics.Summary
	AvgFillers       float64
	AnalyzedSessions int
	PendingSessions  int
	ArchivedSessions int
}

type errorPageData struct {
	pageBase
	Status  int
	Message string
}

// ListPage はセッション一覧と絞り込みフォームを表示する。
// 絞り込み条件が不正な場合は条件を適用せずに一覧を表示する。
// GET /sessions/
func (h *PageHandler) ListPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pageUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	params := speech.FilterParams{
		Status:   q.Get("status"),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Search:   q.Get("search"),
	}

	data := listPageData{
		pageBase: h.base(w, r, "Speech Sessions"),
		Filter:   params,
		Statuses: model.SessionStatuses,
	}

	filter, err := speech.ParseFilter(userID, params)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			h.handlePageError(w, r, err)
			return
		}
		data.FilterError = apiErr.Message
		filter = model.SessionFilter{UserID: userID}
	} else {
		data.FilterQuery = filterQuery(params)
	}

	page, err := h.service.List(r.Context(), speech.ListParams{
		Filter:   filter,
		Ordering: model.DefaultSessionOrdering,
		Page:     speech.ParsePage(q.Get("page")),
		PageSize: h.config.PageSize,
	})
	if err != nil {
		h.handlePageError(w, r, err)
		return
	}
	data.Page = page

	counts, err := h.service.CountByStatus(r.Context(), userID)
	if err != nil {
		h.handlePageError(w, r, err)
		return
	}
	for _, n := range counts {
		data.TotalSessions += n
	}
	data.PendingSessions = counts[model.SessionStatusPending]
	data.AnalyzedSessions = counts[model.SessionStatusAnalyzed]

	h.render(w, "session_list", http.StatusOK, data)
}

// CreatePage はセッション作成フォームの表示と送信を扱う。
// GET/POST /sessions/create/
func (h *PageHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pageUserID(w, r)
	if !ok {
		return
	}

	data := formPageData{
		pageBase:   h.base(w, r, "Create New Speech Session"),
		SubmitText: "Create Session",
	}

	if r.Method != http.MethodPost {
		h.render(w, "session_form", http.StatusOK, data)
		return
	}

	in, cleanup, err := decodeCreateInput(r)
	defer cleanup()
	data.Form = sessionForm{
		Duration:      r.FormValue("duration"),
		Transcription: r.FormValue("transcription"),
	}
	if err == nil {
		var session *model.SpeechSession
		session, err = h.service.Create(r.Context(), userID, in)
		if err == nil {
			h.redirectWithFlash(w, r, "/sessions/"+session.ID+"/", "Speech session created successfully!")
			return
		}
	}

	h.renderFormError(w, r, data, err)
}

// DetailPage はセッション詳細を表示する。
// GET /sessions/{id}/
func (h *PageHandler) DetailPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pageUserID(w, r)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handlePageError(w, r, err)
		return
	}

	h.render(w, "session_detail", http.StatusOK, detailPageData{
		pageBase: h.base(w, r, "Speech Session"),
		Session:  session,
	})
}

// UpdatePage はセッション更新フォームの表示と送信を扱う。
// GET/POST /sessions/{id}/update/
func (h *PageHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pageUserID(w, r)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handlePageError(w, r, err)
		return
	}

	data := formPageData{
		pageBase:   h.base(w, r, "Update Speech Session"),
		Session:    session,
		SubmitText: "Update Session",
		Statuses:   model.SessionStatuses,
	}

	if r.Method != http.MethodPost {
		data.Form = formFromSession(session)
		h.render(w, "session_form", http.StatusOK, data)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderFormError(w, r, data, formParseError(err))
		return
	}
	data.Form = formFromValues(r.PostForm)

	patch, err := patchFromForm(r.PostForm)
	if err == nil {
		_, err = h.service.Update(r.Context(), userID, session.ID, patch, false)
		if err == nil {
			h.redirectWithFlash(w, r, "/sessions/"+session.ID+"/", "Speech session updated successfully!")
			return
		}
	}

	h.renderFormError(w, r, data, err)
}

// DeletePage は削除確認画面の表示と削除の実行を扱う。
// GET/POST /sessions/{id}/delete/
func (h *PageHandler) DeletePage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pageUserID(w, r)
	if !ok {
		return
	}

	session, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handlePageError(w, r, err)
		return
	}

	if r.Method != http.MethodPost {
		h.render(w, "session_confirm_delete", http.StatusOK, detailPageData{
			pageBase: h.base(w, r, "Delete Speech Session"),
			Session:  session,
		})
		return
	}

	if err := h.service.Delete(r.Context(), userID, session.ID); err != nil {
		h.handlePageError(w, r, err)
		return
	}
	h.redirectWithFlash(w, r, "/sessions/", fmt.Sprintf("Speech session #%s deleted successfully!", session.ID))
}

// AnalyticsPage は統計画面を表示する。
// GET /sessions/analytics/
func (h *PageHandler) AnalyticsPage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pageUserID(w, r)
	if !ok {
		return
	}

	summary, err := h.analytics.Summarize(r.Context(), userID)
	if err != nil {
		h.handlePageError(w, r, err)
		return
	}

	h.render(w, "session_analytics", http.StatusOK, analyticsPageData{
		pageBase:         h.base(w, r, "Speech Analytics"),
		Summary:          summary,
		AvgFillers:       summary.AverageFillersPerAnalyzed(),
		AnalyzedSessions: summary.SessionsByStatus[model.SessionStatusAnalyzed],
		PendingSessions:  summary.SessionsByStatus[model.SessionStatusPending],
		ArchivedSessions: summary.SessionsByStatus[model.SessionStatusArchived],
	})
}

// BulkAction は一覧画面からの一括操作を実行し、JSONで結果を返す。
// POST /sessions/bulk-action/ {"action": "delete|archive|mark_analyzed", "session_ids": [...]}
func (h *PageHandler) BulkAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの読み取りに失敗しました。"))
		return
	}

	req, err := speech.DecodeBulkAction(body)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	n, err := h.service.BulkAction(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": req.Message(n),
	})
}

// --- ヘルパー関数 ---

func (h *PageHandler) pageUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.renderError(w, r, http.StatusUnauthorized, model.NewUnauthorizedError().Message)
		return "", false
	}
	return userID, true
}

// base は全画面共通のデータを組み立てる。フラッシュメッセージはここで消費する。
func (h *PageHandler) base(w http.ResponseWriter, r *http.Request, title string) pageBase {
	b := pageBase{Title: title, CSRFToken: middleware.CSRFToken(r)}

	if c, err := r.Cookie(flashCookieName); err == nil {
		if msg, err := url.QueryUnescape(c.Value); err == nil {
			b.Flash = msg
		}
		http.SetCookie(w, &http.Cookie{
			Name:   flashCookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
	}
	return b
}

func (h *PageHandler) redirectWithFlash(w http.ResponseWriter, r *http.Request, target, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    url.QueryEscape(message),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *PageHandler) render(w http.ResponseWriter, name string, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := pageTemplates[name].ExecuteTemplate(&buf, "base", data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	buf.WriteTo(w)
}

// renderFormError は検証エラーをフォームに表示して再描画する。検証以外のエラーはエラー画面にする。
func (h *PageHandler) renderFormError(w http.ResponseWriter, r *http.Request, data formPageData, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || mapAPIErrorToHTTPStatus(apiErr) != http.StatusBadRequest {
		h.handlePageError(w, r, err)
		return
	}
	data.Error = apiErr.Message
	h.render(w, "session_form", http.StatusBadRequest, data)
}

func (h *PageHandler) handlePageError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		h.renderError(w, r, mapAPIErrorToHTTPStatus(apiErr), apiErr.Message)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	h.renderError(w, r, http.StatusInternalServerError, "内部エラーが発生しました。")
}

func (h *PageHandler) renderError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	h.render(w, "error", statusCode, errorPageData{
		pageBase: h.base(w, r, http.StatusText(statusCode)),
		Status:   statusCode,
		Message:  message,
	})
}

// filterQuery は絞り込み条件をページ送りリンク用のクエリ文字列にする。
func filterQuery(p speech.FilterParams) template.URL {
	v := url.Values{}
	for key, val := range map[string]string{
		"status":    p.Status,
		"date_from": p.DateFrom,
		"date_to":   p.DateTo,
		"search":    p.Search,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	if len(v) == 0 {
		return ""
	}
	return template.URL(v.Encode() + "&")
}

func formFromSession(s *model.SpeechSession) sessionForm {
	f := sessionForm{
		Duration:       strconv.Itoa(s.Duration),
		FillerCount:    strconv.Itoa(s.FillerCount),
		PacingAnalysis: s.PacingAnalysis,
		Status:         string(s.Status),
		Transcription:  s.Transcription,
	}
	if s.ConfidenceScore != nil {
		f.ConfidenceScore = strconv.FormatFloat(*s.ConfidenceScore, 'f', -1, 64)
	}
	return f
}

func formFromValues(v url.Values) sessionForm {
	return sessionForm{
		Duration:        v.Get("duration"),
		FillerCount:     v.Get("filler_count"),
		PacingAnalysis:  v.Get("pacing_analysis"),
		Status:          v.Get("status"),
		Transcription:   v.Get("transcription"),
		ConfidenceScore: v.Get("confidence_score"),
	}
}

// patchFromForm は更新フォームの値をパッチに変換する。
// フォームは全フィールドを送信するため、confidence_score が空の場合は未設定に戻す。
func patchFromForm(v url.Values) (model.SessionPatch, error) {
	var patch model.SessionPatch

	if raw := strings.TrimSpace(v.Get("duration")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return patch, model.NewValidationError("duration", "Enter a whole number.")
		}
		patch.Duration = &d
	}

	raw := strings.TrimSpace(v.Get("filler_count"))
	if raw == "" {
		return patch, model.NewValidationError("filler_count", "This field is required.")
	}
	fillers, err := strconv.Atoi(raw)
	if err != nil {
		return patch, model.NewValidationError("filler_count", "Enter a whole number.")
	}
	patch.FillerCount = &fillers

	pacing := v.Get("pacing_analysis")
	transcription := v.Get("transcription")
	status := model.SessionStatus(v.Get("status"))
	patch.PacingAnalysis = &pacing
	patch.Transcription = &transcription
	patch.Status = &status

	patch.ConfidenceSet = true
	if raw := strings.TrimSpace(v.Get("confidence_score")); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			return patch, model.NewValidationError("confidence_score", "Enter a number.")
		}
		patch.ConfidenceScore = &score
	}

	return patch, nil
}
