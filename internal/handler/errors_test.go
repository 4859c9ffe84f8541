package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/speechcoach/internal/model"
)

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *model.APIError
		want int
	}{
		{"validation", model.NewValidationError("duration", "required"), http.StatusBadRequest},
		{"invalid request", model.NewInvalidRequestError("bad json"), http.StatusBadRequest},
		{"invalid filter", model.NewInvalidFilterError("status=x"), http.StatusBadRequest},
		{"invalid bulk fields", model.NewInvalidBulkFieldsError([]string{"user"}), http.StatusBadRequest},
		{"invalid bulk action", model.NewInvalidBulkActionError("explode"), http.StatusBadRequest},
		{"no audio file", model.NewNoAudioFileError(), http.StatusBadRequest},
		{"invalid audio file", model.NewInvalidAudioFileError("too large"), http.StatusBadRequest},
		{"session not found", model.NewSessionNotFoundError("s-1"), http.StatusNotFound},
		{"no valid sessions", model.NewNoValidSessionsError(), http.StatusNotFound},
		{"unauthorized", model.NewUnauthorizedError(), http.StatusUnauthorized},
		{"user not found", model.NewUserNotFoundError(), http.StatusUnauthorized},
		{"2fa required", model.NewTwoFactorSetupRequiredError(), http.StatusForbidden},
		{"unknown code", &model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

func TestHandleServiceError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	handleServiceError(w, fmt.Errorf("get session: %w", model.NewSessionNotFoundError("s-1")))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := decodeErrorCode(t, w.Body); code != model.ErrCodeSessionNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeSessionNotFound)
	}
}

func TestHealthHandler_NilChecker(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
