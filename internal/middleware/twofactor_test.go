package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/speechcoach/internal/model"
)

type mockUserFinder struct {
	getUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockUserFinder) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return m.getUserFn(ctx, userID)
}

func userWith(enabled, confirmed bool) *mockUserFinder {
	return &mockUserFinder{
		getUserFn: func(_ context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, TwoFactorEnabled: enabled, TwoFactorConfirmed: confirmed}, nil
		},
	}
}

func serveGuard(t *testing.T, users UserFinder, deny http.Handler) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := NewTwoFactorGuard(users, deny)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "user-1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestTwoFactorGuard(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		confirmed  bool
		wantPassed bool
	}{
		{"2FA disabled", false, false, true},
		{"2FA set up", true, true, true},
		{"2FA pending setup", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, called := serveGuard(t, userWith(tt.enabled, tt.confirmed), APITwoFactorRequired())
			if called != tt.wantPassed {
				t.Errorf("handler called = %v, want %v", called, tt.wantPassed)
			}
			if !tt.wantPassed && w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
		})
	}
}

func TestTwoFactorGuard_PageRedirect(t *testing.T) {
	w, called := serveGuard(t, userWith(true, false), RedirectTo("/coach/setup-2fa/"))
	if called {
		t.Error("handler should not be called")
	}
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/coach/setup-2fa/" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
}

func TestTwoFactorGuard_UnknownUser(t *testing.T) {
	users := &mockUserFinder{
		getUserFn: func(_ context.Context, _ string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	w, called := serveGuard(t, users, APITwoFactorRequired())
	if called || w.Code != http.StatusUnauthorized {
		t.Errorf("called = %v, status = %d; want false, 401", called, w.Code)
	}
}

func TestTwoFactorGuard_LookupFailure(t *testing.T) {
	users := &mockUserFinder{
		getUserFn: func(_ context.Context, _ string) (*model.User, error) {
			return nil, errors.New("db down")
		},
	}
	w, called := serveGuard(t, users, APITwoFactorRequired())
	if called || w.Code != http.StatusInternalServerError {
		t.Errorf("called = %v, status = %d; want false, 500", called, w.Code)
	}
}
