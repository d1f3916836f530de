package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// userEchoHandler writes the authenticated user's email
func userEchoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(user.Email))
	})
}

func TestAuthMiddleware(t *testing.T) {
	mock := newMockDB()
	mock.addUser("valid-key", 10, false)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid key", "Bearer valid-key", http.StatusOK},
		{"unknown key", "Bearer other-key", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic valid-key", http.StatusUnauthorized},
		{"empty key", "Bearer ", http.StatusUnauthorized},
	}

	handler := AuthMiddleware(mock)(userEchoHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Body.String() != "valid-key@example.com" {
				t.Errorf("expected user in context, got body %q", w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_DatabaseError(t *testing.T) {
	mock := newMockDB()
	mock.lookupErr = errDBDown

	handler := AuthMiddleware(mock)(userEchoHandler())
	req := httptest.NewRequest("GET", "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer any-key")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestHumaAuth_DatabaseError(t *testing.T) {
	env := newTestEnv(t)
	env.db.lookupErr = errDBDown

	w := env.do(t, http.MethodGet, "/v1/account", "any-key", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestHumaAuth_SetsChallengeHeader(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/account", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	RecoveryMiddleware(panicking).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var captured int
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		if rw, ok := w.(*responseWriter); ok {
			captured = rw.statusCode
		}
	})

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	LoggingMiddleware(inner).ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", w.Code)
	}
	if captured != http.StatusTeapot {
		t.Errorf("expected wrapped writer to capture 418, got %d", captured)
	}
}
