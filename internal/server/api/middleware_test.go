package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

func callWith(t *testing.T, mw echo.MiddlewareFunc, authorization string) int {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec.Code
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	mw := AdminAuth(string(hash))

	t.Run("valid token passes", func(t *testing.T) {
		if code := callWith(t, mw, "Bearer correct-token"); code != http.StatusOK {
			t.Errorf("status = %d, want 200", code)
		}
	})

	t.Run("wrong token is unauthorized", func(t *testing.T) {
		if code := callWith(t, mw, "Bearer wrong-token"); code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", code)
		}
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		if code := callWith(t, mw, ""); code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", code)
		}
	})

	t.Run("non-bearer scheme is unauthorized", func(t *testing.T) {
		if code := callWith(t, mw, "Basic correct-token"); code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", code)
		}
	})

	t.Run("empty hash disables the endpoint", func(t *testing.T) {
		disabled := AdminAuth("")
		if code := callWith(t, disabled, "Bearer correct-token"); code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", code)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("burst then deny", func(t *testing.T) {
		mw := NewRateLimiter(0.001, 3).Middleware()
		for i := 0; i < 3; i++ {
			if code := callWith(t, mw, ""); code != http.StatusOK {
				t.Fatalf("request %d: status = %d, want 200", i+1, code)
			}
		}
		if code := callWith(t, mw, ""); code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", code)
		}
	})

	t.Run("generous limits never trip", func(t *testing.T) {
		mw := NewRateLimiter(1000, 1000).Middleware()
		for i := 0; i < 50; i++ {
			if code := callWith(t, mw, ""); code != http.StatusOK {
				t.Fatalf("request %d: status = %d, want 200", i+1, code)
			}
		}
	})
}
