// Package handler 提供响应映射单元测试
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jobifycvut/jobify-bot/internal/repository"
	"github.com/jobifycvut/jobify-bot/internal/service/completion"
	"github.com/jobifycvut/jobify-bot/internal/service/dispatcher"
	"github.com/jobifycvut/jobify-bot/internal/service/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runError(err error) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Error(c, err)
	return w
}

// ========== 错误映射 测试 ==========

func TestErrorMapsSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"overloaded", dispatcher.ErrOverloaded, http.StatusTooManyRequests},
		{"session queue full", fmt.Errorf("%w: alice:general", session.ErrSessionUnavailable), http.StatusTooManyRequests},
		{"session not found", repository.ErrSessionNotFound, http.StatusNotFound},
		{"storage down", fmt.Errorf("%w: connection refused", repository.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{"breaker open", fmt.Errorf("completion failed: %w", completion.ErrProviderUnavailable), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := runError(tt.err)
			if w.Code != tt.code {
				t.Errorf("expected status %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestErrorHidesInternalDetails(t *testing.T) {
	raw := errors.New("pq: connection refused at 10.0.0.5:5432 (user=postgres)")
	w := runError(raw)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "10.0.0.5") || strings.Contains(body, "postgres") {
		t.Errorf("internal error details leaked to the caller: %s", body)
	}
	if !strings.Contains(body, "internal error") {
		t.Errorf("expected generic message, got %s", body)
	}
}
