// Package response provides common HTTP response helpers.
package response

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/commerce/order/pkg/errors"
	"github.com/commerce/order/pkg/logger"
)

// Problem RFC-7807 错误响应体
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// WriteJSON writes a JSON success response.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps an error chain to an RFC-7807 problem response.
// Unrecognized errors become opaque 500s so internals never leak.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperrors.As(err)
	if !ok {
		e = apperrors.ErrInternal
	}

	detail := e.Message
	if e.Code == apperrors.CodeInternal {
		detail = "An unexpected error occurred"
	}

	problem := Problem{
		Type:     e.TypeURI(),
		Title:    e.Title(),
		Status:   e.HTTPStatus(),
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// RequestIDFromRequest extracts request ID from headers.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if reqID == "" {
		reqID = strings.TrimSpace(r.Header.Get("X-Request-ID"))
	}
	return reqID
}

// RequestIDMiddleware 为请求分配 ID 并回写响应头
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := RequestIDFromRequest(r)
		if reqID == "" {
			reqID = uuid.NewString()
			r.Header.Set("X-Request-Id", reqID)
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware 捕获 panic，返回 500
func RecoveryMiddleware(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("panic recovered", map[string]interface{}{
					"panic": rec,
					"path":  r.URL.Path,
				})
				WriteError(w, r, apperrors.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
