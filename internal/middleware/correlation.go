package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CorrelationIDHeader はリクエストとレスポンスで相関IDを運ぶヘッダー。
const CorrelationIDHeader = "X-Request-ID"

const maxCorrelationIDLength = 128

var correlationIDContextKey = contextKey("correlation_id")

// NewCorrelationIDMiddleware はリクエストごとの相関IDを決定するミドルウェアを返す。
// 受信したX-Request-IDが安全な文字だけで構成されていればそれを引き継ぎ、
// そうでなければUUIDを生成する。相関IDはレスポンスヘッダーにも設定される。
func NewCorrelationIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(CorrelationIDHeader))
			if !isValidCorrelationID(id) {
				id = uuid.NewString()
			}

			w.Header().Set(CorrelationIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ContextWithCorrelationID(r.Context(), id)))
		})
	}
}

// CorrelationIDFromContext はコンテキストの相関IDを返す。未設定の場合は空文字。
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDContextKey).(string)
	return id
}

// ContextWithCorrelationID はコンテキストに相関IDを注入する。
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey, id)
}

func isValidCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
