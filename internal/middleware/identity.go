// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey     = contextKey("user_id")
	identityContextKey   = contextKey("identity")
	authMethodContextKey = contextKey("auth_method")
)

// AuthMethod はリクエストの認証方式。
type AuthMethod string

const (
	AuthMethodSession AuthMethod = "session"
	AuthMethodBearer  AuthMethod = "bearer"
)

// IdentityResolver はセッションIDまたはアクセストークンからIdentityを解決する。
// auth.Serviceが実装する。
type IdentityResolver interface {
	IdentityFromSession(ctx context.Context, sessionID string) (authz.Identity, error)
	IdentityFromBearer(ctx context.Context, token string) (authz.Identity, error)
}

// NewIdentityMiddleware はAuthorizationヘッダーのBearerトークン、
// またはHTTP Only Cookieのセッションから認証済みIdentityを解決するミドルウェアを返す。
// Identity・ユーザーID・認証方式をリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				identity authz.Identity
				method   AuthMethod
				err      error
			)

			// 1. Bearerトークンを優先し、なければセッションCookieを使う
			if token, ok := bearerToken(r); ok {
				method = AuthMethodBearer
				identity, err = resolver.IdentityFromBearer(r.Context(), token)
			} else if cookie, cerr := r.Cookie(sessionCookieName); cerr == nil && cookie.Value != "" {
				method = AuthMethodSession
				identity, err = resolver.IdentityFromSession(r.Context(), cookie.Value)
			} else {
				WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 2. 解決エラーを分類する
			if err != nil {
				writeIdentityError(w, r, method, err)
				return
			}
			if identity.UserID == "" {
				WriteErrorResponse(w, r, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 3. コンテキストに注入
			annotateRequestLog(r.Context(), identity.UserID)
			ctx := ContextWithIdentity(r.Context(), identity)
			ctx = ContextWithAuthMethod(ctx, method)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeIdentityError(w http.ResponseWriter, r *http.Request, method AuthMethod, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUnauthenticated {
		WriteErrorResponse(w, r, http.StatusUnauthorized, apiErr)
		return
	}

	slog.Error("failed to resolve identity",
		slog.String("auth_method", string(method)),
		slog.String("correlation_id", CorrelationIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	if apiErr == nil {
		apiErr = model.NewInternalError()
	}
	WriteErrorResponse(w, r, http.StatusInternalServerError, apiErr)
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// Identityミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// IdentityFromContext はリクエストコンテキストから認証済みIdentityを取得する。
func IdentityFromContext(ctx context.Context) (authz.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(authz.Identity)
	if !ok || identity.UserID == "" {
		return authz.Identity{}, false
	}
	return identity, true
}

// ContextWithIdentity はコンテキストにIdentityとそのユーザーIDを注入する。
func ContextWithIdentity(ctx context.Context, identity authz.Identity) context.Context {
	ctx = context.WithValue(ctx, identityContextKey, identity)
	return ContextWithUserID(ctx, identity.UserID)
}

// AuthMethodFromContext はリクエストの認証方式を返す。未認証の場合は空文字。
func AuthMethodFromContext(ctx context.Context) AuthMethod {
	method, _ := ctx.Value(authMethodContextKey).(AuthMethod)
	return method
}

// ContextWithAuthMethod はコンテキストに認証方式を注入する。
func ContextWithAuthMethod(ctx context.Context, method AuthMethod) context.Context {
	return context.WithValue(ctx, authMethodContextKey, method)
}
