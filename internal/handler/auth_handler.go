// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
	oauthStateMaxAge  = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	LogoutURL(returnTo string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
	SyncUser(ctx context.Context, id authz.Identity) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOIDC認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// meResponse は GET /auth/me のレスポンス。
type meResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Picture     string   `json:"picture"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	IsAdmin     bool     `json:"is_admin"`
}

// Login はOIDC認可コードフローを開始する。
// GET /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomHex(16)
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w, r)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback は認可コールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 1. プロバイダーがエラーを返した場合はエラーページへ
	if providerErr := query.Get("error"); providerErr != "" {
		target := url.Values{}
		target.Set("error", providerErr)
		if desc := query.Get("error_description"); desc != "" {
			target.Set("error_description", desc)
		}
		http.Redirect(w, r, "/auth/error?"+target.Encode(), http.StatusTemporaryRedirect)
		return
	}

	// 2. stateの検証（CSRF対策）
	state := query.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("correlation_id", middleware.CorrelationIDFromContext(r.Context())),
		)
		writeAPIErrorResponse(w, r, http.StatusBadRequest, model.NewValidationError("stateパラメータが不正です"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 3. 認可コードの取得
	code := query.Get("code")
	if code == "" {
		writeAPIErrorResponse(w, r, http.StatusBadRequest, model.NewValidationError("認可コードがありません"))
		return
	}

	// 4. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed",
			slog.String("correlation_id", middleware.CorrelationIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		http.Redirect(w, r, "/auth/error?error="+callbackErrorKind(err), http.StatusTemporaryRedirect)
		return
	}

	// 5. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 6. フロントエンドにリダイレクト
	http.Redirect(w, r, h.config.BaseURL+"/", http.StatusTemporaryRedirect)
}

// callbackErrorKind はコールバック失敗の原因を/auth/errorに渡すエラー種別へ変換する。
func callbackErrorKind(err error) string {
	if apiErrCode(err) == model.ErrCodeUnauthenticated {
		return "invalid_token"
	}
	return "server_error"
}

// Logout はセッションを破棄し、プロバイダー側のログアウトへリダイレクトする。
// GET|POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.LogoutURL(h.config.BaseURL+"/"), http.StatusTemporaryRedirect)
}

// AuthError は認証エラーを記録し、詳細を伏せてフロントエンドのエラーページへリダイレクトする。
// GET|POST /auth/error?error=xxx&error_description=yyy
func (h *AuthHandler) AuthError(w http.ResponseWriter, r *http.Request) {
	// error_description は記録しない
	errCode := r.URL.Query().Get("error")

	errorID, err := randomHex(4)
	if err != nil {
		errorID = "unknown"
	}

	slog.Error("authentication error",
		slog.String("error_id", errorID),
		slog.String("error", errCode),
		slog.String("correlation_id", middleware.CorrelationIDFromContext(r.Context())),
	)

	target := h.config.BaseURL + "/unauthorized?" + authErrorKind(errCode) + "=true&errorId=" + errorID
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// authErrorKind はプロバイダーのエラーコードをエラーページの種別に対応付ける。
func authErrorKind(errCode string) string {
	switch {
	case errCode == "unauthorized":
		return "permissionError"
	case strings.Contains(errCode, "token"):
		return "tokenError"
	case strings.Contains(errCode, "session"):
		return "sessionError"
	default:
		return "authError"
	}
}

// Me は現在のログインユーザー情報とロール・権限を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Picture:     user.Picture,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
		IsAdmin:     identity.IsAdmin(),
	})
}

// SyncUser は認証済みユーザーをローカルのユーザーテーブルへ同期する。冪等。
// POST /auth/sync-user
func (h *AuthHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	user, err := h.service.SyncUser(r.Context(), identity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": user.ID,
	})
}

// randomHex は暗号的に安全なランダム値をhex文字列で返す。
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
