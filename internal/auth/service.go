// Package auth は認証プロバイダーとのOIDCフロー、トークン検証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/user"
)

// TokenSet はトークンエンドポイントから取得したトークン。
type TokenSet struct {
	AccessToken string
	IDToken     string
}

// IdentityProvider は認証プロバイダーのインターフェース。
type IdentityProvider interface {
	// GetLoginURL は認可エンドポイントのURLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	// LogoutURL はプロバイダー側のログアウトURLを生成する。
	LogoutURL(returnTo string) string
}

// TokenVerifier はJWTの署名とクレームを検証する。
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (authz.Claims, error)
}

// UserSyncer はクレームからローカルユーザーを同期する。
type UserSyncer interface {
	Sync(ctx context.Context, p user.Profile) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider    IdentityProvider
	verifier    TokenVerifier // IDトークン用
	bearer      TokenVerifier // Bearerアクセストークン用
	users       UserSyncer
	sessionRepo repository.SessionRepository
	extractor   *authz.Extractor
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	verifier TokenVerifier,
	users UserSyncer,
	sessionRepo repository.SessionRepository,
	extractor *authz.Extractor,
	config ServiceConfig,
) *Service {
	if extractor == nil {
		extractor = authz.NewExtractor(nil)
	}
	return &Service{
		provider:    provider,
		verifier:    verifier,
		bearer:      verifier,
		users:       users,
		sessionRepo: sessionRepo,
		extractor:   extractor,
		config:      config,
	}
}

// WithBearerVerifier はBearerトークンの検証に別のVerifierを使うよう設定する。
// APIのaudienceを持つアクセストークンだけを受理し、IDトークンを拒否するために使う。
func (s *Service) WithBearerVerifier(verifier TokenVerifier) *Service {
	if verifier != nil {
		s.bearer = verifier
	}
	return s
}

// GetLoginURL は認可エンドポイントのURLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.provider.GetLoginURL(state)
}

// LogoutURL はプロバイダー側のログアウトURLを生成する。
func (s *Service) LogoutURL(returnTo string) string {
	return s.provider.LogoutURL(returnTo)
}

// HandleCallback は認可コードを処理し、セッションを発行する。
// IDトークンを検証し、subjectをキーにユーザーを作成または更新したうえで
// 検証済みクレームをセッションに保存する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換
	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, model.NewUpstreamError(fmt.Errorf("failed to exchange code: %w", err))
	}

	// 2. IDトークンを検証
	claims, err := s.verify(ctx, s.verifier, tokens.IDToken)
	if err != nil {
		return nil, err
	}

	// 3. ユーザーを同期
	u, err := s.users.Sync(ctx, profileFromClaims(claims))
	if err != nil {
		return nil, err
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, u.ID, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", u.ID))
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// IdentityFromSession はセッションに保存されたクレームからIdentityを解決する。
// セッションが存在しないか期限切れの場合はUNAUTHENTICATEDを返す。
func (s *Service) IdentityFromSession(ctx context.Context, sessionID string) (authz.Identity, error) {
	if sessionID == "" {
		return authz.Identity{}, model.NewUnauthenticatedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return authz.Identity{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return authz.Identity{}, model.NewUnauthenticatedError()
	}

	claims, err := authz.ParseClaims(session.Claims)
	if err != nil {
		// 破損したセッションは未認証として扱う
		slog.Warn("failed to parse session claims", slog.String("user_id", session.UserID))
		return authz.Identity{}, model.NewUnauthenticatedError()
	}

	return s.resolve(claims, session.UserID), nil
}

// IdentityFromBearer はBearerトークンを検証してIdentityを解決する。
// 初回アクセスのsubjectはユーザーとして同期される。
func (s *Service) IdentityFromBearer(ctx context.Context, rawToken string) (authz.Identity, error) {
	claims, err := s.verify(ctx, s.bearer, rawToken)
	if err != nil {
		return authz.Identity{}, err
	}

	u, err := s.users.Sync(ctx, profileFromClaims(claims))
	if err != nil {
		return authz.Identity{}, err
	}

	return s.resolve(claims, u.ID), nil
}

// CurrentUser はローカルユーザーを返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return s.users.Get(ctx, userID)
}

// SyncUser はIdentityの属性でユーザーを再同期する。冪等。
func (s *Service) SyncUser(ctx context.Context, id authz.Identity) (*model.User, error) {
	return s.users.Sync(ctx, user.Profile{
		Subject: id.SubjectID,
		Email:   id.Email,
		Name:    id.Name,
		Picture: id.Picture,
	})
}

// verify はトークンを検証し、失敗理由に応じたAPIErrorを返す。
func (s *Service) verify(ctx context.Context, verifier TokenVerifier, rawToken string) (authz.Claims, error) {
	claims, err := verifier.Verify(ctx, rawToken)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, ErrKeySetUnavailable) {
		return authz.Claims{}, model.NewUpstreamError(err)
	}
	slog.Warn("token verification failed", slog.String("error", err.Error()))
	return authz.Claims{}, model.NewUnauthenticatedError()
}

func (s *Service) resolve(claims authz.Claims, userID string) authz.Identity {
	return authz.Resolve(s.extractor.Extract(claims)).WithUserID(userID)
}

func profileFromClaims(c authz.Claims) user.Profile {
	return user.Profile{
		Subject: c.Subject,
		Email:   c.Email,
		Name:    c.Name,
		Picture: c.Picture,
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string, claims authz.Claims) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	data, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode claims: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		Claims:    data,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
