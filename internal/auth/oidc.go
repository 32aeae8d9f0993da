package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OIDCConfig はAuth0互換プロバイダーの設定。
// エンドポイントはDomainから導出する。
type OIDCConfig struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Audience     string

	// テスト用にオーバーライド可能なURL
	AuthURL   string
	TokenURL  string
	LogoutURL string
	JWKSURL   string
	Issuer    string

	HTTPClient *http.Client
}

// withDefaults はDomainから未設定のエンドポイントを補完したコピーを返す。
func (c OIDCConfig) withDefaults() OIDCConfig {
	base := "https://" + strings.TrimSuffix(strings.TrimPrefix(c.Domain, "https://"), "/")
	if c.AuthURL == "" {
		c.AuthURL = base + "/authorize"
	}
	if c.TokenURL == "" {
		c.TokenURL = base + "/oauth/token"
	}
	if c.LogoutURL == "" {
		c.LogoutURL = base + "/v2/logout"
	}
	if c.JWKSURL == "" {
		c.JWKSURL = base + "/.well-known/jwks.json"
	}
	if c.Issuer == "" {
		c.Issuer = base + "/"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c
}

// OIDCProvider はOAuth 2.0認可コードフローとOpenID Connectによる認証を提供する。
type OIDCProvider struct {
	config OIDCConfig
}

// NewOIDCProvider はOIDCProviderを生成する。
func NewOIDCProvider(config OIDCConfig) *OIDCProvider {
	return &OIDCProvider{config: config.withDefaults()}
}

// Issuer はIDトークンのissクレームに期待する値を返す。
func (p *OIDCProvider) Issuer() string {
	return p.config.Issuer
}

// JWKSURL は署名検証鍵の取得先を返す。
func (p *OIDCProvider) JWKSURL() string {
	return p.config.JWKSURL
}

// GetLoginURL は認可エンドポイントのURLを生成する。
// スコープには openid, profile, email を含む。
func (p *OIDCProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid profile email"},
		"state":         {state},
	}
	if p.config.Audience != "" {
		params.Set("audience", p.config.Audience)
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// LogoutURL はプロバイダー側のセッションを終了するURLを生成する。
func (p *OIDCProvider) LogoutURL(returnTo string) string {
	params := url.Values{
		"client_id": {p.config.ClientID},
		"returnTo":  {returnTo},
	}
	return p.config.LogoutURL + "?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ExchangeCode は認可コードをトークンに交換する。
// IDトークンが含まれない場合はエラーを返す。
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	// レスポンス本文にはトークンが含まれうるため、エラーにはステータスのみ含める
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.IDToken == "" {
		return nil, fmt.Errorf("empty id_token in response")
	}

	return &TokenSet{
		AccessToken: tr.AccessToken,
		IDToken:     tr.IDToken,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*OIDCProvider)(nil)
