package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hitoshi/todoman/internal/authz"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidToken はトークンの形式・署名・クレームの検証に失敗したことを示す。
var ErrInvalidToken = errors.New("invalid token")

// ErrKeySetUnavailable は署名検証鍵を取得できなかったことを示す。
var ErrKeySetUnavailable = errors.New("key set unavailable")

// DefaultLeeway はexp/nbf/iatの検証で許容する時計のずれ。
const DefaultLeeway = time.Minute

// DefaultMinRefetchInterval はJWKSを再取得する最小間隔。
// 未知のkidを持つトークンが大量に届いても、外部への取得はこの間隔に1回までとなる。
const DefaultMinRefetchInterval = time.Minute

// JWKSVerifier はJWKSで公開された鍵を使ってRS256署名のJWTを検証する。
//
// 鍵は初回取得後メモリに保持し、未知のkidが現れた場合のみ再取得する。
type JWKSVerifier struct {
	issuer    string
	audiences []string
	leeway    time.Duration
	now       func() time.Time

	keys *keySet
}

// NewJWKSVerifier はJWKSVerifierを生成する。
// audiencesのいずれかがaudクレームに含まれていれば受理する。
func NewJWKSVerifier(jwksURL, issuer string, audiences []string, client *http.Client) *JWKSVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSVerifier{
		issuer:    issuer,
		audiences: nonEmpty(audiences),
		leeway:    DefaultLeeway,
		now:       time.Now,
		keys: &keySet{
			url:        jwksURL,
			client:     client,
			now:        time.Now,
			minRefetch: DefaultMinRefetchInterval,
		},
	}
}

// WithAudiences は鍵セットを共有し、受理するaudだけを差し替えたVerifierを返す。
func (v *JWKSVerifier) WithAudiences(audiences ...string) *JWKSVerifier {
	clone := *v
	clone.audiences = nonEmpty(audiences)
	return &clone
}

func nonEmpty(values []string) []string {
	var out []string
	for _, a := range values {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Verify はトークンの署名とiss/aud/expを検証し、クレームを返す。
// 検証失敗はErrInvalidToken、鍵の取得失敗はErrKeySetUnavailableをラップして返す。
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (authz.Claims, error) {
	tok, err := jwt.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return authz.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(tok.Headers) == 0 {
		return authz.Claims{}, fmt.Errorf("%w: missing header", ErrInvalidToken)
	}

	key, err := v.lookupKey(ctx, tok.Headers[0].KeyID)
	if err != nil {
		return authz.Claims{}, err
	}

	var (
		registered jwt.Claims
		claims     authz.Claims
	)
	if err := tok.Claims(key.Key, &registered, &claims); err != nil {
		return authz.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	expected := jwt.Expected{
		Issuer: v.issuer,
		Time:   v.now(),
	}
	if len(v.audiences) > 0 {
		expected.AnyAudience = jwt.Audience(v.audiences)
	}
	if err := registered.ValidateWithLeeway(expected, v.leeway); err != nil {
		return authz.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if registered.Expiry == nil {
		return authz.Claims{}, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if registered.Subject == "" {
		return authz.Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}

	return claims, nil
}

// lookupKey はkidに対応する鍵を返す。キャッシュにない場合は鍵セットの再取得を試みる。
func (v *JWKSVerifier) lookupKey(ctx context.Context, kid string) (jose.JSONWebKey, error) {
	if cached := v.keys.current(); cached != nil {
		if key, ok := findKey(cached, kid); ok {
			return key, nil
		}
	}

	fresh, err := v.keys.refresh(ctx)
	if err != nil {
		return jose.JSONWebKey{}, err
	}

	if key, ok := findKey(fresh, kid); ok {
		return key, nil
	}
	return jose.JSONWebKey{}, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
}

// keySet はプロバイダーのJWKSを保持する。
// 再取得は minRefetch に1回までに制限し、同時の再取得は1回の取得にまとめる。
type keySet struct {
	url        string
	client     *http.Client
	now        func() time.Time
	minRefetch time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time // 最後に取得を試みた時刻（失敗を含む）
}

func (ks *keySet) current() *jose.JSONWebKeySet {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.keys
}

// refresh は鍵セットを再取得する。最小間隔内であれば取得せず保持中の鍵セットを返す。
func (ks *keySet) refresh(ctx context.Context) (*jose.JSONWebKeySet, error) {
	v, err, _ := ks.group.Do("jwks", func() (any, error) {
		ks.mu.Lock()
		cached, last := ks.keys, ks.fetchedAt
		throttled := !last.IsZero() && ks.now().Sub(last) < ks.minRefetch
		if !throttled {
			ks.fetchedAt = ks.now()
		}
		ks.mu.Unlock()

		if throttled {
			if cached == nil {
				return nil, fmt.Errorf("%w: refetch throttled after failed fetch", ErrKeySetUnavailable)
			}
			return cached, nil
		}

		fresh, err := ks.fetch(ctx)
		if err != nil {
			return nil, err
		}

		ks.mu.Lock()
		ks.keys = fresh
		ks.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKeySet), nil
}

func findKey(set *jose.JSONWebKeySet, kid string) (jose.JSONWebKey, bool) {
	if kid == "" {
		// kidなしのトークンは鍵が1つだけの場合に限り受理する
		if len(set.Keys) == 1 {
			return set.Keys[0], true
		}
		return jose.JSONWebKey{}, false
	}
	keys := set.Key(kid)
	if len(keys) == 0 {
		return jose.JSONWebKey{}, false
	}
	return keys[0], true
}

func (ks *keySet) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	return &set, nil
}

// compile-time interface check
var _ TokenVerifier = (*JWKSVerifier)(nil)
