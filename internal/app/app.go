// Package app は起動モードごとの依存関係のワイヤリングとプロセスのライフサイクルを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/authz"
	"github.com/hitoshi/todoman/internal/config"
	"github.com/hitoshi/todoman/internal/database"
	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/logger"
	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
	"github.com/hitoshi/todoman/internal/todo"
	"github.com/hitoshi/todoman/internal/user"
	"github.com/hitoshi/todoman/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openClients はDB接続を開き、疎通を確認する。
func openClients(ctx context.Context, cfg *config.Config) (*database.Clients, error) {
	clients, err := database.OpenClients(cfg.DatabaseURL, cfg.DatabaseRestrictedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := clients.PingContext(pingCtx); err != nil {
		clients.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.Bool("restricted_shared", clients.RestrictedShared),
	)
	return clients, nil
}

// newRegistry はプロセスメトリクスとGoランタイムメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server はserveモードで構築されるHTTPハンドラーと後始末処理。
type server struct {
	handler http.Handler
	limiter *middleware.RateLimiter
}

func (s *server) close() {
	s.limiter.Stop()
}

// buildServer は全依存関係をワイヤリングしてAPIのHTTPハンドラーを構築する。
// DBへの接続は行わない。
func buildServer(cfg *config.Config, clients *database.Clients, reg *prometheus.Registry) *server {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(clients.Privileged)
	sessionRepo := repository.NewPostgresSessionRepo(clients.Privileged)
	todoRepo := repository.NewPostgresTodoRepo(clients.Privileged, clients.Restricted)

	// 2. 認証プロバイダーとトークン検証
	httpClient := &http.Client{Timeout: 10 * time.Second}
	provider := auth.NewOIDCProvider(auth.OIDCConfig{
		Domain:       cfg.Auth0Domain,
		ClientID:     cfg.Auth0ClientID,
		ClientSecret: cfg.Auth0ClientSecret,
		RedirectURL:  cfg.Auth0RedirectURL,
		Audience:     cfg.Auth0Audience,
		HTTPClient:   httpClient,
	})
	// IDトークンのaudはクライアントID、アクセストークンのaudはAPI識別子。
	// 鍵セットは両者で共有する。
	idVerifier := auth.NewJWKSVerifier(
		provider.JWKSURL(),
		provider.Issuer(),
		[]string{cfg.Auth0ClientID},
		httpClient,
	)
	bearerVerifier := idVerifier
	if cfg.Auth0Audience != "" {
		bearerVerifier = idVerifier.WithAudiences(cfg.Auth0Audience)
	}

	// 3. ドメインサービスの初期化
	userService := user.NewService(userRepo)
	authService := auth.NewService(
		provider, idVerifier, userService, sessionRepo,
		authz.NewExtractor(cfg.ClaimNamespaces),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	).WithBearerVerifier(bearerVerifier)
	todoService := todo.NewService(todoRepo, userRepo, security.NewTitleSanitizer(), collector)

	// 4. ルーターの構築
	limiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitTodoCreate),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:   clients,
		MetricsGatherer: reg,
		HTTPMetrics:     collector,
		Logger:          slog.Default(),

		IdentityResolver:  authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		TodoService: handler.NewTodoServiceAdapter(todoService),
	})

	return &server{handler: router, limiter: limiter}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	clients, err := openClients(ctx, cfg)
	if err != nil {
		return err
	}
	defer clients.Close()

	srv := buildServer(cfg, clients, newRegistry())
	defer srv.close()

	return serveHTTP(ctx, &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, "API server")
}

// serveHTTP はctxがキャンセルされるまでserverを起動し、その後グレースフルシャットダウンする。
func serveHTTP(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// buildWorkerHandler はワーカーのヘルスチェックとメトリクスを公開するハンドラーを返す。
func buildWorkerHandler(checker handler.HealthChecker, reg prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(checker))
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを定期実行し、ヘルスチェックとメトリクスを公開する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	clients, err := openClients(ctx, cfg)
	if err != nil {
		return err
	}
	defer clients.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewSessionCleanupJob(clients.Privileged, slog.Default(), collector)

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		job.Start(jobCtx, cfg.SessionCleanupInterval)
	}()

	err = serveHTTP(ctx, &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      buildWorkerHandler(clients, reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, "worker")

	cancelJob()
	<-jobDone
	if err == nil {
		slog.Info("worker stopped gracefully")
	}
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(result.Version)),
		slog.Bool("applied", result.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
