package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/umarket/internal/apiclient"
	"github.com/hitoshi/umarket/internal/config"
	"github.com/hitoshi/umarket/internal/database"
	"github.com/hitoshi/umarket/internal/handler"
	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/logger"
	"github.com/hitoshi/umarket/internal/metrics"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/order"
	"github.com/hitoshi/umarket/internal/profile"
	"github.com/hitoshi/umarket/internal/repository"
	"github.com/hitoshi/umarket/internal/search"
	"github.com/hitoshi/umarket/internal/security"
	"github.com/hitoshi/umarket/internal/storage/minio"
	"github.com/hitoshi/umarket/internal/worker/cleanup"
)

// dbPingTimeout は起動時とヘルスチェックのDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		Usage(w)
		return err
	}

	switch cmd {
	case CommandHelp:
		Usage(w)
		return nil
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
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

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// sessionStore は保存済みIdPセッションの格納先。
// identity.Authとクリーンアップジョブの両方から使用する。
type sessionStore interface {
	identity.SessionStore
	cleanup.StaleSessionDeleter
}

// openSessionStore はDATABASE_URLが設定されていればPostgreSQL、なければメモリのストアを返す。
// PostgreSQLの場合は接続を確認し、*sql.DBも返す。
func openSessionStore(ctx context.Context, cfg *config.Config) (sessionStore, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL is not set; sessions are kept in memory and lost on restart")
		return repository.NewMemoryAuthSessionRepo(), nil, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return repository.NewPostgresAuthSessionRepo(db), db, nil
}

// openAvatarStorage はアバター画像のストレージを返す。未設定の場合はnil。
// バケットが存在しない場合も起動は続行し、アップロード時にエラーを表示する。
func openAvatarStorage(ctx context.Context, cfg *config.Config) (profile.Storage, error) {
	if !cfg.Storage.Enabled() {
		slog.Warn("STORAGE_ENDPOINT is not set; avatar uploads are disabled")
		return nil, nil
	}
	client, err := minio.New(minio.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if err := client.CheckBucket(ctx); err != nil {
		slog.Warn("avatar bucket check failed",
			slog.String("bucket", cfg.Storage.Bucket),
			slog.String("error", err.Error()),
		)
	}
	return client, nil
}

// server はHTTPサーバーの構成要素。
type server struct {
	handler http.Handler
	store   sessionStore
	db      *sql.DB
	metrics *metrics.Collector
	limiter *middleware.RateLimiter
}

// Close はサーバーが保持するリソースを解放する。
func (s *server) Close() {
	s.limiter.Stop()
	if s.db != nil {
		s.db.Close()
	}
}

// newServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 2. セッションストアとストレージ
	store, db, err := openSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	storage, err := openAvatarStorage(ctx, cfg)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	// 3. 外部APIクライアント
	api := apiclient.New(cfg.APIBaseURL, newAPIHTTPClient(), log, apiclient.WithRecorder(collector))
	idp := identity.NewClient(identity.ClientConfig{
		URL:        cfg.Supabase.URL,
		AnonKey:    cfg.Supabase.AnonKey,
		HTTPClient: &http.Client{Timeout: cfg.Supabase.Timeout},
	})

	// 4. ドメインサービス
	listings := listing.NewService(api, log)
	orders := order.NewService(api, collector, log)
	searcher := search.NewDebouncer(func(ctx context.Context, q string) ([]model.Listing, error) {
		return listings.Browse(ctx, listing.Query{Search: q})
	}, cfg.SearchDebounce, search.WithRecorder(collector))
	sanitizer := security.NewTextSanitizer()
	profiles := func(users profile.UserProvider) handler.ProfileServiceInterface {
		return profile.NewService(users, storage, cfg.Storage.Bucket, sanitizer, log)
	}

	renderer, err := handler.NewRenderer(log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	var health handler.HealthChecker
	if db != nil {
		health = func(ctx context.Context) error {
			return database.Ping(ctx, db, dbPingTimeout)
		}
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitMutations))

	// 5. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   log,
		Renderer: renderer,
		BrowserSession: middleware.BrowserSessionConfig{
			Identity:     idp,
			Store:        store,
			Hub:          identity.NewHub(),
			Recorder:     collector,
			Logger:       log,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.Session.MaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    limiter,
		StatusRecorder: collector,
		Auth: handler.AuthHandlerConfig{
			BaseURL:        cfg.BaseURL,
			CookieDomain:   cfg.CookieDomain,
			CookieSecure:   cfg.CookieSecure,
			GoogleClientID: cfg.GoogleClientID,
		},
		Listings:       listings,
		Orders:         orders,
		Searcher:       searcher,
		Profiles:       profiles,
		PublicProfiles: profile.NewPublicLoader(api, storage),
		Health:         health,
		Metrics:        metrics.Handler(reg),
	})

	return &server{
		handler: router,
		store:   store,
		db:      db,
		metrics: collector,
		limiter: limiter,
	}, nil
}

// newAPIHTTPClient はバックエンドAPI用のHTTPクライアントを返す。
// 期限はトランスポートの既定値とリクエストのcontextのみで、クライアント側のタイムアウトは付けない。
func newAPIHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport}
}

// newCleanupJob は保存期間を過ぎたセッションを削除するジョブを生成する。
func newCleanupJob(store sessionStore, cfg *config.Config, collector *metrics.Collector) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(store, cfg.Session.MaxAge, slog.Default())
	if collector != nil {
		job.Recorder = collector
	}
	return job
}

// runServe はHTTPサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
// セッションをメモリに保持する場合は、クリーンアップジョブもこのプロセスで実行する。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := newServer(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.Close()

	if srv.db == nil {
		go newCleanupJob(srv.store, cfg, srv.metrics).Loop(ctx, cfg.Session.CleanupInterval)
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down HTTP server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLに保存されたセッションのうち、保存期間を過ぎたものを定期的に削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("worker requires DATABASE_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, db, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.Session.CleanupInterval),
		slog.Duration("retention", cfg.Session.MaxAge),
	)

	// メインgoroutineで実行（ブロッキング）
	newCleanupJob(store, cfg, nil).Loop(ctx, cfg.Session.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
