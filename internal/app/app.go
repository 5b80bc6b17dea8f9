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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/socialwatch/internal/account"
	"github.com/hitoshi/socialwatch/internal/clock"
	"github.com/hitoshi/socialwatch/internal/config"
	"github.com/hitoshi/socialwatch/internal/database"
	"github.com/hitoshi/socialwatch/internal/handler"
	"github.com/hitoshi/socialwatch/internal/logger"
	"github.com/hitoshi/socialwatch/internal/metrics"
	"github.com/hitoshi/socialwatch/internal/middleware"
	"github.com/hitoshi/socialwatch/internal/mockdata"
	"github.com/hitoshi/socialwatch/internal/ratelimit"
	"github.com/hitoshi/socialwatch/internal/repository"
	"github.com/hitoshi/socialwatch/internal/security"
	"github.com/hitoshi/socialwatch/internal/social"
	"github.com/hitoshi/socialwatch/internal/upstream"
	"github.com/hitoshi/socialwatch/internal/worker/cleanup"
	"github.com/hitoshi/socialwatch/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

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
		fmt.Fprint(w, Usage())
		return err
	}
	if cmd == CommandHelp {
		fmt.Fprint(w, Usage())
		return nil
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
		slog.String("account_store", cfg.AccountStore),
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

// App は組み立て済みの依存関係一式。
// serve と worker の両方が同じ組み立てを使う。
type App struct {
	Handler  http.Handler
	Social   *social.Service
	Accounts *account.Service
	Refresh  *refresh.Scheduler
	Cleanup  *cleanup.CleanupJob
	Registry *prometheus.Registry

	db     *sql.DB
	logger *slog.Logger
}

// New は設定から全依存関係をワイヤリングしたAppを生成する。
// アカウントストアがDBの場合は接続を開くため、呼び出し側で Close すること。
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	clk := clock.Real{}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. アカウントストア
	repo, db, err := openAccountRepo(cfg)
	if err != nil {
		return nil, err
	}

	// 3. 上流クライアントとモックデータ
	credentials := config.NewCredentialSource()
	limiter := ratelimit.New(ratelimit.Config{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMaxRequests,
	}, clk)
	guard := security.NewURLGuard()
	client := upstream.NewClient(
		guard.NewUpstreamHTTPClient(cfg.UpstreamTimeout),
		upstream.Config{BaseURL: cfg.UpstreamBaseURL, Timeout: cfg.UpstreamTimeout},
		limiter, credentials, collector, log,
	)
	provider := mockdata.NewProvider(mockdata.Config{
		Delay:       cfg.MockDelay,
		FailureRate: cfg.MockFailureRate,
	}, clk, log)

	// 4. ドメインサービス
	socialSvc := social.NewService(client, provider, credentials, limiter, social.Config{
		ProfileTTL:   cfg.ProfileCacheTTL,
		PostsTTL:     cfg.PostsCacheTTL,
		MockPostsTTL: cfg.MockPostsCacheTTL,
	}, clk, collector, log)

	accountSvc := account.NewService(repo, socialSvc, account.Config{
		Validation: account.ValidationPolicy(cfg.AccountValidation),
		StaleAfter: cfg.AccountStaleAfter,
	}, clk, log)

	socialSvc.OnPostsFetched(func(ctx context.Context, handle string) {
		if err := accountSvc.TouchLastFetched(ctx, handle); err != nil {
			log.Error("最終取得日時の更新に失敗しました",
				slog.String("handle", handle),
				slog.String("error", err.Error()),
			)
		}
	})

	if cfg.SeedDemoAccounts {
		n, err := accountSvc.SeedDemo(ctx)
		if err != nil {
			closeDB(db)
			return nil, fmt.Errorf("failed to seed demo accounts: %w", err)
		}
		log.Info("demo accounts seeded", slog.Int("count", n))
	}

	// 5. APIレート制限とルーター
	apiLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral),
		clk, collector, log,
	)

	deps := &handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		AuthTokens:        cfg.AuthTokens,
		AdminPrincipals:   cfg.AdminPrincipals,
		RateLimiter:       apiLimiter,
		Gatherer:          reg,
		SocialService:     socialSvc,
		ServiceAdmin:      socialSvc,
		ModeSetter:        credentials,
		AccountService:    accountSvc,
	}
	if db != nil {
		deps.HealthChecker = db
	}

	// 6. ワーカー
	scheduler := refresh.NewScheduler(accountSvc, socialSvc, refresh.Config{
		MaxConcurrency: cfg.RefreshMaxConcurrent,
		PostLimit:      cfg.RefreshPostLimit,
	}, clk, collector, log)

	cleanupJob := cleanup.NewCleanupJob(log,
		cleanup.Target{Name: "cache", Pruner: cleanup.PrunerFunc(socialSvc.PurgeExpired)},
		cleanup.Target{Name: "upstream_rate_limit", Pruner: limiter},
		cleanup.Target{Name: "api_rate_limit", Pruner: apiLimiter},
		cleanup.Target{Name: "mock_feeds", Pruner: provider},
	)

	return &App{
		Handler:  handler.NewRouter(deps),
		Social:   socialSvc,
		Accounts: accountSvc,
		Refresh:  scheduler,
		Cleanup:  cleanupJob,
		Registry: reg,
		db:       db,
		logger:   log,
	}, nil
}

// Close はDB接続を閉じる。メモリストアの場合は何もしない。
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// StartWorkers はクリーンアップと、refreshInterval が正の場合は定期取得をバックグラウンドで起動する。
// ctx がキャンセルされると停止する。
func (a *App) StartWorkers(ctx context.Context, refreshInterval, cleanupInterval time.Duration) {
	if refreshInterval > 0 {
		go a.Refresh.Start(ctx, refreshInterval)
	}
	go a.Cleanup.Start(ctx, cleanupInterval)
}

// openAccountRepo は設定に応じたアカウントリポジトリを開く。
// メモリストアの場合、返す *sql.DB は nil。
func openAccountRepo(cfg *config.Config) (repository.AccountRepository, *sql.DB, error) {
	switch cfg.AccountStore {
	case config.StorePostgres:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established", slog.String("store", cfg.AccountStore))
		return repository.NewPostgresAccountRepo(db), db, nil
	case config.StoreSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		slog.Info("database connection established",
			slog.String("store", cfg.AccountStore),
			slog.String("path", cfg.SQLitePath),
		)
		return repository.NewSQLiteAccountRepo(db), db, nil
	default:
		return repository.NewMemoryAccountRepo(), nil, nil
	}
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、定期取得とクリーンアップを同一プロセスで動かしながらHTTPサーバーを起動する。
// キャッシュとレート制限はプロセス内の状態のため、ワーカーもAPIと同じプロセスで共有する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	refreshInterval := cfg.RefreshInterval
	if !cfg.RefreshInServe {
		// 定期取得は別プロセスの worker が担当する
		refreshInterval = 0
	}
	a.StartWorkers(workerCtx, refreshInterval, cfg.CleanupInterval)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// HTTPサーバーを起動せず、定期取得スケジューラとクリーンアップのみを実行する。
// PostgreSQL/SQLiteストアでAPIと別プロセスに分ける場合に使う。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.AccountStore == config.StoreMemory {
		slog.Warn("worker with memory store refreshes only its own seeded accounts")
	}

	a, err := New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("max_concurrent", cfg.RefreshMaxConcurrent),
	)

	go a.Cleanup.Start(ctx, cfg.CleanupInterval)

	// 定期取得スケジューラをメインgoroutineで実行（ブロッキング）
	a.Refresh.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。メモリストアでは何もしない。
func runMigrate(cfg *config.Config) error {
	switch cfg.AccountStore {
	case config.StorePostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case config.StoreSQLite:
		// OpenSQLite が未適用のマイグレーションを適用する
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer db.Close()
		version, err := database.SQLiteVersion(db)
		if err != nil {
			return err
		}
		slog.Info("sqlite schema version", slog.Int64("version", version))
	default:
		slog.Info("memory store has no schema to migrate")
		return nil
	}

	slog.Info("database migrations completed successfully")
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
