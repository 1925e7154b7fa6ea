package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mediapost/internal/config"
	"github.com/hitoshi/mediapost/internal/database"
	"github.com/hitoshi/mediapost/internal/event"
	"github.com/hitoshi/mediapost/internal/feed"
	"github.com/hitoshi/mediapost/internal/handler"
	"github.com/hitoshi/mediapost/internal/hosting"
	"github.com/hitoshi/mediapost/internal/logger"
	"github.com/hitoshi/mediapost/internal/media"
	"github.com/hitoshi/mediapost/internal/metrics"
	"github.com/hitoshi/mediapost/internal/middleware"
	"github.com/hitoshi/mediapost/internal/model"
	"github.com/hitoshi/mediapost/internal/publish"
	"github.com/hitoshi/mediapost/internal/repository"
	"github.com/hitoshi/mediapost/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandAccount:
		return runAccount(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// buildRegistry はホスティング先のRegistryを構築する。
// HOSTING_SERVERS_FILEが指定された場合は組み込みのターゲットを置き換え、
// S3の設定が揃っている場合はS3ターゲットを追加する。
func buildRegistry(cfg *config.Config) (*hosting.Registry, error) {
	targets := hosting.DefaultTargets()
	if cfg.HostingServersFile != "" {
		loaded, err := hosting.LoadRegistryFile(cfg.HostingServersFile)
		if err != nil {
			return nil, err
		}
		targets = loaded
	}
	if cfg.S3Enabled() {
		targets = append(targets, hosting.S3Target())
	}
	return hosting.NewRegistry(targets...)
}

// rateLimiterConfig は設定値からレート制限設定を組み立てる。
// RATE_LIMIT_UPLOADはreq/min単位なのでreq/secに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitUpload > 0 {
		rlCfg.UploadRate = rate.Limit(float64(cfg.RateLimitUpload) / 60.0)
		rlCfg.UploadBurst = cfg.RateLimitUpload
	}
	return rlCfg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, dbPool(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	noteRepo := repository.NewPostgresNoteRepo(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. メディアとホスティング先の初期化
	store, err := media.NewStore(cfg.MediaDir, cfg.UploadMaxSize)
	if err != nil {
		return fmt.Errorf("failed to prepare media dir: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("failed to build hosting registry: %w", err)
	}

	httpUploader := hosting.NewHTTPUploader(store, collector, log, cfg.UploadTimeout)
	var s3Uploader publish.Uploader
	if cfg.S3Enabled() {
		s3Uploader = hosting.NewS3Uploader(hosting.S3Config{
			Region:        cfg.S3Region,
			BaseEndpoint:  cfg.S3BaseEndpoint,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, store, collector, log, cfg.UploadTimeout)
	}

	// 4. 署名・送信の初期化
	ssrfGuard := security.NewSSRFGuard()
	downloader := media.NewDownloader(ssrfGuard, collector, log, cfg.DownloadTimeout, cfg.DownloadMaxSize)
	signer := event.NewRemoteSigner(&http.Client{Timeout: cfg.SignerTimeout}, cfg.SignerURL, log)
	broadcaster := event.NewCacheBroadcaster(noteRepo, log)

	// 5. パイプラインとセッション管理の初期化
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := publish.NewPool(cfg.PublishMaxConcurrent, log)
	manager := publish.NewManager(ctx, publish.Deps{
		Uploader:    hosting.NewDispatcher(httpUploader, s3Uploader),
		Reader:      store,
		Downloader:  downloader,
		Descriptors: media.NewDescriptorBuilder(),
		Signer:      signer,
		Broadcaster: broadcaster,
		Targets:     registry,
		Pool:        pool,
		Metrics:     collector,
		Logger:      log,
	}, publish.Options{GraceUnit: cfg.PublishGraceUnit}, store, log)
	go manager.StartSweeper(ctx, cfg.SweepInterval, cfg.SessionTTL)

	feedService := feed.NewService(noteRepo, accountRepo, collector, log)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg), log)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		AccountFinder:     accountRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		UploadManager:     manager,
		MediaStager:       store,
		Sanitizer:         security.NewCaptionSanitizer(),
		UploadMaxSize:     cfg.UploadMaxSize,
		FeedService:       feedService,
		FeedPageSize:      cfg.FeedPageSize,
		Servers:           registry,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.UploadTimeout,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Any("hosting_servers", registry.IDs()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	log.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 実行中のパイプラインをキャンセルし、完了を待つ
	cancel()
	pool.Wait()

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	st, err := database.Status(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(st.Version)),
	)
	return nil
}

// dbPool はConfigからコネクションプールの設定を組み立てる。
func dbPool(cfg *config.Config) database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// parseAccountArgs はaccountサブコマンドの引数を解析する。
func parseAccountArgs(args []string) (*model.Account, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, fmt.Errorf("usage: account <pubkey> [default-server-id]")
	}
	account := &model.Account{PubKey: strings.ToLower(strings.TrimSpace(args[0]))}
	if len(args) > 1 {
		account.DefaultServerID = strings.TrimSpace(args[1])
	}
	return account, nil
}

// runAccount はアカウントを登録または更新する。
// 既定のサーバーIDが指定された場合はRegistryに存在することを確認する。
func runAccount(cfg *config.Config, args []string) error {
	account, err := parseAccountArgs(args)
	if err != nil {
		return err
	}

	if account.DefaultServerID != "" {
		registry, err := buildRegistry(cfg)
		if err != nil {
			return fmt.Errorf("failed to build hosting registry: %w", err)
		}
		if _, ok := registry.Lookup(account.DefaultServerID); !ok {
			return model.NewUnknownServerError(account.DefaultServerID)
		}
	}

	db, err := database.Open(cfg.DatabaseURL, dbPool(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := repository.NewPostgresAccountRepo(db).Upsert(ctx, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	slog.Info("アカウントを登録しました",
		slog.String("pubkey", account.PubKey),
		slog.String("default_server", account.DefaultServerID),
	)
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
