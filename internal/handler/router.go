// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mediapost/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	AccountFinder     middleware.AccountFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// アップロード
	UploadManager UploadManager
	MediaStager   MediaStager
	Sanitizer     CaptionSanitizer
	UploadMaxSize int64

	// フィード
	FeedService  ConversationService
	FeedPageSize int

	// ホスティング先
	Servers ServerLister
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Account → RateLimit(General)
//
// /health と /metrics はアカウント解決の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	uploadHandler := NewUploadHandler(deps.UploadManager, deps.MediaStager, deps.Sanitizer, deps.UploadMaxSize, logger)
	feedHandler := NewFeedHandler(deps.FeedService, deps.FeedPageSize, logger)

	// --- アカウント不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- アカウントが必要なルート ---
	// ミドルウェアスタック: Account → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAccountMiddleware(deps.AccountFinder, logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// アップロードセッション
		r.Route("/api/uploads", func(r chi.Router) {
			// POST /api/uploads - アップロード開始（専用レート制限を追加）
			r.With(deps.RateLimiter.UploadMiddleware()).Post("/", uploadHandler.CreateUpload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", uploadHandler.GetUpload)
				r.Delete("/", uploadHandler.CancelUpload)
			})
		})

		// 会話フィード
		r.Get("/api/feeds/conversations", feedHandler.ListConversations)

		// ホスティング先
		if deps.Servers != nil {
			r.Get("/api/servers", NewServerHandler(deps.Servers).ListServers)
		}
	})

	return r
}
