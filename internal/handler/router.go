package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/moolawar/moolabot/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 連携
	LinkService LinkServiceInterface

	// ヘルスチェック
	DB *sql.DB

	// メトリクス。nilの場合は/metricsを公開しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → RateLimit(Link)
//
// ヘルスチェック（/health）はCORSとレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	linkHandler := NewLinkHandler(deps.LinkService)

	// ヘルスチェック
	r.Get("/health", healthHandler(deps.DB))

	// Prometheusスクレイプエンドポイント
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// 連携API
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(deps.RateLimiter.LinkMiddleware())

		r.Post("/api/link", linkHandler.Redeem)
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
