package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"securelink/internal/server/config"
	"securelink/internal/server/metrics"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. ctx bounds the rate limiter's background cleanup.
func SetupRouter(ctx context.Context, handler *Handler, cfg *config.Config, reg *prometheus.Registry, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderUserID, HeaderShareToken},
	}))
	e.Use(middleware.BodyLimit(bodyLimit(cfg.MaxFileSize)))
	e.Use(RequestLogger(m))

	// Uploads, anonymous share access and snippets are rate-limited per IP.
	limiter := NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
	limited := limiter.Middleware()

	// Health, readiness & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/ready", handler.HandleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	api := e.Group("/api")
	api.GET("/stats", handler.HandleStats)
	api.GET("/search", handler.HandleSearch)

	// Files
	api.POST("/files", handler.HandleUpload, limited)
	api.GET("/files/:id/download", handler.HandleDownload)
	api.POST("/files/:id/confirm-burn", handler.HandleConfirmBurn)

	// Folders
	api.POST("/folders", handler.HandleCreateFolder)
	api.PATCH("/folders/:id", handler.HandleFolderSettings)

	// Any node
	api.GET("/nodes", handler.HandleList)
	api.POST("/nodes/bulk-delete", handler.HandleBulkDelete)
	api.GET("/nodes/:id", handler.HandleGet)
	api.GET("/nodes/:id/path", handler.HandlePath)
	api.GET("/nodes/:id/size", handler.HandleSize)
	api.GET("/nodes/:id/audit", handler.HandleHistory)
	api.POST("/nodes/:id/move", handler.HandleMove)
	api.POST("/nodes/:id/archive", handler.HandleArchive)
	api.POST("/nodes/:id/restore", handler.HandleRestore)
	api.DELETE("/nodes/:id", handler.HandleDelete)

	// Sharing
	api.POST("/share/folder/:id", handler.HandleCreateShare)
	api.DELETE("/share/folder/:id", handler.HandleRevokeShare)
	api.GET("/share/folder/:id/status", handler.HandleShareStatus)
	api.GET("/share/:token", handler.HandleOpenShare, limited)

	// Snippets
	api.POST("/snippets", handler.HandleCreateSnippet, limited)
	api.GET("/snippets/:id", handler.HandleGetSnippet, limited)

	return e
}

// bodyLimit leaves headroom over the file limit for multipart framing.
func bodyLimit(maxFileSize int64) string {
	const overhead = 1 << 20
	return fmt.Sprintf("%dK", (maxFileSize+overhead)/1024+1)
}
