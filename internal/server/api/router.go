package api

import (
	"loft/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on the write endpoints
	writeLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limited := writeLimiter.Middleware()

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Upload plane
	e.POST("/api/uploads", handler.HandleRegisterUpload, limited)
	e.PUT("/api/uploads/:id/data", handler.HandleUploadData, limited)

	// Download plane
	e.GET("/api/blobs/:id/data", handler.HandleBlobData)
	e.GET("/api/blobs/:id/url", handler.HandleDownloadURL)

	// File namespace
	e.GET("/api/files", handler.HandleList)
	e.GET("/api/files/stat", handler.HandleStat)
	e.POST("/api/files/commit", handler.HandleCommit, limited)
	e.POST("/api/files/transact", handler.HandleTransact, limited)
	e.POST("/api/files/move", handler.HandleMove, limited)
	e.POST("/api/files/copy", handler.HandleCopy, limited)
	e.DELETE("/api/files", handler.HandleDelete, limited)

	// Configuration
	e.PUT("/api/config", handler.HandleSetConfig, limited)

	// Admin surface
	e.POST("/api/admin/freeze", handler.HandleFreeze, AdminAuth(cfg.AdminTokenHash))

	return e
}
