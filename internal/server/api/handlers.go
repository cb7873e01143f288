package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"loft/internal/server/database"
	"loft/internal/server/metadata"
	"loft/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the loft API.
type Handler struct {
	svc *service.Service
	db  *database.DB // nil when running on the in-memory store
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.Service, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

// HandleRegisterUpload handles POST /api/uploads.
// Registers a pending upload and returns the URL to PUT the bytes to.
func (h *Handler) HandleRegisterUpload(c echo.Context) error {
	var req struct {
		BlobID      string `json:"blob_id"`
		ContentType string `json:"content_type"`
		Size        int64  `json:"size"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	pending, err := h.svc.RegisterPendingUpload(c.Request().Context(), req.BlobID, req.ContentType, req.Size)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, pending)
}

// HandleUploadData handles PUT /api/uploads/:id/data.
// The data plane for backends without signed uploads: streams the request
// body into the storage backend.
func (h *Handler) HandleUploadData(c echo.Context) error {
	id := c.Param("id")
	req := c.Request()

	size, err := h.svc.ProxyUpload(req.Context(), id, req.Header.Get("Content-Type"), req.ContentLength, req.Body)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"blob_id": id, "size": size})
}

// HandleBlobData handles GET /api/blobs/:id/data.
// Serves blob bytes for backends that cannot sign download URLs.
func (h *Handler) HandleBlobData(c echo.Context) error {
	data, contentType, err := h.svc.OpenBlob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.Blob(http.StatusOK, contentType, data)
}

// HandleDownloadURL handles GET /api/blobs/:id/url.
func (h *Handler) HandleDownloadURL(c echo.Context) error {
	u, err := h.svc.DownloadURL(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": u})
}

// HandleCommit handles POST /api/files/commit.
// Binds previously-uploaded blobs to paths.
func (h *Handler) HandleCommit(c echo.Context) error {
	var req struct {
		Files []metadata.CommitEntry `json:"files"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.svc.Engine().CommitFiles(c.Request().Context(), req.Files); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"committed": len(req.Files)})
}

// HandleTransact handles POST /api/files/transact.
// Applies a journal of move/copy/delete/set_attributes operations
// atomically.
func (h *Handler) HandleTransact(c echo.Context) error {
	var req struct {
		Ops []metadata.Op `json:"ops"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.svc.Engine().Transact(c.Request().Context(), req.Ops); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"applied": len(req.Ops)})
}

// HandleStat handles GET /api/files/stat?path=...
func (h *Handler) HandleStat(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "path is required"})
	}

	md, err := h.svc.Engine().Stat(c.Request().Context(), path)
	if err != nil {
		return mapServiceError(c, err)
	}
	if md == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	}
	return c.JSON(http.StatusOK, md)
}

// HandleList handles GET /api/files?prefix=&cursor=&limit=.
func (h *Handler) HandleList(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}

	page, err := h.svc.Engine().List(c.Request().Context(), c.QueryParam("prefix"), c.QueryParam("cursor"), limit)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

type pathPairRequest struct {
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
}

func (r pathPairRequest) validate() error {
	if r.SourcePath == "" || r.DestPath == "" {
		return errors.New("source_path and dest_path are required")
	}
	return nil
}

// HandleMove handles POST /api/files/move.
func (h *Handler) HandleMove(c echo.Context) error {
	var req pathPairRequest
	if err := c.Bind(&req); err != nil || req.validate() != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "source_path and dest_path are required"})
	}
	if err := h.svc.Engine().MoveByPath(c.Request().Context(), req.SourcePath, req.DestPath); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "moved"})
}

// HandleCopy handles POST /api/files/copy.
func (h *Handler) HandleCopy(c echo.Context) error {
	var req pathPairRequest
	if err := c.Bind(&req); err != nil || req.validate() != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "source_path and dest_path are required"})
	}
	if err := h.svc.Engine().CopyByPath(c.Request().Context(), req.SourcePath, req.DestPath); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "copied"})
}

// HandleDelete handles DELETE /api/files?path=...
// Deleting an absent path succeeds: the desired state already holds.
func (h *Handler) HandleDelete(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "path is required"})
	}
	if err := h.svc.Engine().DeleteByPath(c.Request().Context(), path); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "deleted"})
}

// HandleSetConfig handles PUT /api/config.
// Idempotent: unchanged config (by checksum) writes nothing.
func (h *Handler) HandleSetConfig(c echo.Context) error {
	var cfg metadata.Config
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	changed, err := h.svc.SetConfig(c.Request().Context(), cfg)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": changed})
}

// HandleFreeze handles POST /api/admin/freeze.
// The out-of-band circuit breaker for upload and blob GC; guarded by the
// admin token middleware.
func (h *Handler) HandleFreeze(c echo.Context) error {
	var req struct {
		Frozen bool `json:"frozen"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.svc.SetFreezeGC(c.Request().Context(), req.Frozen); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"frozen": req.Frozen})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if h.db == nil {
		dbStatus = "in-memory"
	} else if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}
	return c.JSON(http.StatusOK, stats)
}

// mapServiceError translates metadata and service errors into appropriate
// HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var conflict *metadata.ConflictError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "conflict",
			"conflict": conflict,
		})
	case errors.Is(err, metadata.ErrInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, metadata.ErrNoUpload):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, metadata.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage not configured"})
	case errors.Is(err, metadata.ErrFileNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, metadata.ErrCorrupt):
		// A file row pointing at a missing blob is corruption, never
		// surfaced as not-found.
		slog.Error("metadata invariant violation", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "blob not found"})
	case errors.Is(err, service.ErrUploadExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "upload has expired"})
	case errors.Is(err, service.ErrBlobTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "blob exceeds maximum allowed size",
		})
	default:
		slog.Error("request failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
