package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/service"
)

// Identity headers set by the upstream authenticator.
const (
	HeaderUserID     = "X-User-Id"
	HeaderShareToken = "X-Share-Token"
	HeaderFolderPIN  = "X-Folder-Pin"
)

// Prober reports store health. *database.DB satisfies it.
type Prober interface {
	HealthCheck(ctx context.Context) error
	Ready(ctx context.Context) error
}

// Handler contains the HTTP handlers for the SecureLink API.
type Handler struct {
	svc *service.Service
	db  Prober
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.Service, db Prober) *Handler {
	return &Handler{svc: svc, db: db}
}

// requester builds the caller identity from the authenticator header, an
// optional share token and an optional folder PIN (header or query).
func requester(c echo.Context) service.Requester {
	return service.Requester{
		ID:         c.Request().Header.Get(HeaderUserID),
		ShareToken: headerOrQuery(c, HeaderShareToken, "shareToken"),
		FolderPIN:  headerOrQuery(c, HeaderFolderPIN, "folderPin"),
	}
}

func headerOrQuery(c echo.Context, header, param string) string {
	if v := c.Request().Header.Get(header); v != "" {
		return v
	}
	return c.QueryParam(param)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// optionalID parses an optional uuid; empty means nil.
func optionalID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// nodeResponse is the JSON form of a node.
type nodeResponse struct {
	ID                     uuid.UUID  `json:"id"`
	Type                   node.Kind  `json:"type"`
	Name                   string     `json:"name"`
	OwnerID                string     `json:"owner_id"`
	ParentID               *uuid.UUID `json:"parent_id"`
	CreatedAt              time.Time  `json:"created_at"`
	ExpiresAt              *time.Time `json:"expires_at"`
	IsArchived             bool       `json:"is_archived"`
	HasPin                 bool       `json:"has_pin"`
	AllowAnonymousView     bool       `json:"allow_anonymous_view"`
	AllowAnonymousDownload bool       `json:"allow_anonymous_download"`

	// Files
	ContentType       string `json:"content_type,omitempty"`
	Size              *int64 `json:"size,omitempty"`
	BurnAfterDownload bool   `json:"burn_after_download,omitempty"`

	// Folders
	AllowAnonymousUpload bool `json:"allow_anonymous_upload,omitempty"`
	IsShared             bool `json:"is_shared,omitempty"`
}

func toResponse(n node.Node) nodeResponse {
	h := n.Base()
	resp := nodeResponse{
		ID:                     h.ID,
		Type:                   n.Kind(),
		Name:                   h.Name,
		OwnerID:                h.OwnerID,
		ParentID:               h.ParentID,
		CreatedAt:              h.CreatedAt,
		ExpiresAt:              h.ExpiresAt,
		IsArchived:             h.IsArchived,
		HasPin:                 h.HasPin(),
		AllowAnonymousView:     h.AllowAnonymousView,
		AllowAnonymousDownload: h.AllowAnonymousDownload,
	}
	switch v := n.(type) {
	case *node.File:
		size := v.SizeBytes
		resp.ContentType = v.ContentType
		resp.Size = &size
		resp.BurnAfterDownload = v.BurnAfterDownload
	case *node.Folder:
		resp.AllowAnonymousUpload = v.AllowAnonymousUpload
		resp.IsShared = v.ShareToken != nil
	}
	return resp
}

func toResponses(nodes []node.Node) []nodeResponse {
	out := make([]nodeResponse, len(nodes))
	for i, n := range nodes {
		out[i] = toResponse(n)
	}
	return out
}

// HandleUpload handles POST /api/files.
// Accepts a multipart form with a "file" field and optional "parent_id",
// "expires_in_days", "pin" and "burn_after_download" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	parentID, err := optionalID(c.FormValue("parent_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid parent_id"})
	}

	var days int
	if raw := c.FormValue("expires_in_days"); raw != "" {
		if days, err = strconv.Atoi(raw); err != nil || days < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid expires_in_days"})
		}
	}
	burn, _ := strconv.ParseBool(c.FormValue("burn_after_download"))

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	file, err := h.svc.Upload(c.Request().Context(), requester(c), service.UploadInput{
		ParentID:          parentID,
		Filename:          fileHeader.Filename,
		ContentType:       fileHeader.Header.Get("Content-Type"),
		Size:              fileHeader.Size,
		Content:           src,
		ExpiresInDays:     days,
		PIN:               c.FormValue("pin"),
		BurnAfterDownload: burn,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, toResponse(file))
}

// HandleDownload handles GET /api/files/:id/download.
// Streams the file as an attachment. Accepts optional "pin", "folderPin" and
// "shareToken" query params. A burn-after-download file is only consumed once
// the whole body has been written.
func (h *Handler) HandleDownload(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	d, err := h.svc.Download(c.Request().Context(), requester(c), id, c.QueryParam("pin"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer d.Content.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": d.File.Name}))
	if d.File.SizeBytes > 0 {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(d.File.SizeBytes, 10))
	}
	contentType := d.File.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	res.Header().Set(echo.HeaderContentType, contentType)
	res.WriteHeader(http.StatusOK)

	if _, err := io.Copy(res, d.Content); err != nil {
		slog.Warn("download interrupted", "id", id, "error", err)
	}
	return nil
}

// HandleConfirmBurn handles POST /api/files/:id/confirm-burn.
func (h *Handler) HandleConfirmBurn(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.ConfirmBurn(c.Request().Context(), requester(c), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "file archived successfully"})
}

type createFolderRequest struct {
	ParentID  *uuid.UUID `json:"parent_id"`
	Name      string     `json:"name"`
	PIN       string     `json:"pin"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// HandleCreateFolder handles POST /api/folders.
func (h *Handler) HandleCreateFolder(c echo.Context) error {
	var req createFolderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	folder, err := h.svc.CreateFolder(c.Request().Context(), requester(c), service.FolderInput{
		ParentID:  req.ParentID,
		Name:      req.Name,
		PIN:       req.PIN,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(folder))
}

type folderSettingsRequest struct {
	Name                   *string    `json:"name"`
	AllowAnonymousView     *bool      `json:"allow_anonymous_view"`
	AllowAnonymousUpload   *bool      `json:"allow_anonymous_upload"`
	AllowAnonymousDownload *bool      `json:"allow_anonymous_download"`
	ExpiresAt              *time.Time `json:"expires_at"`
	PIN                    *string    `json:"pin"`
}

// HandleFolderSettings handles PATCH /api/folders/:id.
func (h *Handler) HandleFolderSettings(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req folderSettingsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	folder, err := h.svc.UpdateFolderSettings(c.Request().Context(), requester(c), id, service.FolderSettingsInput{
		Name:                   req.Name,
		AllowAnonymousView:     req.AllowAnonymousView,
		AllowAnonymousUpload:   req.AllowAnonymousUpload,
		AllowAnonymousDownload: req.AllowAnonymousDownload,
		ExpiresAt:              req.ExpiresAt,
		PIN:                    req.PIN,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(folder))
}

// HandleList handles GET /api/nodes. The optional "parent_id" query param
// selects the folder; without it the caller's root level is listed.
func (h *Handler) HandleList(c echo.Context) error {
	parentID, err := optionalID(c.QueryParam("parent_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid parent_id"})
	}

	children, err := h.svc.List(c.Request().Context(), requester(c), parentID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponses(children))
}

// HandleGet handles GET /api/nodes/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Get(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(n))
}

// HandlePath handles GET /api/nodes/:id/path.
func (h *Handler) HandlePath(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	path, err := h.svc.Path(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponses(path))
}

// HandleSize handles GET /api/nodes/:id/size.
func (h *Handler) HandleSize(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	size, err := h.svc.Size(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"size_bytes": size,
		"size_human": humanizeBytes(size),
	})
}

type auditResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	Details   *string   `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleHistory handles GET /api/nodes/:id/audit.
func (h *Handler) HandleHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.History(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:        e.ID,
			UserID:    e.UserID,
			Action:    e.Action,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type moveRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

// HandleMove handles POST /api/nodes/:id/move. A null parent_id moves the
// node to the root level.
func (h *Handler) HandleMove(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	moved, err := h.svc.Move(c.Request().Context(), requester(c), id, req.ParentID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(moved))
}

// HandleArchive handles POST /api/nodes/:id/archive.
func (h *Handler) HandleArchive(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Archive(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(n))
}

// HandleRestore handles POST /api/nodes/:id/restore.
func (h *Handler) HandleRestore(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Restore(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(n))
}

// HandleDelete handles DELETE /api/nodes/:id.
func (h *Handler) HandleDelete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), requester(c), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "deleted successfully"})
}

type bulkDeleteRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// HandleBulkDelete handles POST /api/nodes/bulk-delete.
func (h *Handler) HandleBulkDelete(c echo.Context) error {
	var req bulkDeleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	results, err := h.svc.BulkDelete(c.Request().Context(), requester(c), req.IDs)
	if err != nil {
		return mapServiceError(c, err)
	}

	type itemResult struct {
		ID    uuid.UUID `json:"id"`
		Error string    `json:"error,omitempty"`
	}
	items := make([]itemResult, len(results))
	var deleted int
	for i, r := range results {
		items[i] = itemResult{ID: r.ID}
		if r.Err != nil {
			items[i].Error = errorMessage(r.Err)
			continue
		}
		deleted++
	}

	return c.JSON(http.StatusOK, echo.Map{
		"deleted": deleted,
		"failed":  len(results) - deleted,
		"results": items,
	})
}

// HandleSearch handles GET /api/search?q=.
func (h *Handler) HandleSearch(c echo.Context) error {
	results, err := h.svc.Search(c.Request().Context(), requester(c), c.QueryParam("q"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toResponses(results))
}

type shareRequest struct {
	AllowView     bool       `json:"allow_view"`
	AllowUpload   bool       `json:"allow_upload"`
	AllowDownload bool       `json:"allow_download"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

func shareResponse(s *service.ShareStatus) echo.Map {
	if !s.Shared {
		return echo.Map{"is_shared": false}
	}
	return echo.Map{
		"is_shared": true,
		"token":     s.Token,
		"share_url": s.URL,
		"permissions": echo.Map{
			"can_view":     s.AllowView,
			"can_upload":   s.AllowUpload,
			"can_download": s.AllowDownload,
			"expires_at":   s.ExpiresAt,
		},
	}
}

// HandleCreateShare handles POST /api/share/folder/:id.
func (h *Handler) HandleCreateShare(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req shareRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	status, err := h.svc.CreateShare(c.Request().Context(), requester(c), id, service.ShareInput{
		AllowView:     req.AllowView,
		AllowUpload:   req.AllowUpload,
		AllowDownload: req.AllowDownload,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, shareResponse(status))
}

// HandleRevokeShare handles DELETE /api/share/folder/:id.
func (h *Handler) HandleRevokeShare(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RevokeShare(c.Request().Context(), requester(c), id); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "share link revoked successfully"})
}

// HandleShareStatus handles GET /api/share/folder/:id/status.
func (h *Handler) HandleShareStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	status, err := h.svc.ShareStatus(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, shareResponse(status))
}

// HandleOpenShare handles GET /api/share/:token.
func (h *Handler) HandleOpenShare(c echo.Context) error {
	token := c.Param("token")
	req := requester(c)
	req.ShareToken = token
	shared, err := h.svc.OpenShare(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(c, err)
	}

	f := shared.Folder
	return c.JSON(http.StatusOK, echo.Map{
		"folder":   toResponse(f),
		"children": toResponses(shared.Children),
		"permissions": echo.Map{
			"can_view":     f.AllowAnonymousView,
			"can_upload":   f.AllowAnonymousUpload,
			"can_download": f.AllowAnonymousDownload,
		},
		"share_token": token,
	})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleReady handles GET /ready. It answers 503 until the database is
// reachable and fully migrated.
func (h *Handler) HandleReady(c echo.Context) error {
	if err := h.db.Ready(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status": "not_ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"total_folders":      stats.TotalFolders,
		"archived_nodes":     stats.ArchivedNodes,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// errorMessage is the client-facing text for an error kind.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, filesystem.ErrNotFound):
		return "not found"
	case errors.Is(err, filesystem.ErrForbidden):
		return "access denied"
	case errors.Is(err, filesystem.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, filesystem.ErrInvalidOperation):
		return "invalid operation"
	case errors.Is(err, filesystem.ErrStorageUnavailable):
		return "storage unavailable"
	}
	return "internal server error"
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, filesystem.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, filesystem.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "access denied"})
	case errors.Is(err, filesystem.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, filesystem.ErrInvalidOperation):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, filesystem.ErrStorageUnavailable):
		slog.Error("storage unavailable", "path", c.Path(), "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage unavailable"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "expired"})
	case errors.Is(err, context.Canceled):
		return nil
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
