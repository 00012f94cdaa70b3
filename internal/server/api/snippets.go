package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"securelink/internal/server/database"
	"securelink/internal/server/service"
)

type createSnippetRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	ExpiryDays    int    `json:"expiry_days"`
	BurnAfterRead bool   `json:"burn_after_read"`
}

type snippetResponse struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	BurnAfterRead bool       `json:"burn_after_read"`
}

func toSnippetResponse(s *database.Snippet) snippetResponse {
	return snippetResponse{
		ID:            s.ID,
		Title:         s.Title,
		Content:       s.Content,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
		BurnAfterRead: s.BurnAfterRead,
	}
}

// HandleCreateSnippet handles POST /api/snippets.
func (h *Handler) HandleCreateSnippet(c echo.Context) error {
	var req createSnippetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	snippet, err := h.svc.CreateSnippet(c.Request().Context(), requester(c), service.SnippetInput{
		Title:         req.Title,
		Content:       req.Content,
		ExpiresInDays: req.ExpiryDays,
		BurnAfterRead: req.BurnAfterRead,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toSnippetResponse(snippet))
}

// HandleGetSnippet handles GET /api/snippets/:id.
// Open to anonymous callers. Expired snippets answer 410 Gone.
func (h *Handler) HandleGetSnippet(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	snippet, err := h.svc.GetSnippet(c.Request().Context(), requester(c), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toSnippetResponse(snippet))
}
