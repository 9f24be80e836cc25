package webhook

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ihep/integration-gateway/pkg/pagination"
)

// SecretResolver looks up the shared secret configured for a source. known is
// false for sources the gateway has never heard of.
type SecretResolver func(source string) (secret string, known bool)

// Handler is the echo ingestion endpoint for partner webhooks.
type Handler struct {
	router  *Router
	store   EventStore
	secrets SecretResolver
	logger  zerolog.Logger
}

func NewHandler(router *Router, store EventStore, secrets SecretResolver, logger zerolog.Logger) *Handler {
	return &Handler{router: router, store: store, secrets: secrets, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks/:source", h.Receive)
	g.GET("/webhooks/events", h.ListEvents)
	g.GET("/webhooks/events/:id", h.GetEvent)
}

// Receive authenticates and processes one inbound notification. Verification
// runs over the raw body bytes before any parsing.
func (h *Handler) Receive(c echo.Context) error {
	source := c.Param("source")
	secret, known := h.secrets(source)
	if !known {
		return echo.NewHTTPError(http.StatusNotFound, "unknown webhook source")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	signature := c.Request().Header.Get("X-Webhook-Signature")
	if secret == "" {
		h.logger.Warn().
			Str("source_hash", HashSource(source)).
			Msg("source has no shared secret configured, skipping signature verification")
	} else if !VerifySignature(body, signature, secret) {
		h.logger.Warn().
			Str("source_hash", HashSource(source)).
			Msg("webhook signature verification failed")
		return echo.NewHTTPError(http.StatusUnauthorized, ErrSignatureInvalid.Error())
	}

	eventType := c.Request().Header.Get("X-Webhook-Event")
	evt := NewEvent(source, eventType, body)
	if err := h.store.Create(c.Request().Context(), evt); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record event")
	}

	if err := h.router.Process(c.Request().Context(), evt); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"event_id": evt.ID,
			"status":   evt.Status,
			"error":    evt.LastError,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"event_id": evt.ID,
		"status":   evt.Status,
	})
}

// ListEvents returns stored events filtered by status, newest last.
func (h *Handler) ListEvents(c echo.Context) error {
	status := Status(c.QueryParam("status"))
	if status == "" {
		status = StatusFailed
	}

	p := pagination.FromContext(c)
	events, total, err := h.store.ListByStatus(c.Request().Context(), status, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list events")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, p.Limit, p.Offset))
}

// GetEvent returns a stored event by id for inspection.
func (h *Handler) GetEvent(c echo.Context) error {
	evt, err := h.store.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	}
	return c.JSON(http.StatusOK, evt)
}
