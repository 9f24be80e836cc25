package sync

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ihep/integration-gateway/internal/canonical"
)

// Handler exposes sync triggering and status over HTTP.
type Handler struct {
	orch  *Orchestrator
	store Store
}

func NewHandler(orch *Orchestrator, store Store) *Handler {
	return &Handler{orch: orch, store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sync/:partner", h.TriggerSync)
	g.GET("/sync/:partner/status", h.GetStatus)
	g.POST("/sync", h.TriggerAll)
}

type triggerRequest struct {
	Direction     string   `json:"direction"`
	ResourceTypes []string `json:"resource_types,omitempty"`
	ForceFull     bool     `json:"force_full,omitempty"`
}

// TriggerSync starts a sync attempt for one partner. A partner already
// syncing gets a structured 409, not a queued duplicate.
func (h *Handler) TriggerSync(c echo.Context) error {
	partnerID := c.Param("partner")

	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	direction := Direction(req.Direction)
	switch direction {
	case DirectionInbound, DirectionOutbound, DirectionBidirectional:
	case "":
		direction = DirectionBidirectional
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "direction must be inbound, outbound or bidirectional")
	}

	var types []canonical.ResourceType
	for _, t := range req.ResourceTypes {
		types = append(types, canonical.ResourceType(t))
	}

	results, err := h.orch.SyncPartner(c.Request().Context(), partnerID, direction, types, req.ForceFull)
	if err != nil {
		switch {
		case errors.Is(err, ErrSyncInProgress):
			return c.JSON(http.StatusConflict, map[string]string{
				"partner_id": partnerID,
				"status":     string(StatusSyncing),
				"error":      "sync already in progress",
			})
		case errors.Is(err, ErrUnknownPartner):
			return echo.NewHTTPError(http.StatusNotFound, "unknown partner")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, results)
}

// GetStatus returns the partner's current sync state.
func (h *Handler) GetStatus(c echo.Context) error {
	partnerID := c.Param("partner")
	if _, ok := h.orch.registry.Get(partnerID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown partner")
	}
	state, err := h.store.Get(c.Request().Context(), partnerID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, state)
}

// TriggerAll syncs every registered partner in its configured mode.
func (h *Handler) TriggerAll(c echo.Context) error {
	return c.JSON(http.StatusOK, h.orch.SyncAllPartners(c.Request().Context()))
}
