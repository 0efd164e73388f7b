package patient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsync/internal/platform/auth"
	"github.com/ehr/patientsync/pkg/pagination"
)

// SyncGate refreshes a user's patients from the provider when the cached
// copy is stale.
type SyncGate interface {
	GetOrSync(ctx context.Context, userID string) SyncStatus
	Refresh(ctx context.Context, userID string) SyncStatus
}

type Handler struct {
	svc  *Service
	gate SyncGate
}

func NewHandler(svc *Service, gate SyncGate) *Handler {
	return &Handler{svc: svc, gate: gate}
}

// RegisterRoutes mounts the patient endpoints. syncMW wraps only the forced
// sync endpoint, which is the one that always reaches the provider.
func (h *Handler) RegisterRoutes(api *echo.Group, syncMW ...echo.MiddlewareFunc) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients/sync", h.SyncPatients, syncMW...)
	api.GET("/patients/:id", h.GetPatient)
}

// ListResponse is the paginated patient list plus the sync freshness.
type ListResponse struct {
	*pagination.Response
	LatestSyncAt  time.Time `json:"latest_sync_at"`
	StatusMessage string    `json:"status_message,omitempty"`
}

func (h *Handler) ListPatients(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	status := h.gate.GetOrSync(ctx, userID)

	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(ctx, userID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if patients == nil {
		patients = []*Patient{}
	}
	return c.JSON(http.StatusOK, ListResponse{
		Response:      pagination.NewResponse(patients, total, pg),
		LatestSyncAt:  status.CachedAt,
		StatusMessage: status.StatusMessage,
	})
}

func (h *Handler) SyncPatients(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return c.JSON(http.StatusOK, h.gate.Refresh(ctx, userID))
}

func (h *Handler) GetPatient(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(ctx, userID, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
