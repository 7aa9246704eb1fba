package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/isotope-submissions-api/internal/dto"
	"github.com/noah-isme/isotope-submissions-api/internal/middleware"
	"github.com/noah-isme/isotope-submissions-api/internal/models"
	"github.com/noah-isme/isotope-submissions-api/pkg/response"
)

type reconciler interface {
	Run(ctx context.Context) (*models.ReconcileReport, error)
}

// StatusInfo describes the running configuration for the status endpoint.
type StatusInfo struct {
	Backend      string
	EmailEnabled bool
	AutoApprove  bool
}

// AdminHandler exposes operational endpoints for the admin page.
type AdminHandler struct {
	reconciler reconciler
	info       StatusInfo
	now        func() time.Time
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(reconciler reconciler, info StatusInfo) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, info: info, now: time.Now}
}

// Status godoc
// @Summary Server status
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /status [get]
func (h *AdminHandler) Status(c *gin.Context) {
	response.JSON(c, http.StatusOK, dto.StatusResponse{
		Status:       "running",
		Timestamp:    h.now().UTC().Format(time.RFC3339),
		Backend:      h.info.Backend,
		EmailEnabled: h.info.EmailEnabled,
		AutoApprove:  h.info.AutoApprove,
	})
}

// Reconcile godoc
// @Summary Cross-check submissions against published measurements
// @Description Reports inconsistencies without repairing them.
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/reconcile [get]
func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "consistent", report.Consistent())
	response.JSON(c, http.StatusOK, report, middleware.ExtractMeta(c))
}
