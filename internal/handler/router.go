package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups every HTTP handler the API serves.
type Handlers struct {
	Submissions *SubmissionHandler
	Exports     *ExportHandler
	Admin       *AdminHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts operational endpoints at the root and the API under
// prefix.
func RegisterRoutes(r gin.IRouter, prefix string, h Handlers) {
	if h.Metrics != nil {
		r.GET("/health", h.Metrics.Health)
		r.GET("/ready", h.Metrics.Ready)
		r.GET("/metrics", h.Metrics.Prometheus)
	}

	api := r.Group(prefix)
	if h.Submissions != nil {
		api.POST("/submit", h.Submissions.Submit)
		api.GET("/submissions", h.Submissions.List)
		api.GET("/submissions/:id", h.Submissions.Get)
		api.POST("/approve/:id", h.Submissions.Approve)
		api.POST("/reject/:id", h.Submissions.Reject)
		api.GET("/approved", h.Submissions.ListApproved)
	}
	if h.Exports != nil {
		api.GET("/approved/export", h.Exports.Download)
		api.POST("/admin/publish", h.Exports.Publish)
	}
	if h.Admin != nil {
		api.GET("/status", h.Admin.Status)
		api.GET("/admin/reconcile", h.Admin.Reconcile)
	}
}
