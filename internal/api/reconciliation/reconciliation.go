// Package reconciliation exposes donation ledger reconciliation over HTTP.
package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	recon "github.com/sparkcreatives/spark-portal/internal/reconciliation"
	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

// Runner is implemented by the reconciliation service.
type Runner interface {
	Run(ctx context.Context) (*recon.Report, error)
	Latest(ctx context.Context) (*recon.Report, error)
}

var _ Runner = (*recon.Service)(nil)

// Handler serves the reconciliation endpoints.
type Handler struct {
	runner Runner
}

// NewHandler creates a reconciliation handler.
func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner}
}

// @Summary      Run reconciliation
// @Description  Rolls up the Square and internal donation ledgers by designation, stores the report and returns it.
// @Tags         Reconciliation
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "square, internal, variance_total, generated_at"
// @Failure      422  {object}  map[string]interface{}  "A ledger row has an invalid amount"
// @Failure      500  {object}  map[string]interface{}  "Storage error"
// @Router       /api/v1/reconciliation/run [post]
// Run handles POST /api/v1/reconciliation/run
func (h *Handler) Run(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.runner.Run(ctx)
	switch {
	case err == nil:
		telemetry.ReconciliationRunsTotal.WithLabelValues("success").Inc()
		c.JSON(http.StatusOK, report)
	case errors.Is(err, recon.ErrInvalidLedger):
		telemetry.ReconciliationRunsTotal.WithLabelValues("invalid_ledger").Inc()
		slog.WarnContext(ctx, "reconciliation rejected ledger", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		telemetry.ReconciliationRunsTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
	}
}

// @Summary      Latest reconciliation report
// @Description  Returns the most recently stored report, or {"status":"no report"} before the first run.
// @Tags         Reconciliation
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "square, internal, variance_total, generated_at"
// @Failure      500  {object}  map[string]interface{}  "Storage error"
// @Router       /api/v1/reconciliation/latest [get]
// Latest handles GET /api/v1/reconciliation/latest
func (h *Handler) Latest(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.runner.Latest(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, recon.ErrNoReport):
		c.JSON(http.StatusOK, gin.H{"status": "no report"})
	default:
		slog.ErrorContext(ctx, "failed to read reconciliation report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read reconciliation report"})
	}
}
