package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// ReconciliationsHandler exposes the durable reconciliation rows for
// operator follow-up (unresolvable and failed outcomes in particular).
type ReconciliationsHandler struct {
	records RecordLister
	logger  *zap.Logger
}

func NewReconciliationsHandler(records RecordLister, logger *zap.Logger) *ReconciliationsHandler {
	return &ReconciliationsHandler{records: records, logger: logger}
}

func (h *ReconciliationsHandler) ListRecent(c *gin.Context) {
	ctx, span := otel.Tracer("reconciler-svc").Start(c.Request.Context(), "ListReconciliations")
	defer span.End()

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = parsed
	}

	records, err := h.records.ListRecent(ctx, limit)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list reconciliations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":           len(records),
		"reconciliations": records,
	})
}
