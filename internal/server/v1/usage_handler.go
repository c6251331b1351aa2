package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/costtrack"
	"github.com/nulzo/relay/internal/orchestrator"
)

type UsageHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewUsageHandler(orch *orchestrator.Orchestrator) *UsageHandler {
	return &UsageHandler{orchestrator: orch}
}

// Report aggregates spend over a date range. Both bounds are optional
// RFC 3339 timestamps; from defaults to the beginning of time, to defaults
// to now.
func (h *UsageHandler) Report(c *gin.Context) {
	var from, to time.Time
	var err error

	if raw := c.Query("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = c.Error(domain.BadRequestProblem("from must be an RFC 3339 timestamp"))
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = c.Error(domain.BadRequestProblem("to must be an RFC 3339 timestamp"))
			return
		}
	}

	c.JSON(http.StatusOK, h.orchestrator.UsageReport(from, to))
}

// Session returns a session's total and its individual priced requests.
func (h *UsageHandler) Session(c *gin.Context) {
	sessionID := c.Param("id")

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"total_cost": h.orchestrator.SessionCost(sessionID),
		"records":    h.orchestrator.SessionRecords(sessionID),
	})
}

// Export streams the full ledger as CSV or JSON.
func (h *UsageHandler) Export(c *gin.Context) {
	format := costtrack.ExportFormat(c.DefaultQuery("format", "csv"))

	switch format {
	case costtrack.FormatCSV:
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="usage.csv"`)
	case costtrack.FormatJSON:
		c.Header("Content-Type", "application/json")
	default:
		_ = c.Error(domain.BadRequestProblem("format must be csv or json"))
		return
	}

	c.Status(http.StatusOK)
	if err := h.orchestrator.ExportUsage(c.Writer, format); err != nil {
		_ = c.Error(err)
	}
}
