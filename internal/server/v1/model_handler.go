package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/relay/internal/orchestrator"
	"github.com/nulzo/relay/pkg/schema"
)

type ModelHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewModelHandler(orch *orchestrator.Orchestrator) *ModelHandler {
	return &ModelHandler{orchestrator: orch}
}

// ListModels returns registered descriptors, optionally filtered by query
// params. Filters compose left to right.
func (h *ModelHandler) ListModels(c *gin.Context) {
	models := h.orchestrator.AvailableModels()

	if provider := c.Query("provider"); provider != "" {
		models = keep(models, func(m schema.ModelDescriptor) bool {
			return m.Provider == provider
		})
	}
	if capability := c.Query("capability"); capability != "" {
		models = keep(models, func(m schema.ModelDescriptor) bool {
			return m.HasCapability(schema.CapabilityTag(capability))
		})
	}
	if tier := c.Query("cost_tier"); tier != "" {
		models = keep(models, func(m schema.ModelDescriptor) bool {
			return m.Optimization.CostTier == schema.CostTier(tier)
		})
	}
	if q := c.Query("q"); q != "" {
		matches := make(map[string]bool)
		for _, m := range h.orchestrator.SearchModels(q) {
			matches[m.ID] = true
		}
		models = keep(models, func(m schema.ModelDescriptor) bool {
			return matches[m.ID]
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}

func keep(models []schema.ModelDescriptor, pred func(schema.ModelDescriptor) bool) []schema.ModelDescriptor {
	out := models[:0:0]
	for _, m := range models {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

// GetModel returns one descriptor with its deprecation status.
func (h *ModelHandler) GetModel(c *gin.Context) {
	id := c.Param("provider") + "/" + c.Param("name")

	m, deprecated, replacement, err := h.orchestrator.Model(id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := gin.H{
		"model":      m,
		"deprecated": deprecated,
	}
	if replacement != "" {
		resp["replacement"] = replacement
	}
	c.JSON(http.StatusOK, resp)
}

// ListRemoteModels returns the provider's live model identifiers.
func (h *ModelHandler) ListRemoteModels(c *gin.Context) {
	ids, err := h.orchestrator.RemoteModels(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   ids,
	})
}

// Refresh reconciles the registry against every enabled provider.
func (h *ModelHandler) Refresh(c *gin.Context) {
	results, err := h.orchestrator.RefreshModels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}
