package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/orchestrator"
	"github.com/nulzo/relay/internal/server/validator"
	"github.com/nulzo/relay/pkg/schema"
)

type ChatHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewChatHandler(orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{orchestrator: orch}
}

func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req schema.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationProblem(validator.ParseValidationError(err)))
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}

	resp, err := h.orchestrator.Send(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("X-Session-ID", req.SessionID)
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, req *schema.ChatRequest) {
	streamChan, err := h.orchestrator.SendStream(c.Request.Context(), req)
	if err != nil {
		var problem *domain.Problem
		if errors.As(err, &problem) {
			c.JSON(problem.Status, problem)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// set headers for sse
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Header().Set("X-Session-ID", req.SessionID)

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// consume the channel and flush to http
	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			// channel is closed
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if result.Err != nil {
			errResp := schema.ChatResponse{
				Choices: []schema.Choice{{
					FinishReason: "error",
					Error:        &schema.ErrorResponse{Message: result.Err.Error()},
				}},
			}
			data, _ := json.Marshal(errResp)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			// stop streaming after an error frame
			return false
		}

		if result.Response != nil {
			data, err := json.Marshal(result.Response)
			if err == nil {
				_, err := fmt.Fprintf(w, "data: %s\n\n", data)
				return err == nil
			}
		}

		return true
	})
}
