package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Scheduler any               `json:"scheduler,omitempty"`
}

// handleWebhook always answers quickly. Rejected events are reported in the
// body with HTTP 200 so that the gateway does not redeliver them; only a
// full or stopped scheduler answers 503.
func (s *Server) handleWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.From(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.readLimit))
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err)
		c.JSON(http.StatusOK, webhookResponse{Status: "error", Message: "failed to read body"})
		return
	}

	result, err := s.ingestor.Handle(ctx, body)
	if err != nil {
		logger.Error("webhook rejected", "error", err)

		status := http.StatusOK
		if errors.Is(err, model.ErrSchedulerOverloaded) || errors.Is(err, model.ErrSchedulerClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, webhookResponse{Status: "error", Message: err.Error()})
		return
	}

	if !result.Accepted {
		logger.Debug("webhook ignored", "reason", result.Reason)
	}
	c.JSON(http.StatusOK, webhookResponse{Status: "success"})
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:   "healthy",
		Services: s.services,
	}
	if s.monitor != nil {
		resp.Scheduler = s.monitor.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	phone := strings.TrimSpace(c.Param("phone"))
	id := model.ConversationIDFromJID(phone)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	c.JSON(http.StatusOK, s.stats.Stats(c.Request.Context(), id))
}
