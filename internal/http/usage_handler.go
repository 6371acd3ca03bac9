package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/service"
)

// UsageHandler expone la cuota diaria del usuario o invitado.
type UsageHandler struct {
	logger *zap.Logger
	usage  *service.UsageService
}

func NewUsageHandler(logger *zap.Logger, usage *service.UsageService) *UsageHandler {
	return &UsageHandler{logger: logger, usage: usage}
}

// GetUsage maneja GET /api/usage.
func (h *UsageHandler) GetUsage(c *gin.Context) {
	id, ok := GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	ctx := c.Request.Context()
	plan := h.usage.ResolvePlan(ctx, id, domain.Plan(c.Query("plan")))
	snap := h.usage.Snapshot(ctx, id, plan)
	c.JSON(http.StatusOK, gin.H{"usage": snap})
}
