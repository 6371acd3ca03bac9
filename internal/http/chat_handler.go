package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/ndjson"
	"cariusb-relay/internal/service"
)

// ChatHandler expone el relay de chat como stream NDJSON.
type ChatHandler struct {
	logger *zap.Logger
	relay  *service.RelayService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, relay *service.RelayService) *ChatHandler {
	return &ChatHandler{
		logger: logger,
		relay:  relay,
	}
}

// Relay maneja POST /api/chat. Siempre responde 200; los errores viajan como
// eventos del stream.
func (h *ChatHandler) Relay(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", ndjson.ContentType)
	header.Set("Cache-Control", "no-store")
	header.Set("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)

	w := ndjson.NewWriter(c.Writer)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("chat relay panic",
				zap.String("request_id", requestID(c)),
				zap.Any("panic", r),
			)
			_ = w.WriteEvent(domain.ErrorEvent{Code: domain.CodeUnknown, Message: fmt.Sprint(r)})
		}
	}()

	raw, err := c.GetRawData()
	if err != nil {
		h.logger.Warn("read chat body failed", zap.String("request_id", requestID(c)), zap.Error(err))
		_ = w.WriteEvent(domain.ErrorEvent{Code: domain.CodeInvalidRequest, Message: "Failed to parse request body"})
		return
	}

	res := h.relay.Handle(c.Request.Context(), raw, c.GetHeader("Authorization"), c.ClientIP(), w)

	fields := []zap.Field{
		zap.String("request_id", requestID(c)),
		zap.String("mode", string(res.Turn.Target.Mode)),
		zap.String("identity", res.Turn.Identity.Key()),
		zap.String("outcome", res.Outcome.String()),
		zap.Bool("completed", res.Completed()),
	}
	if ev, ok := res.Terminal.(domain.ErrorEvent); ok {
		fields = append(fields, zap.String("code", string(ev.Code)))
	}
	if res.Terminal == nil {
		fields = append(fields, zap.Bool("client_gone", c.Request.Context().Err() != nil))
	}
	h.logger.Info("chat turn", fields...)
}
