package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botmail/backend/internal/service"
)

// WebhookHandler 上游投递方的入站回调。
type WebhookHandler struct {
	inbound *service.InboundService
	log     *zap.Logger
}

// NewWebhookHandler 创建入站回调处理器。
func NewWebhookHandler(inbound *service.InboundService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{inbound: inbound, log: log}
}

// Inbound 接收一封入站邮件
//
// 无论内部结果如何都返回 200，避免上游重试风暴。解析失败
// 只记日志。
func (h *WebhookHandler) Inbound(c *gin.Context) {
	var payload service.InboundPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn("malformed inbound payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ack": true})
		return
	}

	h.inbound.Receive(c.Request.Context(), &payload)
	c.JSON(http.StatusOK, gin.H{"ack": true})
}
