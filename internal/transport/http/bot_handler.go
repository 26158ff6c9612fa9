package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/middleware"
	"botmail/backend/internal/monitoring"
	"botmail/backend/internal/service"
)

// BotHandler 机器人注册、认领与自身信息。
type BotHandler struct {
	bots    *service.BotService
	quota   *service.QuotaService
	handles *service.HandleService
	metrics *monitoring.Metrics
}

// NewBotHandler 创建机器人处理器。
func NewBotHandler(bots *service.BotService, quota *service.QuotaService, handles *service.HandleService, metrics *monitoring.Metrics) *BotHandler {
	return &BotHandler{bots: bots, quota: quota, handles: handles, metrics: metrics}
}

type registerBotRequest struct {
	Name       string `json:"name" binding:"required"`
	SenderName string `json:"senderName"`
}

// Register 注册一个未认领的机器人
//
// API Key 和认领令牌只在本次响应中以明文返回一次。
func (h *BotHandler) Register(c *gin.Context) {
	var req registerBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.bots.Register(service.RegisterInput{
		Name:       req.Name,
		SenderName: req.SenderName,
		IP:         c.ClientIP(),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.BotsRegistered.Inc()
	}
	Created(c, gin.H{
		"bot":            result.Bot,
		"apiKey":         result.APIKey,
		"claimToken":     result.ClaimToken,
		"tokenExpiresAt": result.TokenExpiresAt,
	})
}

type claimBotRequest struct {
	UserID     string `json:"userId" binding:"required"`
	ClaimToken string `json:"claimToken" binding:"required"`
}

// Claim 用一次性令牌认领机器人
func (h *BotHandler) Claim(c *gin.Context) {
	var req claimBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	bot, err := h.bots.Claim(req.ClaimToken, req.UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.BotsClaimed.Inc()
	}
	Success(c, bot)
}

// Me 返回当前机器人及其配额与绑定地址
func (h *BotHandler) Me(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	quota, err := h.quota.Status(bot, time.Now().UTC())
	if err != nil {
		writeServiceError(c, err)
		return
	}

	var handle *domain.Handle
	if found, err := h.handles.GetByBotID(bot.ID); err == nil {
		handle = found
	}

	Success(c, gin.H{
		"bot":    bot,
		"quota":  quota,
		"handle": handle,
	})
}
