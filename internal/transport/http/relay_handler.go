package httptransport

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"botmail/backend/internal/middleware"
	"botmail/backend/internal/service"
)

// RelayHandler 出站发信与邮件查询，全部要求机器人凭证。
type RelayHandler struct {
	relay    *service.RelayService
	messages *service.MessageService
	quota    *service.QuotaService
}

// NewRelayHandler 创建中继处理器。
func NewRelayHandler(relay *service.RelayService, messages *service.MessageService, quota *service.QuotaService) *RelayHandler {
	return &RelayHandler{relay: relay, messages: messages, quota: quota}
}

type sendRequest struct {
	To        string `json:"to" binding:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"inReplyTo"`
}

// Send 以机器人身份发出一封邮件
func (h *RelayHandler) Send(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.relay.Send(c.Request.Context(), bot, service.SendInput{
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		InReplyTo: req.InReplyTo,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, result)
}

// Inbox 收件箱：未读的入站邮件，返回的同时整页标记已读
func (h *RelayHandler) Inbox(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	page, err := h.messages.List(bot.ID, service.ListInput{
		Limit:      queryInt(c, "limit", 20),
		Cursor:     c.Query("cursor"),
		UnreadOnly: true,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, page)
}

// List 按条件分页查询邮件
func (h *RelayHandler) List(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unreadOnly", "false"))
	page, err := h.messages.List(bot.ID, service.ListInput{
		Limit:      queryInt(c, "limit", 20),
		Cursor:     c.Query("cursor"),
		UnreadOnly: unreadOnly,
		Direction:  c.Query("direction"),
		Query:      c.Query("q"),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, page)
}

// Get 获取单封邮件，未读的入站邮件顺带标记已读
func (h *RelayHandler) Get(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	message, err := h.messages.Get(bot.ID, c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, message)
}

// Unread 未读的入站邮件数量
func (h *RelayHandler) Unread(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	count, err := h.messages.UnreadCount(bot.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, gin.H{"unread": count})
}

// Quota 当前机器人的配额快照
func (h *RelayHandler) Quota(c *gin.Context) {
	bot := middleware.BotFromContext(c)
	if bot == nil {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	status, err := h.quota.Status(bot, time.Now().UTC())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, status)
}

// queryInt 读取整数查询参数，缺失或非法时回落到默认值
func queryInt(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return value
}
