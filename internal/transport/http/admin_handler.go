package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botmail/backend/internal/auth/jwt"
	"botmail/backend/internal/service"
)

// AdminHandler 管理端登录与告警处置。
type AdminHandler struct {
	jwtManager *jwt.Manager
	abuse      *service.AbuseService
	log        *zap.Logger
}

// NewAdminHandler 创建管理端处理器。
func NewAdminHandler(jwtManager *jwt.Manager, abuse *service.AbuseService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{jwtManager: jwtManager, abuse: abuse, log: log}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 管理员登录，签发会话令牌
func (h *AdminHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	token, expiresAt, err := h.jwtManager.Login(req.Username, req.Password)
	if err != nil {
		h.log.Warn("admin login failed",
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()),
		)
		Unauthorized(c, MsgInvalidCredentials)
		return
	}

	Success(c, gin.H{
		"token":     token,
		"expiresAt": expiresAt,
	})
}

// ListAlerts 按状态分页列出注册告警
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	alerts, total, err := h.abuse.List(
		c.Query("status"),
		queryInt(c, "page", 1),
		queryInt(c, "pageSize", 20),
	)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Success(c, gin.H{
		"alerts": alerts,
		"total":  total,
	})
}

// GetAlert 获取单个告警
func (h *AdminHandler) GetAlert(c *gin.Context) {
	alert, err := h.abuse.Get(c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, alert)
}

type approveAlertRequest struct {
	Reason string `json:"reason"`
}

// ApproveAlert 处置告警：封禁机器人、解绑地址、封禁 IP
func (h *AdminHandler) ApproveAlert(c *gin.Context) {
	var req approveAlertRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.abuse.Approve(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, gin.H{"approved": true})
}

// IgnoreAlert 忽略告警
func (h *AdminHandler) IgnoreAlert(c *gin.Context) {
	if err := h.abuse.Ignore(c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, gin.H{"ignored": true})
}

// TriggerScan 手动触发一轮滥用扫描
func (h *AdminHandler) TriggerScan(c *gin.Context) {
	upserted, err := h.abuse.Scan(time.Now().UTC())
	if err != nil {
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, gin.H{"alertsUpserted": upserted})
}
