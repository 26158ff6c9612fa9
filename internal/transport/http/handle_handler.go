package httptransport

import (
	"github.com/gin-gonic/gin"

	"botmail/backend/internal/service"
)

// HandleHandler 地址注册表操作。
type HandleHandler struct {
	handles *service.HandleService
}

// NewHandleHandler 创建地址处理器。
func NewHandleHandler(handles *service.HandleService) *HandleHandler {
	return &HandleHandler{handles: handles}
}

type reserveHandleRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// Reserve 为用户预留一个地址
func (h *HandleHandler) Reserve(c *gin.Context) {
	var req reserveHandleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	handle, err := h.handles.Reserve(req.UserID, req.Address, c.ClientIP())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Created(c, handle)
}

type updateHandleRequest struct {
	UserID  string `json:"userId" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// Update 原地修改已预留的地址
func (h *HandleHandler) Update(c *gin.Context) {
	var req updateHandleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	handle, err := h.handles.Update(c.Request.Context(), req.UserID, c.Param("id"), req.Address)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, handle)
}

type linkHandleRequest struct {
	UserID string `json:"userId" binding:"required"`
	BotID  string `json:"botId" binding:"required"`
}

// Link 把地址绑定到机器人，重复绑定同一机器人为幂等
func (h *HandleHandler) Link(c *gin.Context) {
	var req linkHandleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.handles.Link(c.Request.Context(), req.UserID, c.Param("id"), req.BotID); err != nil {
		writeServiceError(c, err)
		return
	}
	Success(c, gin.H{"linked": true})
}
