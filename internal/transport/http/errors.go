package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/service"
	"botmail/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrAddressTooShort: "地址太短，至少 3 个字符",
	domain.ErrAddressTooLong:  "地址太长，最多 64 个字符",
	domain.ErrAddressCharset:  "地址只能包含小写字母、数字和下划线",

	storage.ErrHandleTaken:        "该地址已被占用",
	storage.ErrHandleNotFound:     "地址不存在",
	storage.ErrBotNotFound:        "机器人不存在",
	storage.ErrMessageNotFound:    "邮件不存在",
	storage.ErrClaimTokenNotFound: "认领令牌无效或已过期",
	storage.ErrAlertNotFound:      "告警不存在",
	storage.ErrAlertResolved:      "告警已处理",

	service.ErrNoHandle:         "机器人尚未绑定地址",
	service.ErrIPBlocked:        "来源 IP 已被封禁",
	service.ErrNotHandleOwner:   "您不是该地址的所有者",
	service.ErrInvalidDirection: "方向参数必须是 inbound 或 outbound",
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgInternalError      = "服务器内部错误，请稍后重试"
	MsgDeliveryFailed     = "邮件投递失败，本次发送未生效"
	MsgAdminActionFailed  = "处置失败已回滚，告警保持待处理，可重试"
)

// writeServiceError 把业务错误映射为统一响应
func writeServiceError(c *gin.Context, err error) {
	var forbiddenErr *service.ForbiddenError
	if errors.As(err, &forbiddenErr) {
		Forbidden(c, "机器人状态为 "+string(forbiddenErr.Status)+"，禁止操作")
		return
	}

	var quotaErr *service.QuotaExceededError
	if errors.As(err, &quotaErr) {
		QuotaExceeded(c, "当日发信配额已用尽", quotaErr)
		return
	}

	var deliveryErr *service.DeliveryError
	if errors.As(err, &deliveryErr) {
		BadGateway(c, MsgDeliveryFailed)
		return
	}

	var adminErr *service.AdminActionError
	if errors.As(err, &adminErr) {
		InternalError(c, MsgAdminActionFailed)
		return
	}

	switch {
	case errors.Is(err, domain.ErrAddressTooShort),
		errors.Is(err, domain.ErrAddressTooLong),
		errors.Is(err, domain.ErrAddressCharset),
		errors.Is(err, service.ErrInvalidDirection):
		BadRequest(c, GetErrorMessage(err))
	case errors.Is(err, storage.ErrHandleTaken),
		errors.Is(err, storage.ErrAlertResolved):
		Conflict(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrNoHandle):
		Conflict(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrIPBlocked),
		errors.Is(err, service.ErrNotHandleOwner):
		Forbidden(c, GetErrorMessage(err))
	case errors.Is(err, storage.ErrHandleNotFound),
		errors.Is(err, storage.ErrBotNotFound),
		errors.Is(err, storage.ErrMessageNotFound),
		errors.Is(err, storage.ErrClaimTokenNotFound),
		errors.Is(err, storage.ErrAlertNotFound):
		NotFound(c, GetErrorMessage(err))
	default:
		InternalError(c, MsgInternalError)
	}
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}
