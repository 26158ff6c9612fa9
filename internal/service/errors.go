package service

import (
	"errors"
	"fmt"
	"time"

	"botmail/backend/internal/domain"
)

var (
	// ErrNoHandle 机器人没有绑定地址，无法发信
	ErrNoHandle = errors.New("bot has no linked handle")
	// ErrIPBlocked 来源 IP 处于封禁期
	ErrIPBlocked = errors.New("registration ip is blocked")
	// ErrInvalidCredential API Key 无效
	ErrInvalidCredential = errors.New("invalid api key")
	// ErrNotHandleOwner 地址不属于当前用户
	ErrNotHandleOwner = errors.New("handle does not belong to user")
)

// ForbiddenError 机器人状态不允许操作，携带具体状态作为原因
type ForbiddenError struct {
	Status domain.BotStatus
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("bot is %s", e.Status)
}

// QuotaExceededError 当日配额用尽，携带确定性退避所需的信息
type QuotaExceededError struct {
	Limit    int       `json:"limit"`
	Used     int       `json:"used"`
	ResetsAt time.Time `json:"resetsAt"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: used %d of %d", e.Used, e.Limit)
}

// DeliveryError 投递硬失败：邮件未入库，配额未消耗
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// AdminActionError 处置事务已回滚，告警保持 pending，可安全重试
type AdminActionError struct {
	Err error
}

func (e *AdminActionError) Error() string {
	return fmt.Sprintf("admin action failed and was rolled back: %v", e.Err)
}

func (e *AdminActionError) Unwrap() error {
	return e.Err
}
