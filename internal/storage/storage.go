package storage

import (
	"errors"
	"time"

	"botmail/backend/internal/domain"
)

// 存储层统一错误定义
var (
	ErrBotNotFound        = errors.New("bot not found")
	ErrHandleNotFound     = errors.New("handle not found")
	ErrHandleTaken        = errors.New("handle address already taken")
	ErrMessageNotFound    = errors.New("message not found")
	ErrClaimTokenNotFound = errors.New("claim token not found or expired")
	ErrAlertNotFound      = errors.New("alert not found")
	ErrAlertResolved      = errors.New("alert already resolved")
	ErrQuotaExhausted     = errors.New("quota exhausted")
)

// BotRepository 定义机器人数据存取操作
type BotRepository interface {
	SaveBot(bot *domain.Bot) error
	GetBot(id string) (*domain.Bot, error)
	GetBotByAPIKeyHash(hash string) (*domain.Bot, error)
	UpdateBot(bot *domain.Bot) error
	// ListBotsRegisteredSince 返回指定时刻之后注册的机器人，滥用扫描只读使用
	ListBotsRegisteredSince(since time.Time) ([]domain.Bot, error)

	SaveClaimToken(token *domain.ClaimToken) error
	// RedeemClaimToken 原子兑换一次性认领令牌：校验未过期未使用，
	// 标记已用并把机器人绑定到 userID。并发兑换只有一个赢家，
	// 其余得到 ErrClaimTokenNotFound
	RedeemClaimToken(tokenHash, userID string, now time.Time) (*domain.Bot, error)
	// DeleteExpiredClaimTokens 清理过期令牌，返回删除数量
	DeleteExpiredClaimTokens(before time.Time) (int, error)
}

// HandleRepository 定义地址数据存取操作
type HandleRepository interface {
	// ReserveHandle 唯一性约束下的原子插入，地址冲突返回 ErrHandleTaken
	ReserveHandle(handle *domain.Handle) error
	// UpdateHandleAddress 原子改名，同样受唯一性约束
	UpdateHandleAddress(handleID, newAddress string) error
	// LinkHandle 将地址绑定到机器人，重复绑定同一机器人为幂等
	LinkHandle(handleID, botID string) error
	GetHandle(id string) (*domain.Handle, error)
	GetHandleByBotID(botID string) (*domain.Handle, error)
	GetHandleByAddress(address string) (*domain.Handle, error)
}

// MessageRepository 定义邮件数据存取操作
type MessageRepository interface {
	SaveMessage(message *domain.Message) error
	GetMessage(botID, id string) (*domain.Message, error)
	// GetMessageByProtocolID 按协议级 Message-ID 令牌查找，线程归属使用
	GetMessageByProtocolID(messageID string) (*domain.Message, error)
	ListMessages(query domain.MessageQuery) (*domain.MessagePage, error)
	MarkMessageRead(botID, id string) error
	MarkMessagesRead(botID string, ids []string) error
	CountUnread(botID string) (int, error)
}

// QuotaRepository 定义配额计数操作
type QuotaRepository interface {
	GetQuotaUsage(botID, date string) (int, error)
	// IncrementQuotaUsage 单次原子的"比较并递增"：仅当当前计数低于
	// limit 时加一并返回新值，否则返回 ErrQuotaExhausted。并发发信
	// 时计数不会越过 limit
	IncrementQuotaUsage(botID, date string, limit int) (int, error)
}

// AlertRepository 定义注册告警存取与处置操作
type AlertRepository interface {
	// UpsertSignupAlert 按签名写入或合并更新告警：对已存在的 pending
	// 告警做成员与 IP 的并集合并，计数随并集重算。已进入终态的告警
	// 不受影响
	UpsertSignupAlert(alert *domain.SignupAlert) error
	GetSignupAlert(id string) (*domain.SignupAlert, error)
	GetSignupAlertBySignature(signature string) (*domain.SignupAlert, error)
	ListSignupAlerts(status *domain.AlertStatus, page, pageSize int) ([]domain.SignupAlert, int, error)
	// ApproveSignupAlert 处置事务：封禁告警中全部机器人、解绑其地址、
	// 为每个 IP 插入封禁记录并把告警标记为 approved。全部成功或全部
	// 不生效，失败时告警保持 pending
	ApproveSignupAlert(alertID string, blockedUntil time.Time, reason string, now time.Time) error
	// IgnoreSignupAlert 将 pending 告警标记为 ignored，无其他副作用
	IgnoreSignupAlert(alertID string, now time.Time) error
}

// IPBlockRepository 定义 IP 封禁查询操作，封禁记录只由告警处置创建
type IPBlockRepository interface {
	IsIPBlocked(ip string, now time.Time) (bool, error)
	ListActiveIPBlocks(now time.Time) ([]domain.IPBlock, error)
}

// Store 定义完整的存储接口
type Store interface {
	BotRepository
	HandleRepository
	MessageRepository
	QuotaRepository
	AlertRepository
	IPBlockRepository

	Close() error
	Health() error
}
