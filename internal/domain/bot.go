package domain

import "time"

// BotStatus 机器人行为状态
type BotStatus string

const (
	BotStatusNormal      BotStatus = "normal"       // 正常，可以收发邮件
	BotStatusUnderReview BotStatus = "under_review" // 审核中，禁止发信
	BotStatusSuspended   BotStatus = "suspended"    // 已封禁
)

// Valid 判断状态值是否为已定义的枚举之一
func (s BotStatus) Valid() bool {
	switch s {
	case BotStatusNormal, BotStatusUnderReview, BotStatusSuspended:
		return true
	}
	return false
}

// Bot 表示一个拥有独立凭证的自动化代理身份
type Bot struct {
	ID             string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name           string     `json:"name" gorm:"type:varchar(255);index"`
	SenderName     string     `json:"senderName" gorm:"type:varchar(255)"`
	APIKeyHash     string     `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	Status         BotStatus  `json:"status" gorm:"type:varchar(20);default:normal;index"`
	Verified       bool       `json:"verified" gorm:"default:false"`
	FlagCount      int        `json:"flagCount" gorm:"default:0"`
	RegistrationIP string     `json:"-" gorm:"type:varchar(45);index"`
	UserID         *string    `json:"userId,omitempty" gorm:"type:varchar(36);index"` // 认领后的所属用户，未认领为 nil
	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt" gorm:"index"`
}

// Claimed 判断机器人是否已被人类用户认领
func (b *Bot) Claimed() bool {
	return b.UserID != nil
}

// ClaimToken 一次性认领令牌，人类用户凭此将机器人绑定到自己名下
type ClaimToken struct {
	TokenHash string     `json:"-" gorm:"primaryKey;type:varchar(64)"`
	BotID     string     `json:"botId" gorm:"type:varchar(36);index;not null"`
	ExpiresAt time.Time  `json:"expiresAt"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
