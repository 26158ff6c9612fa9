package domain

import "time"

// Direction 邮件方向
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // 收到的邮件
	DirectionOutbound Direction = "outbound" // 发出的邮件
)

// Message 表示一封经过中继的邮件，创建后除已读标记外不可变
type Message struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	BotID       string    `json:"botId" gorm:"type:varchar(36);index;not null"`
	UserID      *string   `json:"userId,omitempty" gorm:"type:varchar(36);index"`
	Direction   Direction `json:"direction" gorm:"type:varchar(10);index;not null"`
	FromAddress string    `json:"from" gorm:"type:varchar(255)"`
	ToAddress   string    `json:"to" gorm:"type:varchar(255)"`
	Subject     string    `json:"subject" gorm:"type:varchar(500)"`
	BodyText    string    `json:"text" gorm:"type:text"`
	BodyHTML    string    `json:"html,omitempty" gorm:"type:text"`
	ThreadID    string    `json:"threadId" gorm:"type:varchar(36);index"`
	MessageID   string    `json:"messageId" gorm:"type:varchar(255);uniqueIndex"` // 协议级 Message-ID 令牌
	InReplyTo   *string   `json:"inReplyTo,omitempty" gorm:"type:varchar(255)"`
	IsRead      bool      `json:"isRead" gorm:"default:false;index"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}
