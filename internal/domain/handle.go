package domain

import "time"

// Handle 表示一个人类保留的本地邮件地址，可绑定到一个机器人
type Handle struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address    string    `json:"address" gorm:"type:varchar(255);uniqueIndex"`
	UserID     string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	BotID      *string   `json:"botId,omitempty" gorm:"type:varchar(36);uniqueIndex"` // 绑定的机器人，未绑定为 nil
	ReservedAt time.Time `json:"reservedAt"`
}

// Linked 判断地址是否已绑定机器人
func (h *Handle) Linked() bool {
	return h.BotID != nil
}
