package domain

import "time"

// IPBlock IP 封禁记录，只追加不删除，是否生效由时间判断
type IPBlock struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	IP           string    `json:"ip" gorm:"type:varchar(45);index;not null"`
	BlockedUntil time.Time `json:"blockedUntil" gorm:"index"`
	Reason       string    `json:"reason" gorm:"type:varchar(255)"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Active 判断封禁在指定时刻是否生效
func (b *IPBlock) Active(now time.Time) bool {
	return b.BlockedUntil.After(now)
}
