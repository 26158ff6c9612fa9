package domain

import "time"

// AlertStatus 注册告警状态，pending 只会迁移到一个终态
type AlertStatus string

const (
	AlertStatusPending  AlertStatus = "pending"
	AlertStatusApproved AlertStatus = "approved" // 已确认滥用并完成处置
	AlertStatusIgnored  AlertStatus = "ignored"  // 已人工忽略
)

// Valid 判断状态值是否为已定义的枚举之一
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusApproved, AlertStatusIgnored:
		return true
	}
	return false
}

// Resolved 判断告警是否已进入终态
func (s AlertStatus) Resolved() bool {
	return s == AlertStatusApproved || s == AlertStatusIgnored
}

// SignupAlert 批量注册告警，由扫描器按签名聚类生成
type SignupAlert struct {
	ID           string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Signature    string      `json:"signature" gorm:"type:varchar(255);uniqueIndex"` // 名称前缀 + 时间窗口派生
	Status       AlertStatus `json:"status" gorm:"type:varchar(20);default:pending;index"`
	NamePrefix   string      `json:"namePrefix" gorm:"type:varchar(64)"`
	BotIDs       []string    `json:"botIds" gorm:"serializer:json;type:json"`
	IPList       []string    `json:"ipList" gorm:"serializer:json;type:json"`
	BotCount     int         `json:"botCount"`
	ClaimedCount int         `json:"claimedCount"`
	WindowStart  time.Time   `json:"windowStart"`
	WindowEnd    time.Time   `json:"windowEnd"`
	ResolvedAt   *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Unclaimed 判断告警是否为最强滥用信号：达到阈值且没有任何机器人被认领
func (a *SignupAlert) Unclaimed(threshold int) bool {
	return a.ClaimedCount == 0 && a.BotCount >= threshold
}
