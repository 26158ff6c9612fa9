package domain

import "time"

// QuotaDateLayout 配额日期键格式（UTC 日历日）
const QuotaDateLayout = "2006-01-02"

// QuotaUsage 按 (botId, 日历日) 维护的发信计数，只会被原子递增
type QuotaUsage struct {
	BotID string `json:"botId" gorm:"primaryKey;type:varchar(36)"`
	Date  string `json:"date" gorm:"primaryKey;type:varchar(10)"`
	Count int    `json:"count" gorm:"not null;default:0"`
}

// QuotaStatus 当日配额快照，随发信结果返回给调用方
type QuotaStatus struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resetsAt"` // 下一个 UTC 日起点
}

// QuotaDate 返回指定时刻所属的 UTC 日历日键
func QuotaDate(t time.Time) string {
	return t.UTC().Format(QuotaDateLayout)
}

// NextUTCDay 返回指定时刻之后的下一个 UTC 日起点
func NextUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
