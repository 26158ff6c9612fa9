package mailer

import (
	"context"
	"errors"
)

// ErrSenderNotVerified 投递方报告发件身份未验证
//
// 这是唯一的"软失败"：调用方照常入库并计入配额，但邮件实际
// 未送达。沙箱和测试环境依赖这一行为。其余错误均为硬失败。
var ErrSenderNotVerified = errors.New("sender identity not verified")

// OutboundEmail 提交给投递方的出站邮件
type OutboundEmail struct {
	To         string   `json:"to"`
	FromEmail  string   `json:"fromEmail"`
	FromName   string   `json:"fromName"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	HTML       string   `json:"html,omitempty"`
	MessageID  string   `json:"messageId"`
	InReplyTo  string   `json:"inReplyTo,omitempty"`
	References []string `json:"references,omitempty"`
}

// Provider 定义外部邮件投递方
//
// Send 返回 nil 表示投递成功；ErrSenderNotVerified 表示软失败；
// 其余错误表示投递明确未发生。
type Provider interface {
	Send(ctx context.Context, email *OutboundEmail) error
}
