package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogProvider 开发模式投递器：只记录日志，不做真实投递
type LogProvider struct {
	log *zap.Logger
}

// NewLogProvider 创建日志投递器
func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log}
}

// Send 记录一封出站邮件并视为投递成功
func (p *LogProvider) Send(_ context.Context, email *OutboundEmail) error {
	p.log.Info("outbound email (log provider, not delivered)",
		zap.String("to", email.To),
		zap.String("from", email.FromEmail),
		zap.String("subject", email.Subject),
		zap.String("message_id", email.MessageID),
	)
	return nil
}
