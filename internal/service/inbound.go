package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/monitoring"
	"botmail/backend/internal/storage"
)

// InboundService 入站接收路径。
//
// 对上游投递方永远确认成功，内部结果只体现在日志与指标里，
// 避免重试风暴和退信放大。
type InboundService struct {
	handles  *HandleService
	messages storage.MessageRepository
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewInboundService 创建入站接收服务。
func NewInboundService(handles *HandleService, messages storage.MessageRepository, metrics *monitoring.Metrics, log *zap.Logger) *InboundService {
	return &InboundService{
		handles:  handles,
		messages: messages,
		metrics:  metrics,
		log:      log,
	}
}

// InboundPayload 上游投递方回调的入站邮件
type InboundPayload struct {
	To         string   `json:"to"`
	Recipients []string `json:"recipients,omitempty"` // 信封收件人列表，优先于 To
	From       string   `json:"from"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	HTML       string   `json:"html,omitempty"`
	MessageID  string   `json:"messageId,omitempty"` // 上游的协议 Message-ID
}

// primaryRecipient 取信封列表的第一项，否则退回 To 字段
func (p *InboundPayload) primaryRecipient() string {
	if len(p.Recipients) > 0 {
		return p.Recipients[0]
	}
	return p.To
}

// Receive 处理一封入站邮件，永不向调用方报错
//
// 无法解析的地址和孤儿地址（既无绑定机器人也无归属用户）静默
// 丢弃，不退信不入库。入站邮件总是开新线程。
func (s *InboundService) Receive(ctx context.Context, payload *InboundPayload) {
	recipient := payload.primaryRecipient()
	local := domain.LocalPart(recipient)
	if local == "" {
		s.metrics.CountInbound("dropped_malformed")
		s.log.Warn("inbound payload has no usable recipient", zap.String("to", recipient))
		return
	}

	handle, err := s.handles.GetByAddress(ctx, local)
	if err != nil {
		s.metrics.CountInbound("dropped_unresolved")
		s.log.Info("inbound recipient does not resolve, dropping",
			zap.String("local_part", local),
		)
		return
	}
	if handle.BotID == nil && handle.UserID == "" {
		s.metrics.CountInbound("dropped_orphan")
		s.log.Info("inbound recipient is orphaned, dropping",
			zap.String("local_part", local),
		)
		return
	}

	message := &domain.Message{
		ID:          uuid.NewString(),
		Direction:   domain.DirectionInbound,
		FromAddress: payload.From,
		ToAddress:   recipient,
		Subject:     payload.Subject,
		BodyText:    payload.Text,
		BodyHTML:    payload.HTML,
		ThreadID:    uuid.NewString(),
		MessageID:   inboundProtocolID(payload.MessageID),
		IsRead:      false,
		CreatedAt:   time.Now().UTC(),
	}
	if handle.BotID != nil {
		message.BotID = *handle.BotID
	}
	if handle.UserID != "" {
		userID := handle.UserID
		message.UserID = &userID
	}

	if err := s.messages.SaveMessage(message); err != nil {
		s.metrics.CountInbound("error")
		s.log.Error("failed to store inbound message",
			zap.String("local_part", local),
			zap.Error(err),
		)
		return
	}

	s.metrics.CountInbound("stored")
}

// inboundProtocolID 沿用上游的 Message-ID，缺失时补一个
func inboundProtocolID(upstream string) string {
	if upstream != "" {
		return upstream
	}
	return "<" + uuid.NewString() + "@inbound.botmail>"
}
