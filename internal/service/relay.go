package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botmail/backend/internal/config"
	"botmail/backend/internal/domain"
	"botmail/backend/internal/mailer"
	"botmail/backend/internal/monitoring"
	"botmail/backend/internal/storage"
)

// RelayService 出站发信路径。
//
// 检查按固定顺序执行，第一个失败即返回且无副作用：
// 无绑定地址 → 状态非 normal → 配额用尽。入库与计数只在投递
// 结束（成功或软跳过）之后一起发生，硬失败什么都不留下。
type RelayService struct {
	store    storage.Store
	quota    *QuotaService
	provider mailer.Provider
	cfg      config.RelayConfig
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewRelayService 创建出站发信服务。
func NewRelayService(store storage.Store, quota *QuotaService, provider mailer.Provider, cfg config.RelayConfig, metrics *monitoring.Metrics, log *zap.Logger) *RelayService {
	return &RelayService{
		store:    store,
		quota:    quota,
		provider: provider,
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
	}
}

// SendInput 定义一次出站发信的输入。
type SendInput struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string // 可选：被回复邮件的协议 Message-ID 令牌或实体 ID
}

// SendResult 发信结果。MessageID 为协议级 Message-ID 令牌，
// 可直接用作后续发信的 inReplyTo。
type SendResult struct {
	ID        string              `json:"id"`
	MessageID string              `json:"messageId"`
	ThreadID  string              `json:"threadId"`
	Delivered bool                `json:"delivered"`
	Quota     *domain.QuotaStatus `json:"quota"`
}

// Send 以机器人身份发出一封邮件
func (s *RelayService) Send(ctx context.Context, bot *domain.Bot, input SendInput) (*SendResult, error) {
	to := strings.TrimSpace(input.To)
	if to == "" || !strings.Contains(to, "@") {
		return nil, fmt.Errorf("recipient address is invalid")
	}

	now := time.Now().UTC()

	// 检查 1：必须有绑定地址
	handle, err := s.store.GetHandleByBotID(bot.ID)
	if err != nil {
		if errors.Is(err, storage.ErrHandleNotFound) {
			s.metrics.CountOutbound("no_handle")
			return nil, ErrNoHandle
		}
		return nil, err
	}

	// 检查 2：机器人状态必须为 normal
	if bot.Status != domain.BotStatusNormal {
		s.metrics.CountOutbound("forbidden")
		return nil, &ForbiddenError{Status: bot.Status}
	}

	// 检查 3：当日配额必须有余量
	limit := s.quota.DailyLimit(bot)
	used, err := s.quota.Usage(bot.ID, domain.QuotaDate(now))
	if err != nil {
		return nil, err
	}
	if used >= limit {
		s.metrics.CountOutbound("quota_exceeded")
		return nil, &QuotaExceededError{Limit: limit, Used: used, ResetsAt: domain.NextUTCDay(now)}
	}

	// 线程归属：回复已存在的邮件则继承其线程，否则开新线程。
	// inReplyTo 优先按协议级 Message-ID 令牌解析，兼容实体 ID；
	// 无法解析或父邮件不属于当前机器人都不算错误，按新线程处理。
	threadID := uuid.NewString()
	var inReplyToToken *string
	var references []string
	if input.InReplyTo != "" {
		parent, lookupErr := s.store.GetMessageByProtocolID(input.InReplyTo)
		if lookupErr != nil {
			parent, lookupErr = s.store.GetMessage(bot.ID, input.InReplyTo)
		}
		if lookupErr == nil && parent.BotID == bot.ID {
			threadID = parent.ThreadID
			inReplyToToken = &parent.MessageID
			references = []string{parent.MessageID}
		}
	}

	fromAddress := handle.Address + "@" + s.cfg.Domain
	protocolID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.cfg.Domain)

	email := &mailer.OutboundEmail{
		To:         to,
		FromEmail:  fromAddress,
		FromName:   bot.SenderName,
		Subject:    input.Subject,
		Text:       input.Body,
		MessageID:  protocolID,
		References: references,
	}
	if inReplyToToken != nil {
		email.InReplyTo = *inReplyToToken
	}

	// 先投递后入库：硬失败时邮件不入库、配额不消耗
	delivered := true
	if err := s.provider.Send(ctx, email); err != nil {
		if !errors.Is(err, mailer.ErrSenderNotVerified) {
			s.metrics.CountOutbound("hard_error")
			s.log.Error("outbound delivery failed",
				zap.String("bot_id", bot.ID),
				zap.String("message_id", protocolID),
				zap.Error(err),
			)
			return nil, &DeliveryError{Err: err}
		}
		// 软跳过：照常入库并计数，但邮件并未送达
		delivered = false
		s.log.Info("sender not verified, recording without delivery",
			zap.String("bot_id", bot.ID),
			zap.String("from", fromAddress),
		)
	}

	// 投递已结束，入库与计数一起发生
	count, err := s.quota.Consume(bot, now)
	if err != nil {
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) {
			s.metrics.CountOutbound("quota_exceeded")
		}
		return nil, err
	}

	message := &domain.Message{
		ID:          uuid.NewString(),
		BotID:       bot.ID,
		UserID:      bot.UserID,
		Direction:   domain.DirectionOutbound,
		FromAddress: fromAddress,
		ToAddress:   to,
		Subject:     input.Subject,
		BodyText:    input.Body,
		ThreadID:    threadID,
		MessageID:   protocolID,
		InReplyTo:   inReplyToToken,
		IsRead:      true,
		CreatedAt:   now,
	}
	if err := s.store.SaveMessage(message); err != nil {
		return nil, err
	}

	if delivered {
		s.metrics.CountOutbound("delivered")
	} else {
		s.metrics.CountOutbound("soft_skip")
	}

	resetsAt := domain.NextUTCDay(now)
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &SendResult{
		ID:        message.ID,
		MessageID: protocolID,
		ThreadID:  threadID,
		Delivered: delivered,
		Quota: &domain.QuotaStatus{
			Limit:     limit,
			Used:      count,
			Remaining: remaining,
			ResetsAt:  resetsAt,
		},
	}, nil
}
