package service

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
)

// ErrInvalidDirection 方向过滤值不合法
var ErrInvalidDirection = errors.New("direction must be inbound or outbound")

// MessageService 邮件查询与已读状态。
type MessageService struct {
	messages storage.MessageRepository
	log      *zap.Logger
}

// NewMessageService 创建邮件查询服务。
func NewMessageService(messages storage.MessageRepository, log *zap.Logger) *MessageService {
	return &MessageService{messages: messages, log: log}
}

// ListInput 定义邮件列表查询的输入。
type ListInput struct {
	Limit      int
	Cursor     string
	UnreadOnly bool
	Direction  string // "inbound" / "outbound"，为空不过滤
	Query      string // 搜索 DSL 自由文本
}

// List 按条件分页查询邮件
//
// unreadOnly 的页面在返回的同时被整页标记为已读："列出未读"
// 同时"消费未读"。
func (s *MessageService) List(botID string, input ListInput) (*domain.MessagePage, error) {
	query := domain.MessageQuery{
		BotID:      botID,
		UnreadOnly: input.UnreadOnly,
		Limit:      input.Limit,
		Cursor:     input.Cursor,
	}

	if input.Direction != "" {
		direction := domain.Direction(strings.ToLower(input.Direction))
		if direction != domain.DirectionInbound && direction != domain.DirectionOutbound {
			return nil, ErrInvalidDirection
		}
		query.Direction = &direction
	}

	if trimmed := strings.TrimSpace(input.Query); trimmed != "" {
		search := domain.ParseSearchQuery(trimmed)
		if !search.Empty() {
			query.Search = search
		}
	}

	page, err := s.messages.ListMessages(query)
	if err != nil {
		return nil, err
	}

	if input.UnreadOnly && len(page.Messages) > 0 {
		ids := make([]string, len(page.Messages))
		for i := range page.Messages {
			ids[i] = page.Messages[i].ID
		}
		if err := s.messages.MarkMessagesRead(botID, ids); err != nil {
			s.log.Warn("failed to mark unread page as read",
				zap.String("bot_id", botID),
				zap.Int("count", len(ids)),
				zap.Error(err),
			)
		} else {
			for i := range page.Messages {
				page.Messages[i].IsRead = true
			}
		}
	}

	return page, nil
}

// Get 获取单封邮件，未读的入站邮件被读取时顺带标记已读
func (s *MessageService) Get(botID, id string) (*domain.Message, error) {
	message, err := s.messages.GetMessage(botID, id)
	if err != nil {
		return nil, err
	}

	if message.Direction == domain.DirectionInbound && !message.IsRead {
		if err := s.messages.MarkMessageRead(botID, id); err != nil {
			s.log.Warn("failed to mark message read",
				zap.String("message_id", id),
				zap.Error(err),
			)
		} else {
			message.IsRead = true
		}
	}
	return message, nil
}

// UnreadCount 统计未读的入站邮件数量。
func (s *MessageService) UnreadCount(botID string) (int, error) {
	return s.messages.CountUnread(botID)
}
