package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage/memory"
)

func seedInboxMessage(t *testing.T, store *memory.Store, id, botID, from, subject, body string, direction domain.Direction, read bool, at time.Time) {
	t.Helper()
	require.NoError(t, store.SaveMessage(&domain.Message{
		ID:          id,
		BotID:       botID,
		Direction:   direction,
		FromAddress: from,
		ToAddress:   "bot@bots.example.com",
		Subject:     subject,
		BodyText:    body,
		ThreadID:    "thread-" + id,
		MessageID:   "<" + id + "@test>",
		IsRead:      read,
		CreatedAt:   at,
	}))
}

func TestListMessages(t *testing.T) {
	store := memory.NewStore()
	svc := NewMessageService(store, zap.NewNop())
	base := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	seedInboxMessage(t, store, "m1", "bot1", "alice@example.com", "weekly report", "numbers attached", domain.DirectionInbound, false, base)
	seedInboxMessage(t, store, "m2", "bot1", "bob@example.com", "lunch", "noon?", domain.DirectionInbound, false, base.Add(time.Minute))
	seedInboxMessage(t, store, "m3", "bot1", "bot@bots.example.com", "re: report", "looks good", domain.DirectionOutbound, true, base.Add(2*time.Minute))

	t.Run("非法方向被拒", func(t *testing.T) {
		_, err := svc.List("bot1", ListInput{Direction: "sideways"})
		assert.ErrorIs(t, err, ErrInvalidDirection)
	})

	t.Run("方向过滤大小写不敏感", func(t *testing.T) {
		page, err := svc.List("bot1", ListInput{Direction: "Outbound", Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "m3", page.Messages[0].ID)
	})

	t.Run("搜索 DSL 与过滤组合", func(t *testing.T) {
		page, err := svc.List("bot1", ListInput{Query: "from:alice report", Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "m1", page.Messages[0].ID)
	})

	t.Run("列出未读同时消费未读", func(t *testing.T) {
		page, err := svc.List("bot1", ListInput{UnreadOnly: true, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		for _, msg := range page.Messages {
			assert.True(t, msg.IsRead)
		}

		count, err := svc.UnreadCount("bot1")
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		// 第二次未读查询为空
		page, err = svc.List("bot1", ListInput{UnreadOnly: true, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
	})
}

func TestGetMessage(t *testing.T) {
	store := memory.NewStore()
	svc := NewMessageService(store, zap.NewNop())
	base := time.Now().UTC()

	seedInboxMessage(t, store, "in1", "bot1", "alice@example.com", "hello", "hi", domain.DirectionInbound, false, base)
	seedInboxMessage(t, store, "out1", "bot1", "bot@bots.example.com", "reply", "hey", domain.DirectionOutbound, true, base)

	t.Run("读取未读入站邮件顺带标记已读", func(t *testing.T) {
		msg, err := svc.Get("bot1", "in1")
		require.NoError(t, err)
		assert.True(t, msg.IsRead)

		count, err := svc.UnreadCount("bot1")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("读取不属于自己的邮件报不存在", func(t *testing.T) {
		_, err := svc.Get("bot2", "in1")
		assert.Error(t, err)
	})

	t.Run("出站邮件读取无副作用", func(t *testing.T) {
		msg, err := svc.Get("bot1", "out1")
		require.NoError(t, err)
		assert.True(t, msg.IsRead)
	})
}
