package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage/memory"
)

func newInboundService(store *memory.Store) *InboundService {
	handles := newHandleService(store)
	return NewInboundService(handles, store, nil, zap.NewNop())
}

func TestReceiveInbound(t *testing.T) {
	store := memory.NewStore()
	svc := newInboundService(store)
	ctx := context.Background()

	bot := seedLinkedBot(t, store, "receiver", "receiver")

	t.Run("解析成功的邮件入库", func(t *testing.T) {
		svc.Receive(ctx, &InboundPayload{
			To:        "Receiver@bots.example.com",
			From:      "human@example.com",
			Subject:   "question",
			Text:      "are you there?",
			MessageID: "<upstream-1@example.com>",
		})

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)

		msg := page.Messages[0]
		assert.Equal(t, domain.DirectionInbound, msg.Direction)
		assert.Equal(t, "human@example.com", msg.FromAddress)
		assert.False(t, msg.IsRead)
		assert.NotEmpty(t, msg.ThreadID)
		// 沿用上游的协议 Message-ID
		assert.Equal(t, "<upstream-1@example.com>", msg.MessageID)
	})

	t.Run("入站邮件总是开新线程", func(t *testing.T) {
		svc.Receive(ctx, &InboundPayload{
			To: "receiver@bots.example.com", From: "human@example.com",
			Subject: "another", Text: "second mail",
		})

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		assert.NotEqual(t, page.Messages[0].ThreadID, page.Messages[1].ThreadID)
	})

	t.Run("信封收件人优先于 To 字段", func(t *testing.T) {
		svc.Receive(ctx, &InboundPayload{
			To:         "elsewhere@bots.example.com",
			Recipients: []string{"receiver@bots.example.com"},
			From:       "human@example.com",
			Subject:    "envelope", Text: "routed by envelope",
		})

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, page.Messages, 3)
	})

	t.Run("无法解析的地址静默丢弃", func(t *testing.T) {
		svc.Receive(ctx, &InboundPayload{
			To: "nobody@bots.example.com", From: "human@example.com",
			Subject: "void", Text: "into the void",
		})

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, page.Messages, 3)
	})

	t.Run("缺少收件人静默丢弃", func(t *testing.T) {
		svc.Receive(ctx, &InboundPayload{
			From: "human@example.com", Subject: "headless", Text: "no recipient",
		})

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, page.Messages, 3)
	})
}

// failingMessageStore 入库必定失败的邮件存储
type failingMessageStore struct {
	*memory.Store
	saveErr error
}

func (f *failingMessageStore) SaveMessage(*domain.Message) error {
	return f.saveErr
}

func TestReceiveStorageFailure(t *testing.T) {
	store := memory.NewStore()
	handles := newHandleService(store)
	failing := &failingMessageStore{Store: store, saveErr: errors.New("disk full")}
	svc := NewInboundService(handles, failing, nil, zap.NewNop())
	ctx := context.Background()

	bot := seedLinkedBot(t, store, "fragile", "fragile")

	// 入库失败对上游同样静默：不退信、不报错
	svc.Receive(ctx, &InboundPayload{
		To: "fragile@bots.example.com", From: "human@example.com",
		Subject: "lost write", Text: "never lands", MessageID: "<lost-1@example.com>",
	})

	page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestReceiveOrphanHandle(t *testing.T) {
	store := memory.NewStore()
	svc := newInboundService(store)
	ctx := context.Background()

	// 既无机器人也无归属用户的地址
	require.NoError(t, store.ReserveHandle(&domain.Handle{
		ID: uuid.NewString(), Address: "orphan", UserID: "", ReservedAt: time.Now().UTC(),
	}))

	svc.Receive(ctx, &InboundPayload{
		To: "orphan@bots.example.com", From: "human@example.com",
		Subject: "lost", Text: "nobody home", MessageID: "<orphan-1@example.com>",
	})

	_, err := store.GetMessageByProtocolID("<orphan-1@example.com>")
	assert.Error(t, err)
}

func TestReceiveUnlinkedHandle(t *testing.T) {
	store := memory.NewStore()
	svc := newInboundService(store)
	ctx := context.Background()

	// 有归属用户但尚未绑定机器人的地址：邮件归档给用户
	require.NoError(t, store.ReserveHandle(&domain.Handle{
		ID: uuid.NewString(), Address: "reserved_only", UserID: "user-7", ReservedAt: time.Now().UTC(),
	}))

	svc.Receive(ctx, &InboundPayload{
		To: "reserved_only@bots.example.com", From: "human@example.com",
		Subject: "early mail", Text: "before linking", MessageID: "<early-1@example.com>",
	})

	msg, err := store.GetMessageByProtocolID("<early-1@example.com>")
	require.NoError(t, err)
	assert.Empty(t, msg.BotID)
	require.NotNil(t, msg.UserID)
	assert.Equal(t, "user-7", *msg.UserID)
}
