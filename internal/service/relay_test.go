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

	"botmail/backend/internal/config"
	"botmail/backend/internal/domain"
	"botmail/backend/internal/mailer"
	"botmail/backend/internal/storage/memory"
)

// fakeProvider 测试用投递方，记录提交的邮件并返回预设错误
type fakeProvider struct {
	err  error
	sent []*mailer.OutboundEmail
}

func (f *fakeProvider) Send(_ context.Context, email *mailer.OutboundEmail) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Domain:        "bots.example.com",
		ClaimTokenTTL: 48 * time.Hour,
	}
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		VerifiedLimit:   200,
		UnverifiedLimit: 25,
		FlagPenalty:     10,
	}
}

// seedLinkedBot 创建一个状态正常且已绑定地址的机器人
func seedLinkedBot(t *testing.T, store *memory.Store, name, address string) *domain.Bot {
	t.Helper()
	bot := &domain.Bot{
		ID:         uuid.NewString(),
		Name:       name,
		SenderName: name,
		APIKeyHash: "hash-" + name,
		Status:     domain.BotStatusNormal,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveBot(bot))
	handleID := uuid.NewString()
	require.NoError(t, store.ReserveHandle(&domain.Handle{
		ID: handleID, Address: address, UserID: "owner-" + name, ReservedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.LinkHandle(handleID, bot.ID))
	return bot
}

func newRelayService(store *memory.Store, provider mailer.Provider, quotaCfg config.QuotaConfig) *RelayService {
	quota := NewQuotaService(store, quotaCfg)
	return NewRelayService(store, quota, provider, testRelayConfig(), nil, zap.NewNop())
}

func TestSendChecks(t *testing.T) {
	store := memory.NewStore()
	provider := &fakeProvider{}
	relay := NewRelayService(store, NewQuotaService(store, testQuotaConfig()), provider, testRelayConfig(), nil, zap.NewNop())
	ctx := context.Background()

	t.Run("收件地址不合法", func(t *testing.T) {
		bot := seedLinkedBot(t, store, "checker", "checker")
		_, err := relay.Send(ctx, bot, SendInput{To: "not-an-address", Subject: "hi"})
		assert.Error(t, err)
	})

	t.Run("无绑定地址拒绝发信", func(t *testing.T) {
		bot := &domain.Bot{
			ID: uuid.NewString(), Name: "nohandle", Status: domain.BotStatusNormal,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveBot(bot))

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		assert.ErrorIs(t, err, ErrNoHandle)
	})

	t.Run("无绑定地址先于状态检查", func(t *testing.T) {
		bot := &domain.Bot{
			ID: uuid.NewString(), Name: "suspended-nohandle", Status: domain.BotStatusSuspended,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.SaveBot(bot))

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		assert.ErrorIs(t, err, ErrNoHandle)
	})

	t.Run("状态非 normal 拒绝发信", func(t *testing.T) {
		bot := seedLinkedBot(t, store, "frozen", "frozen_bot")
		bot.Status = domain.BotStatusSuspended
		require.NoError(t, store.UpdateBot(bot))

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		assert.Equal(t, domain.BotStatusSuspended, forbidden.Status)
		assert.Empty(t, provider.sent)
	})

	t.Run("审核中同样拒绝发信", func(t *testing.T) {
		bot := seedLinkedBot(t, store, "review", "review_bot")
		bot.Status = domain.BotStatusUnderReview
		require.NoError(t, store.UpdateBot(bot))

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		assert.Equal(t, domain.BotStatusUnderReview, forbidden.Status)
	})
}

func TestSendQuota(t *testing.T) {
	// 未验证基础额度压到 5，便于打满
	quotaCfg := config.QuotaConfig{VerifiedLimit: 200, UnverifiedLimit: 5, FlagPenalty: 10}
	ctx := context.Background()

	t.Run("额度内连续发信直到配额用尽", func(t *testing.T) {
		store := memory.NewStore()
		provider := &fakeProvider{}
		relay := newRelayService(store, provider, quotaCfg)
		bot := seedLinkedBot(t, store, "mailbot", "mailbot")

		for i := 0; i < 5; i++ {
			result, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hello"})
			require.NoError(t, err)
			assert.True(t, result.Delivered)
			assert.Equal(t, i+1, result.Quota.Used)
			assert.Equal(t, 5, result.Quota.Limit)
		}

		// 第六封被拒，且不入库不投递
		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "one too many"})
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, 5, quotaErr.Limit)
		assert.Equal(t, 5, quotaErr.Used)
		assert.True(t, quotaErr.ResetsAt.After(time.Now().UTC()))
		assert.Len(t, provider.sent, 5)

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 100})
		require.NoError(t, err)
		assert.Len(t, page.Messages, 5)
	})

	t.Run("标记扣减后的额度生效", func(t *testing.T) {
		store := memory.NewStore()
		provider := &fakeProvider{}
		relay := newRelayService(store, provider, config.QuotaConfig{VerifiedLimit: 200, UnverifiedLimit: 25, FlagPenalty: 10})
		bot := seedLinkedBot(t, store, "flagged", "flagged_bot")
		bot.FlagCount = 3 // 25 - 30 < 0，额度归零
		require.NoError(t, store.UpdateBot(bot))

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, 0, quotaErr.Limit)
	})
}

func TestSendThreading(t *testing.T) {
	store := memory.NewStore()
	provider := &fakeProvider{}
	relay := newRelayService(store, provider, testQuotaConfig())
	bot := seedLinkedBot(t, store, "threader", "threader")
	ctx := context.Background()

	first, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "opening"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ThreadID)
	// 返回的 messageId 是协议级令牌
	assert.Contains(t, first.MessageID, "@bots.example.com>")

	t.Run("按协议令牌回复继承父邮件线程", func(t *testing.T) {
		reply, err := relay.Send(ctx, bot, SendInput{
			To: "peer@example.com", Subject: "re: opening", InReplyTo: first.MessageID,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ThreadID, reply.ThreadID)

		// 投递的邮件带上父邮件的协议 Message-ID
		last := provider.sent[len(provider.sent)-1]
		assert.Equal(t, first.MessageID, last.InReplyTo)
		assert.Equal(t, []string{first.MessageID}, last.References)
	})

	t.Run("按实体 ID 回复同样继承线程", func(t *testing.T) {
		reply, err := relay.Send(ctx, bot, SendInput{
			To: "peer@example.com", Subject: "re: opening", InReplyTo: first.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ThreadID, reply.ThreadID)

		last := provider.sent[len(provider.sent)-1]
		assert.Equal(t, first.MessageID, last.InReplyTo)
	})

	t.Run("无法解析的 inReplyTo 开新线程", func(t *testing.T) {
		result, err := relay.Send(ctx, bot, SendInput{
			To: "peer@example.com", Subject: "stray reply", InReplyTo: "no-such-message",
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.ThreadID, result.ThreadID)

		last := provider.sent[len(provider.sent)-1]
		assert.Empty(t, last.InReplyTo)
	})

	t.Run("其他机器人的邮件不可被引用", func(t *testing.T) {
		other := seedLinkedBot(t, store, "outsider", "outsider")
		result, err := relay.Send(ctx, other, SendInput{
			To: "peer@example.com", Subject: "cross reply", InReplyTo: first.MessageID,
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.ThreadID, result.ThreadID)
	})
}

func TestSendDeliveryDegradation(t *testing.T) {
	ctx := context.Background()

	t.Run("发件身份未验证时软跳过", func(t *testing.T) {
		store := memory.NewStore()
		provider := &fakeProvider{err: mailer.ErrSenderNotVerified}
		relay := newRelayService(store, provider, testQuotaConfig())
		bot := seedLinkedBot(t, store, "sandbox", "sandbox_bot")

		result, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		require.NoError(t, err)
		assert.False(t, result.Delivered)
		assert.Equal(t, 1, result.Quota.Used)

		// 照常入库
		msg, err := store.GetMessage(bot.ID, result.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DirectionOutbound, msg.Direction)
		assert.True(t, msg.IsRead)
	})

	t.Run("硬失败什么都不留下", func(t *testing.T) {
		store := memory.NewStore()
		provider := &fakeProvider{err: errors.New("upstream unavailable")}
		relay := newRelayService(store, provider, testQuotaConfig())
		bot := seedLinkedBot(t, store, "unlucky", "unlucky_bot")

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		var deliveryErr *DeliveryError
		require.ErrorAs(t, err, &deliveryErr)

		used, err := store.GetQuotaUsage(bot.ID, domain.QuotaDate(time.Now().UTC()))
		require.NoError(t, err)
		assert.Equal(t, 0, used)

		page, err := store.ListMessages(domain.MessageQuery{BotID: bot.ID, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Messages)
	})

	t.Run("发件人地址带中继域名", func(t *testing.T) {
		store := memory.NewStore()
		provider := &fakeProvider{}
		relay := newRelayService(store, provider, testQuotaConfig())
		bot := seedLinkedBot(t, store, "branded", "branded_bot")

		_, err := relay.Send(ctx, bot, SendInput{To: "peer@example.com", Subject: "hi"})
		require.NoError(t, err)
		require.Len(t, provider.sent, 1)
		assert.Equal(t, "branded_bot@bots.example.com", provider.sent[0].FromEmail)
		assert.Equal(t, "branded", provider.sent[0].FromName)
	})
}
