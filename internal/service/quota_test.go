package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage/memory"
)

func TestDailyLimit(t *testing.T) {
	svc := NewQuotaService(memory.NewStore(), testQuotaConfig())

	cases := []struct {
		name string
		bot  domain.Bot
		want int
	}{
		{"未验证基础额度", domain.Bot{Status: domain.BotStatusNormal}, 25},
		{"已验证基础额度", domain.Bot{Status: domain.BotStatusNormal, Verified: true}, 200},
		{"每次标记扣减额度", domain.Bot{Status: domain.BotStatusNormal, FlagCount: 2}, 5},
		{"额度下限为零", domain.Bot{Status: domain.BotStatusNormal, FlagCount: 9}, 0},
		{"已验证同样被标记扣减", domain.Bot{Status: domain.BotStatusNormal, Verified: true, FlagCount: 3}, 170},
		{"封禁恒为零", domain.Bot{Status: domain.BotStatusSuspended, Verified: true}, 0},
		{"审核中不影响额度", domain.Bot{Status: domain.BotStatusUnderReview, Verified: true}, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, svc.DailyLimit(&tc.bot))
		})
	}
}

func TestConsumeQuota(t *testing.T) {
	store := memory.NewStore()
	svc := NewQuotaService(store, testQuotaConfig())
	now := time.Now().UTC()

	bot := &domain.Bot{ID: "bot1", Status: domain.BotStatusNormal, FlagCount: 2} // 额度 5

	t.Run("额度内消耗返回新计数", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			count, err := svc.Consume(bot, now)
			require.NoError(t, err)
			assert.Equal(t, i, count)
		}
	})

	t.Run("额度用尽返回结构化错误", func(t *testing.T) {
		_, err := svc.Consume(bot, now)
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, 5, quotaErr.Limit)
		assert.Equal(t, 5, quotaErr.Used)
		assert.Equal(t, domain.NextUTCDay(now), quotaErr.ResetsAt)
	})

	t.Run("UTC 新的一天额度重置", func(t *testing.T) {
		tomorrow := domain.NextUTCDay(now)
		count, err := svc.Consume(bot, tomorrow)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("额度为零时不触碰计数", func(t *testing.T) {
		suspended := &domain.Bot{ID: "bot2", Status: domain.BotStatusSuspended}
		_, err := svc.Consume(suspended, now)
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, 0, quotaErr.Limit)

		used, err := store.GetQuotaUsage("bot2", domain.QuotaDate(now))
		require.NoError(t, err)
		assert.Equal(t, 0, used)
	})
}

func TestQuotaStatus(t *testing.T) {
	store := memory.NewStore()
	svc := NewQuotaService(store, testQuotaConfig())
	now := time.Now().UTC()

	bot := &domain.Bot{ID: "bot1", Status: domain.BotStatusNormal}
	for i := 0; i < 3; i++ {
		_, err := svc.Consume(bot, now)
		require.NoError(t, err)
	}

	status, err := svc.Status(bot, now)
	require.NoError(t, err)
	assert.Equal(t, 25, status.Limit)
	assert.Equal(t, 3, status.Used)
	assert.Equal(t, 22, status.Remaining)
	assert.Equal(t, domain.NextUTCDay(now), status.ResetsAt)
}
