package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"botmail/backend/internal/config"
	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
	"botmail/backend/internal/storage/memory"
)

func testAbuseConfig() config.AbuseConfig {
	return config.AbuseConfig{
		Threshold:       5,
		Window:          time.Hour,
		PrefixLength:    8,
		BlockDuration:   14 * 24 * time.Hour,
		ScanSchedule:    "*/10 * * * *",
		LookbackWindows: 2,
	}
}

func newAbuseService(store *memory.Store) *AbuseService {
	return NewAbuseService(store, testAbuseConfig(), nil, zap.NewNop())
}

// seedSignupWave 批量注册一组同前缀机器人并各绑定一个地址
func seedSignupWave(t *testing.T, store *memory.Store, prefix string, count int, ips []string, base time.Time) []string {
	t.Helper()
	botIDs := make([]string, 0, count)
	for i := 0; i < count; i++ {
		bot := &domain.Bot{
			ID:             uuid.NewString(),
			Name:           fmt.Sprintf("%s_%02d", prefix, i+1),
			Status:         domain.BotStatusNormal,
			RegistrationIP: ips[i%len(ips)],
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveBot(bot))

		handleID := uuid.NewString()
		require.NoError(t, store.ReserveHandle(&domain.Handle{
			ID:         handleID,
			Address:    fmt.Sprintf("%s_%02d", prefix, i+1),
			UserID:     "farm-user",
			ReservedAt: bot.CreatedAt,
		}))
		require.NoError(t, store.LinkHandle(handleID, bot.ID))
		botIDs = append(botIDs, bot.ID)
	}
	return botIDs
}

func TestAbuseScan(t *testing.T) {
	store := memory.NewStore()
	svc := newAbuseService(store)
	now := time.Now().UTC()
	ips := []string{"198.51.100.7", "198.51.100.8"}

	waveIDs := seedSignupWave(t, store, "growthbot", 12, ips, now.Add(-30*time.Minute))

	// 零散的正常注册不该触发告警
	for _, name := range []string{"weather", "janitor", "digest"} {
		require.NoError(t, store.SaveBot(&domain.Bot{
			ID: uuid.NewString(), Name: name, Status: domain.BotStatusNormal,
			RegistrationIP: "203.0.113.9", CreatedAt: now.Add(-20 * time.Minute),
		}))
	}

	t.Run("批量注册聚成单个告警", func(t *testing.T) {
		upserted, err := svc.Scan(now)
		require.NoError(t, err)
		assert.Equal(t, 1, upserted)

		alerts, total, err := svc.List("pending", 1, 10)
		require.NoError(t, err)
		require.Equal(t, 1, total)

		alert := alerts[0]
		assert.Equal(t, "growthbo", alert.NamePrefix)
		assert.Equal(t, 12, alert.BotCount)
		assert.Equal(t, 0, alert.ClaimedCount)
		assert.ElementsMatch(t, waveIDs, alert.BotIDs)
		assert.Equal(t, ips, alert.IPList)
		assert.True(t, alert.WindowEnd.After(alert.WindowStart))
	})

	t.Run("重复扫描落在同一个告警上", func(t *testing.T) {
		before, _, err := svc.List("pending", 1, 10)
		require.NoError(t, err)

		_, err = svc.Scan(now.Add(time.Minute))
		require.NoError(t, err)

		after, total, err := svc.List("pending", 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, before[0].ID, after[0].ID)
		assert.Equal(t, before[0].Signature, after[0].Signature)
	})

	t.Run("超出回看范围的注册不参与聚类", func(t *testing.T) {
		far := now.Add(48 * time.Hour)
		upserted, err := svc.Scan(far)
		require.NoError(t, err)
		assert.Equal(t, 0, upserted)
	})

	t.Run("非法状态过滤参数被拒", func(t *testing.T) {
		_, _, err := svc.List("wat", 1, 10)
		assert.Error(t, err)
	})
}

func TestAbuseScanWindowDrift(t *testing.T) {
	store := memory.NewStore()
	svc := newAbuseService(store)
	base := time.Date(2026, 8, 30, 10, 50, 0, 0, time.UTC)

	// 同一波注册横跨窗口取整边界，每 5 分钟一个
	botIDs := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		bot := &domain.Bot{
			ID:             uuid.NewString(),
			Name:           fmt.Sprintf("driftfarm_%02d", i+1),
			Status:         domain.BotStatusNormal,
			RegistrationIP: "198.51.100.20",
			CreatedAt:      base.Add(time.Duration(i) * 5 * time.Minute),
		}
		require.NoError(t, store.SaveBot(bot))
		botIDs = append(botIDs, bot.ID)
	}

	_, err := svc.Scan(base.Add(70 * time.Minute))
	require.NoError(t, err)

	alerts, total, err := svc.List("pending", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	first := alerts[0]
	assert.Equal(t, 12, first.BotCount)

	// 最早成员滑出回看范围后再扫：此时可见成员的最早注册时间
	// 落进下一个取整窗口。同一波不该裂成第二个告警，早期成员
	// 也不该从告警里消失
	_, err = svc.Scan(base.Add(126 * time.Minute))
	require.NoError(t, err)

	alerts, total, err = svc.List("pending", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, first.ID, alerts[0].ID)
	assert.Equal(t, first.Signature, alerts[0].Signature)
	assert.Equal(t, 12, alerts[0].BotCount)
	assert.ElementsMatch(t, botIDs, alerts[0].BotIDs)
}

func TestAbuseApprove(t *testing.T) {
	store := memory.NewStore()
	svc := newAbuseService(store)
	botSvc := newBotService(store)
	handleSvc := newHandleService(store)
	now := time.Now().UTC()
	ips := []string{"198.51.100.7", "198.51.100.8"}

	waveIDs := seedSignupWave(t, store, "spamfarm", 6, ips, now.Add(-30*time.Minute))

	_, err := svc.Scan(now)
	require.NoError(t, err)
	alerts, _, err := svc.List("pending", 1, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	alertID := alerts[0].ID

	t.Run("处置封禁机器人并解绑地址", func(t *testing.T) {
		require.NoError(t, svc.Approve(context.Background(), alertID, "confirmed farm"))

		for _, botID := range waveIDs {
			bot, err := store.GetBot(botID)
			require.NoError(t, err)
			assert.Equal(t, domain.BotStatusSuspended, bot.Status)

			_, err = store.GetHandleByBotID(botID)
			assert.ErrorIs(t, err, storage.ErrHandleNotFound)
		}

		alert, err := svc.Get(alertID)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertStatusApproved, alert.Status)
		require.NotNil(t, alert.ResolvedAt)

		blocks, err := store.ListActiveIPBlocks(now)
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		for _, block := range blocks {
			assert.Equal(t, "confirmed farm", block.Reason)
			assert.WithinDuration(t, now.Add(14*24*time.Hour), block.BlockedUntil, time.Minute)
		}
	})

	t.Run("被封 IP 不能再注册或预留地址", func(t *testing.T) {
		_, err := botSvc.Register(RegisterInput{Name: "comeback", IP: ips[0]})
		assert.ErrorIs(t, err, ErrIPBlocked)

		_, err = handleSvc.Reserve("farm-user", "comeback", ips[1])
		assert.ErrorIs(t, err, ErrIPBlocked)
	})

	t.Run("被封机器人不能发信", func(t *testing.T) {
		bot, err := store.GetBot(waveIDs[0])
		require.NoError(t, err)
		relay := newRelayService(store, &fakeProvider{}, testQuotaConfig())

		_, err = relay.Send(context.Background(), bot, SendInput{To: "peer@example.com", Subject: "hi"})
		// 地址已解绑，先挡在无绑定地址这一关
		assert.ErrorIs(t, err, ErrNoHandle)
	})

	t.Run("已处置的告警不可重复处置", func(t *testing.T) {
		assert.ErrorIs(t, svc.Approve(context.Background(), alertID, "again"), storage.ErrAlertResolved)
		assert.ErrorIs(t, svc.Ignore(alertID), storage.ErrAlertResolved)
	})

	t.Run("处置后重新扫描不复活告警", func(t *testing.T) {
		_, err := svc.Scan(now.Add(time.Minute))
		require.NoError(t, err)

		alert, err := svc.Get(alertID)
		require.NoError(t, err)
		assert.Equal(t, domain.AlertStatusApproved, alert.Status)
	})

	t.Run("不存在的告警报不存在", func(t *testing.T) {
		assert.ErrorIs(t, svc.Approve(context.Background(), "ghost", ""), storage.ErrAlertNotFound)
	})
}

func TestAbuseApproveRollback(t *testing.T) {
	store := memory.NewStore()
	svc := newAbuseService(store)
	now := time.Now().UTC()

	waveIDs := seedSignupWave(t, store, "halffarm", 5, []string{"198.51.100.9"}, now.Add(-30*time.Minute))

	// 告警里混入一个不存在的机器人，处置必须整体失败
	alert := &domain.SignupAlert{
		ID:          uuid.NewString(),
		Signature:   "halffarm@0",
		Status:      domain.AlertStatusPending,
		NamePrefix:  "halffarm",
		BotIDs:      append([]string{"ghost-bot"}, waveIDs...),
		IPList:      []string{"198.51.100.9"},
		BotCount:    6,
		WindowStart: now.Add(-30 * time.Minute),
		WindowEnd:   now,
		CreatedAt:   now,
	}
	require.NoError(t, store.UpsertSignupAlert(alert))

	err := svc.Approve(context.Background(), alert.ID, "partial")
	var adminErr *AdminActionError
	require.ErrorAs(t, err, &adminErr)

	for _, botID := range waveIDs {
		bot, err := store.GetBot(botID)
		require.NoError(t, err)
		assert.Equal(t, domain.BotStatusNormal, bot.Status)
	}
	blocked, err := store.IsIPBlocked("198.51.100.9", now)
	require.NoError(t, err)
	assert.False(t, blocked)

	got, err := svc.Get(alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusPending, got.Status)
}

func TestAbuseApproveCacheInvalidation(t *testing.T) {
	store := memory.NewStore()
	svc := newAbuseService(store)
	cache := newFakeCache()
	svc.SetCache(cache)
	handleSvc := newHandleService(store)
	handleSvc.SetCache(cache)
	ctx := context.Background()
	now := time.Now().UTC()

	seedSignupWave(t, store, "stalebot", 5, []string{"198.51.100.11"}, now.Add(-30*time.Minute))

	// 入站解析回填缓存
	for i := 1; i <= 5; i++ {
		_, err := handleSvc.GetByAddress(ctx, fmt.Sprintf("stalebot_%02d", i))
		require.NoError(t, err)
	}

	_, err := svc.Scan(now)
	require.NoError(t, err)
	alerts, _, err := svc.List("pending", 1, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, svc.Approve(ctx, alerts[0].ID, "confirmed farm"))

	// 处置后被解绑地址的缓存条目立即失效
	for i := 1; i <= 5; i++ {
		addr := fmt.Sprintf("stalebot_%02d", i)
		assert.Contains(t, cache.invalidated, addr)
		assert.NotContains(t, cache.entries, addr)
	}
}

func TestAbuseIgnore(t *testing.T) {
	store := memory.NewStore()
	svc := newAbuseService(store)
	now := time.Now().UTC()

	waveIDs := seedSignupWave(t, store, "graybot", 5, []string{"198.51.100.10"}, now.Add(-30*time.Minute))

	_, err := svc.Scan(now)
	require.NoError(t, err)
	alerts, _, err := svc.List("pending", 1, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, svc.Ignore(alerts[0].ID))

	// 忽略没有任何副作用
	for _, botID := range waveIDs {
		bot, err := store.GetBot(botID)
		require.NoError(t, err)
		assert.Equal(t, domain.BotStatusNormal, bot.Status)
	}
	blocked, err := store.IsIPBlocked("198.51.100.10", now)
	require.NoError(t, err)
	assert.False(t, blocked)

	alert, err := svc.Get(alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusIgnored, alert.Status)
}

func TestNormalizePrefix(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"去尾部数字", "growthbot_007", "growthbo"},
		{"大小写折叠", "GrowthBot", "growthbo"},
		{"去尾部分隔符", "bot-123", "bot"},
		{"纯数字为空", "12345", ""},
		{"短名称保留", "abc", "abc"},
		{"首尾空白剥离", "  spam_9  ", "spam"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizePrefix(tc.in, 8))
		})
	}
}
