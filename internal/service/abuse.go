package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botmail/backend/internal/config"
	"botmail/backend/internal/domain"
	"botmail/backend/internal/monitoring"
	"botmail/backend/internal/storage"
)

// AbuseService 批量注册检测与处置。
//
// 扫描只读地遍历近期注册，按规范化名称前缀聚类；达到阈值的组
// 以稳定签名 upsert 成告警。扫描可重入、幂等，不阻塞收发路径。
type AbuseService struct {
	store   storage.Store
	cfg     config.AbuseConfig
	cache   HandleCache // 可选
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewAbuseService 创建滥用检测服务。
func NewAbuseService(store storage.Store, cfg config.AbuseConfig, metrics *monitoring.Metrics, log *zap.Logger) *AbuseService {
	return &AbuseService{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// SetCache 启用地址缓存失效：处置告警后让被解绑地址立即失效
func (s *AbuseService) SetCache(cache HandleCache) {
	s.cache = cache
}

// Scan 扫描一轮近期注册，返回本轮新建或刷新的告警数
func (s *AbuseService) Scan(now time.Time) (int, error) {
	since := now.Add(-s.cfg.Window * time.Duration(s.cfg.LookbackWindows))
	bots, err := s.store.ListBotsRegisteredSince(since)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]domain.Bot)
	for _, bot := range bots {
		prefix := normalizePrefix(bot.Name, s.cfg.PrefixLength)
		if prefix == "" {
			continue
		}
		groups[prefix] = append(groups[prefix], bot)
	}

	upserted := 0
	for prefix, group := range groups {
		if len(group) < s.cfg.Threshold {
			continue
		}

		// ListBotsRegisteredSince 按注册时间升序，组内第一个即最早
		earliest := group[0].CreatedAt
		latest := group[len(group)-1].CreatedAt

		// 签名取组内最早注册时间按窗口取整，组增长时保持稳定，
		// 重复扫描落在同一个告警上
		signature := fmt.Sprintf("%s@%d", prefix, earliest.Truncate(s.cfg.Window).Unix())

		botIDs := make([]string, 0, len(group))
		claimed := 0
		ipSet := make(map[string]struct{})
		for _, bot := range group {
			botIDs = append(botIDs, bot.ID)
			if bot.Claimed() {
				claimed++
			}
			if bot.RegistrationIP != "" {
				ipSet[bot.RegistrationIP] = struct{}{}
			}
		}
		ipList := make([]string, 0, len(ipSet))
		for ip := range ipSet {
			ipList = append(ipList, ip)
		}
		sort.Strings(ipList)

		// 窗口边界漂移处理：最早成员滑出回看范围后，按当前可见
		// 成员取整会得到新签名。同一波注册不该裂成两个告警，
		// 签名未命中时挂到成员有交集的 pending 告警上合并。
		if _, lookupErr := s.store.GetSignupAlertBySignature(signature); errors.Is(lookupErr, storage.ErrAlertNotFound) {
			if match := s.findOverlappingPending(prefix, botIDs); match != nil {
				signature = match.Signature
			}
		}

		alert := &domain.SignupAlert{
			ID:           uuid.NewString(),
			Signature:    signature,
			Status:       domain.AlertStatusPending,
			NamePrefix:   prefix,
			BotIDs:       botIDs,
			IPList:       ipList,
			BotCount:     len(botIDs),
			ClaimedCount: claimed,
			WindowStart:  earliest,
			WindowEnd:    latest,
			CreatedAt:    now,
		}
		if err := s.store.UpsertSignupAlert(alert); err != nil {
			return upserted, err
		}
		upserted++
		if s.metrics != nil {
			s.metrics.AlertsUpserted.Inc()
		}
		s.log.Info("signup alert upserted",
			zap.String("signature", signature),
			zap.Int("bot_count", len(botIDs)),
			zap.Int("claimed_count", claimed),
			zap.Strings("ips", ipList),
		)
	}

	return upserted, nil
}

// findOverlappingPending 查找同前缀且成员有交集的 pending 告警
func (s *AbuseService) findOverlappingPending(prefix string, botIDs []string) *domain.SignupAlert {
	ids := make(map[string]struct{}, len(botIDs))
	for _, id := range botIDs {
		ids[id] = struct{}{}
	}
	pending := domain.AlertStatusPending
	const pageSize = 50
	for page := 1; ; page++ {
		alerts, _, err := s.store.ListSignupAlerts(&pending, page, pageSize)
		if err != nil || len(alerts) == 0 {
			return nil
		}
		for i := range alerts {
			alert := &alerts[i]
			if alert.NamePrefix != prefix {
				continue
			}
			for _, id := range alert.BotIDs {
				if _, ok := ids[id]; ok {
					return alert
				}
			}
		}
		if len(alerts) < pageSize {
			return nil
		}
	}
}

// Approve 处置告警：封禁全部机器人、解绑地址、封禁 IP
//
// 整个处置是单个事务，失败时全部回滚、告警保持 pending、
// 包装为 AdminActionError 以便调用方重试。处置成功后让被解绑
// 地址的解析缓存失效，入站路由立刻停止命中已封禁机器人。
func (s *AbuseService) Approve(ctx context.Context, alertID, reason string) error {
	now := time.Now().UTC()
	if reason == "" {
		reason = "bulk signup abuse"
	}

	// 解绑发生在事务里，地址要在处置前收集
	var addresses []string
	if s.cache != nil {
		alert, err := s.store.GetSignupAlert(alertID)
		if err != nil {
			return err
		}
		for _, botID := range alert.BotIDs {
			handle, err := s.store.GetHandleByBotID(botID)
			if err != nil {
				if errors.Is(err, storage.ErrHandleNotFound) {
					continue
				}
				return err
			}
			addresses = append(addresses, handle.Address)
		}
	}

	err := s.store.ApproveSignupAlert(alertID, now.Add(s.cfg.BlockDuration), reason, now)
	if err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) || errors.Is(err, storage.ErrAlertResolved) {
			return err
		}
		return &AdminActionError{Err: err}
	}
	if len(addresses) > 0 {
		if err := s.cache.InvalidateHandle(ctx, addresses...); err != nil {
			s.log.Warn("failed to invalidate handle cache after approval", zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.AlertsResolved.WithLabelValues("approved").Inc()
	}
	return nil
}

// Ignore 将 pending 告警标记为 ignored，无其他副作用
func (s *AbuseService) Ignore(alertID string) error {
	if err := s.store.IgnoreSignupAlert(alertID, time.Now().UTC()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AlertsResolved.WithLabelValues("ignored").Inc()
	}
	return nil
}

// Get 根据 ID 获取告警。
func (s *AbuseService) Get(alertID string) (*domain.SignupAlert, error) {
	return s.store.GetSignupAlert(alertID)
}

// List 按状态过滤并分页列出告警。
func (s *AbuseService) List(status string, page, pageSize int) ([]domain.SignupAlert, int, error) {
	var filter *domain.AlertStatus
	if status != "" {
		st := domain.AlertStatus(strings.ToLower(status))
		if !st.Valid() {
			return nil, 0, fmt.Errorf("invalid alert status %q", status)
		}
		filter = &st
	}
	return s.store.ListSignupAlerts(filter, page, pageSize)
}

// normalizePrefix 推导聚类用的名称前缀：小写、去掉尾部数字与
// 分隔符，再截取固定长度
func normalizePrefix(name string, length int) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimRightFunc(name, func(r rune) bool {
		return (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
	})
	if name == "" {
		return ""
	}
	runes := []rune(name)
	if len(runes) > length {
		runes = runes[:length]
	}
	return string(runes)
}
