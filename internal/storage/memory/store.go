package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
)

// Store 使用内存保存全部中继数据，主要用于开发与测试
type Store struct {
	mu            sync.RWMutex
	bots          map[string]*domain.Bot
	botsByKeyHash map[string]string // apiKeyHash -> botID
	claimTokens   map[string]*domain.ClaimToken
	handles       map[string]*domain.Handle
	byAddress     map[string]string // address -> handleID
	byBot         map[string]string // botID -> handleID
	messages      map[string]*domain.Message
	byProtocolID  map[string]string // Message-ID 令牌 -> messageID
	quota         map[string]int    // botID|date -> count
	alerts        map[string]*domain.SignupAlert
	bySignature   map[string]string // signature -> alertID
	ipBlocks      []domain.IPBlock
}

// NewStore 创建一个内存存储实例
func NewStore() *Store {
	return &Store{
		bots:          make(map[string]*domain.Bot),
		botsByKeyHash: make(map[string]string),
		claimTokens:   make(map[string]*domain.ClaimToken),
		handles:       make(map[string]*domain.Handle),
		byAddress:     make(map[string]string),
		byBot:         make(map[string]string),
		messages:      make(map[string]*domain.Message),
		byProtocolID:  make(map[string]string),
		quota:         make(map[string]int),
		alerts:        make(map[string]*domain.SignupAlert),
		bySignature:   make(map[string]string),
		ipBlocks:      make([]domain.IPBlock, 0),
	}
}

// ========== Bot Repository ==========

// SaveBot 保存机器人
func (s *Store) SaveBot(bot *domain.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *bot
	s.bots[bot.ID] = &clone
	if bot.APIKeyHash != "" {
		s.botsByKeyHash[bot.APIKeyHash] = bot.ID
	}
	return nil
}

// GetBot 根据 ID 获取机器人
func (s *Store) GetBot(id string) (*domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBotLocked(id)
}

func (s *Store) getBotLocked(id string) (*domain.Bot, error) {
	bot, ok := s.bots[id]
	if !ok {
		return nil, storage.ErrBotNotFound
	}
	clone := *bot
	return &clone, nil
}

// GetBotByAPIKeyHash 根据 API Key 哈希获取机器人
func (s *Store) GetBotByAPIKeyHash(hash string) (*domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.botsByKeyHash[hash]
	if !ok {
		return nil, storage.ErrBotNotFound
	}
	return s.getBotLocked(id)
}

// UpdateBot 更新机器人
func (s *Store) UpdateBot(bot *domain.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bots[bot.ID]
	if !ok {
		return storage.ErrBotNotFound
	}
	if existing.APIKeyHash != bot.APIKeyHash {
		delete(s.botsByKeyHash, existing.APIKeyHash)
		if bot.APIKeyHash != "" {
			s.botsByKeyHash[bot.APIKeyHash] = bot.ID
		}
	}
	clone := *bot
	s.bots[bot.ID] = &clone
	return nil
}

// ListBotsRegisteredSince 返回指定时刻之后注册的机器人
func (s *Store) ListBotsRegisteredSince(since time.Time) ([]domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Bot, 0)
	for _, bot := range s.bots {
		if !bot.CreatedAt.Before(since) {
			result = append(result, *bot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SaveClaimToken 保存认领令牌
func (s *Store) SaveClaimToken(token *domain.ClaimToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *token
	s.claimTokens[token.TokenHash] = &clone
	return nil
}

// RedeemClaimToken 原子兑换一次性认领令牌
func (s *Store) RedeemClaimToken(tokenHash, userID string, now time.Time) (*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.claimTokens[tokenHash]
	if !ok || token.UsedAt != nil || now.After(token.ExpiresAt) {
		return nil, storage.ErrClaimTokenNotFound
	}
	bot, ok := s.bots[token.BotID]
	if !ok {
		return nil, storage.ErrBotNotFound
	}

	used := now
	token.UsedAt = &used
	bot.UserID = &userID
	bot.ClaimedAt = &used

	clone := *bot
	return &clone, nil
}

// DeleteExpiredClaimTokens 清理过期令牌，返回删除数量
func (s *Store) DeleteExpiredClaimTokens(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for hash, token := range s.claimTokens {
		if token.ExpiresAt.Before(before) {
			delete(s.claimTokens, hash)
			count++
		}
	}
	return count, nil
}

// ========== Handle Repository ==========

// ReserveHandle 唯一性约束下的原子插入
func (s *Store) ReserveHandle(handle *domain.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddress[handle.Address]; ok {
		return storage.ErrHandleTaken
	}
	clone := *handle
	s.handles[handle.ID] = &clone
	s.byAddress[handle.Address] = handle.ID
	if handle.BotID != nil {
		s.byBot[*handle.BotID] = handle.ID
	}
	return nil
}

// UpdateHandleAddress 原子改名
func (s *Store) UpdateHandleAddress(handleID, newAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.handles[handleID]
	if !ok {
		return storage.ErrHandleNotFound
	}
	if existing, ok := s.byAddress[newAddress]; ok && existing != handleID {
		return storage.ErrHandleTaken
	}
	delete(s.byAddress, handle.Address)
	handle.Address = newAddress
	s.byAddress[newAddress] = handleID
	return nil
}

// LinkHandle 将地址绑定到机器人
func (s *Store) LinkHandle(handleID, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.handles[handleID]
	if !ok {
		return storage.ErrHandleNotFound
	}
	if handle.BotID != nil && *handle.BotID == botID {
		return nil // 幂等
	}
	if _, ok := s.bots[botID]; !ok {
		return storage.ErrBotNotFound
	}
	if handle.BotID != nil {
		delete(s.byBot, *handle.BotID)
	}
	handle.BotID = &botID
	s.byBot[botID] = handleID
	return nil
}

// GetHandle 根据 ID 获取地址
func (s *Store) GetHandle(id string) (*domain.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handle, ok := s.handles[id]
	if !ok {
		return nil, storage.ErrHandleNotFound
	}
	clone := *handle
	return &clone, nil
}

// GetHandleByBotID 根据机器人 ID 获取绑定的地址
func (s *Store) GetHandleByBotID(botID string) (*domain.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBot[botID]
	if !ok {
		return nil, storage.ErrHandleNotFound
	}
	handle, ok := s.handles[id]
	if !ok {
		return nil, storage.ErrHandleNotFound
	}
	clone := *handle
	return &clone, nil
}

// GetHandleByAddress 根据地址获取
func (s *Store) GetHandleByAddress(address string) (*domain.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, storage.ErrHandleNotFound
	}
	handle, ok := s.handles[id]
	if !ok {
		return nil, storage.ErrHandleNotFound
	}
	clone := *handle
	return &clone, nil
}

// ========== Message Repository ==========

// SaveMessage 保存邮件
func (s *Store) SaveMessage(message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *message
	s.messages[message.ID] = &clone
	if message.MessageID != "" {
		s.byProtocolID[message.MessageID] = message.ID
	}
	return nil
}

// GetMessage 获取单封邮件
func (s *Store) GetMessage(botID, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok || msg.BotID != botID {
		return nil, storage.ErrMessageNotFound
	}
	clone := *msg
	return &clone, nil
}

// GetMessageByProtocolID 按协议级 Message-ID 令牌查找
func (s *Store) GetMessageByProtocolID(messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProtocolID[messageID]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	clone := *msg
	return &clone, nil
}

// ListMessages 按条件过滤并游标分页，创建时间倒序
func (s *Store) ListMessages(query domain.MessageQuery) (*domain.MessagePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	filtered := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if matchesQuery(msg, query) {
			filtered = append(filtered, *msg)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		}
		return filtered[i].ID > filtered[j].ID
	})

	start := 0
	if query.Cursor != "" {
		// 游标必须属于当前机器人，别人的邮件 ID 不能用来定位
		if cursor, ok := s.messages[query.Cursor]; ok && cursor.BotID == query.BotID {
			start = len(filtered)
			for i := range filtered {
				if olderThan(&filtered[i], cursor) {
					start = i
					break
				}
			}
		}
	}

	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page := &domain.MessagePage{
		Messages: filtered[start:end],
		HasMore:  end < len(filtered),
	}
	if page.HasMore && len(page.Messages) > 0 {
		page.NextCursor = page.Messages[len(page.Messages)-1].ID
	}
	return page, nil
}

// olderThan 判断 a 在倒序排序中是否严格位于 b 之后
func olderThan(a, b *domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// matchesQuery 检查邮件是否匹配列表查询条件
func matchesQuery(msg *domain.Message, query domain.MessageQuery) bool {
	if msg.BotID != query.BotID {
		return false
	}
	if query.UnreadOnly {
		// 仅未读隐含 inbound
		if msg.IsRead || msg.Direction != domain.DirectionInbound {
			return false
		}
	}
	if query.Direction != nil && msg.Direction != *query.Direction {
		return false
	}
	if query.Search != nil && !query.Search.Matches(msg) {
		return false
	}
	return true
}

// MarkMessageRead 将邮件标记为已读
func (s *Store) MarkMessageRead(botID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.BotID != botID {
		return storage.ErrMessageNotFound
	}
	msg.IsRead = true
	return nil
}

// MarkMessagesRead 批量标记已读
func (s *Store) MarkMessagesRead(botID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if msg, ok := s.messages[id]; ok && msg.BotID == botID {
			msg.IsRead = true
		}
	}
	return nil
}

// CountUnread 统计未读的收件数量
func (s *Store) CountUnread(botID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.messages {
		if msg.BotID == botID && msg.Direction == domain.DirectionInbound && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

// ========== Quota Repository ==========

func quotaKey(botID, date string) string {
	return botID + "|" + date
}

// GetQuotaUsage 获取当日配额计数
func (s *Store) GetQuotaUsage(botID, date string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quota[quotaKey(botID, date)], nil
}

// IncrementQuotaUsage 比较并递增：计数不会越过 limit
func (s *Store) IncrementQuotaUsage(botID, date string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := quotaKey(botID, date)
	if s.quota[key] >= limit {
		return s.quota[key], storage.ErrQuotaExhausted
	}
	s.quota[key]++
	return s.quota[key], nil
}

// ========== Alert Repository ==========

// UpsertSignupAlert 按签名写入或合并更新告警
//
// 对已存在的 pending 告警做并集合并：成员与 IP 只增不减，早期
// 成员滑出扫描回看范围也不会从告警里消失。终态告警不受影响。
func (s *Store) UpsertSignupAlert(alert *domain.SignupAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySignature[alert.Signature]; ok {
		existing := s.alerts[id]
		if existing.Status.Resolved() {
			return nil // 终态告警不再变化
		}
		merged := mergeAlerts(existing, alert)
		s.alerts[id] = merged
		return nil
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	clone := *alert
	s.alerts[alert.ID] = &clone
	s.bySignature[alert.Signature] = alert.ID
	return nil
}

// mergeAlerts 把新一轮扫描结果并入已有的 pending 告警
func mergeAlerts(existing, incoming *domain.SignupAlert) *domain.SignupAlert {
	merged := *existing
	merged.BotIDs = unionStrings(existing.BotIDs, incoming.BotIDs)
	merged.IPList = unionStrings(existing.IPList, incoming.IPList)
	merged.BotCount = len(merged.BotIDs)
	if incoming.ClaimedCount > merged.ClaimedCount {
		merged.ClaimedCount = incoming.ClaimedCount
	}
	if incoming.WindowStart.Before(merged.WindowStart) {
		merged.WindowStart = incoming.WindowStart
	}
	if incoming.WindowEnd.After(merged.WindowEnd) {
		merged.WindowEnd = incoming.WindowEnd
	}
	return &merged
}

// unionStrings 求并集，保持首次出现的顺序
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, items := range [][]string{a, b} {
		for _, item := range items {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			result = append(result, item)
		}
	}
	return result
}

// GetSignupAlert 根据 ID 获取告警
func (s *Store) GetSignupAlert(id string) (*domain.SignupAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, storage.ErrAlertNotFound
	}
	clone := *alert
	return &clone, nil
}

// GetSignupAlertBySignature 根据签名获取告警
func (s *Store) GetSignupAlertBySignature(signature string) (*domain.SignupAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySignature[signature]
	if !ok {
		return nil, storage.ErrAlertNotFound
	}
	clone := *s.alerts[id]
	return &clone, nil
}

// ListSignupAlerts 按状态过滤并分页，创建时间倒序
func (s *Store) ListSignupAlerts(status *domain.AlertStatus, page, pageSize int) ([]domain.SignupAlert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	filtered := make([]domain.SignupAlert, 0)
	for _, alert := range s.alerts {
		if status != nil && alert.Status != *status {
			continue
		}
		filtered = append(filtered, *alert)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

// ApproveSignupAlert 处置事务：先全部校验、再一次性应用，
// 中途失败不留下任何可见的部分变更
func (s *Store) ApproveSignupAlert(alertID string, blockedUntil time.Time, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertID]
	if !ok {
		return storage.ErrAlertNotFound
	}
	if alert.Status != domain.AlertStatusPending {
		return storage.ErrAlertResolved
	}

	// 校验阶段：任何目标缺失都直接失败，不触碰数据
	targets := make([]*domain.Bot, 0, len(alert.BotIDs))
	for _, botID := range alert.BotIDs {
		bot, ok := s.bots[botID]
		if !ok {
			return storage.ErrBotNotFound
		}
		targets = append(targets, bot)
	}

	// 应用阶段：封禁机器人并解绑地址
	for _, bot := range targets {
		bot.Status = domain.BotStatusSuspended
		if handleID, ok := s.byBot[bot.ID]; ok {
			if handle, ok := s.handles[handleID]; ok {
				handle.BotID = nil
			}
			delete(s.byBot, bot.ID)
		}
	}
	for _, ip := range alert.IPList {
		s.ipBlocks = append(s.ipBlocks, domain.IPBlock{
			ID:           uuid.NewString(),
			IP:           ip,
			BlockedUntil: blockedUntil,
			Reason:       reason,
			CreatedAt:    now,
		})
	}

	resolved := now
	alert.Status = domain.AlertStatusApproved
	alert.ResolvedAt = &resolved
	return nil
}

// IgnoreSignupAlert 将 pending 告警标记为 ignored
func (s *Store) IgnoreSignupAlert(alertID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[alertID]
	if !ok {
		return storage.ErrAlertNotFound
	}
	if alert.Status != domain.AlertStatusPending {
		return storage.ErrAlertResolved
	}
	resolved := now
	alert.Status = domain.AlertStatusIgnored
	alert.ResolvedAt = &resolved
	return nil
}

// ========== IP Block Repository ==========

// IsIPBlocked 判断 IP 是否存在生效中的封禁
func (s *Store) IsIPBlocked(ip string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.ipBlocks {
		if s.ipBlocks[i].IP == ip && s.ipBlocks[i].Active(now) {
			return true, nil
		}
	}
	return false, nil
}

// ListActiveIPBlocks 返回全部生效中的封禁记录
func (s *Store) ListActiveIPBlocks(now time.Time) ([]domain.IPBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.IPBlock, 0)
	for i := range s.ipBlocks {
		if s.ipBlocks[i].Active(now) {
			result = append(result, s.ipBlocks[i])
		}
	}
	return result, nil
}

// ========== 工具方法 ==========

// Close 关闭存储连接
func (s *Store) Close() error {
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	return nil
}
