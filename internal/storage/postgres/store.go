package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
)

// Store PostgreSQL 存储实现
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储
func NewStore(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 执行数据库迁移
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Bot{},
		&domain.ClaimToken{},
		&domain.Handle{},
		&domain.Message{},
		&domain.QuotaUsage{},
		&domain.SignupAlert{},
		&domain.IPBlock{},
	)
}

// ========== Bot Repository ==========

// SaveBot 保存机器人
func (s *Store) SaveBot(bot *domain.Bot) error {
	return s.db.Create(bot).Error
}

// GetBot 根据 ID 获取机器人
func (s *Store) GetBot(id string) (*domain.Bot, error) {
	var bot domain.Bot
	if err := s.db.Where("id = ?", id).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrBotNotFound
		}
		return nil, err
	}
	return &bot, nil
}

// GetBotByAPIKeyHash 根据 API Key 哈希获取机器人
func (s *Store) GetBotByAPIKeyHash(hash string) (*domain.Bot, error) {
	var bot domain.Bot
	if err := s.db.Where("api_key_hash = ?", hash).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrBotNotFound
		}
		return nil, err
	}
	return &bot, nil
}

// UpdateBot 更新机器人
func (s *Store) UpdateBot(bot *domain.Bot) error {
	result := s.db.Save(bot)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrBotNotFound
	}
	return nil
}

// ListBotsRegisteredSince 返回指定时刻之后注册的机器人
func (s *Store) ListBotsRegisteredSince(since time.Time) ([]domain.Bot, error) {
	var bots []domain.Bot
	err := s.db.Where("created_at >= ?", since).Order("created_at ASC").Find(&bots).Error
	return bots, err
}

// SaveClaimToken 保存认领令牌
func (s *Store) SaveClaimToken(token *domain.ClaimToken) error {
	return s.db.Create(token).Error
}

// RedeemClaimToken 原子兑换一次性认领令牌，并发兑换只有一个赢家
func (s *Store) RedeemClaimToken(tokenHash, userID string, now time.Time) (*domain.Bot, error) {
	var bot domain.Bot
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// 条件更新即兑换；RowsAffected=0 表示令牌不存在、已用或已过期
		result := tx.Model(&domain.ClaimToken{}).
			Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, now).
			Update("used_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrClaimTokenNotFound
		}

		var token domain.ClaimToken
		if err := tx.Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", token.BotID).First(&bot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrBotNotFound
			}
			return err
		}

		bot.UserID = &userID
		claimed := now
		bot.ClaimedAt = &claimed
		return tx.Save(&bot).Error
	})
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// DeleteExpiredClaimTokens 清理过期令牌，返回删除数量
func (s *Store) DeleteExpiredClaimTokens(before time.Time) (int, error) {
	result := s.db.Where("expires_at < ?", before).Delete(&domain.ClaimToken{})
	return int(result.RowsAffected), result.Error
}

// ========== Handle Repository ==========

// ReserveHandle 唯一性约束下的原子插入
func (s *Store) ReserveHandle(handle *domain.Handle) error {
	err := s.db.Create(handle).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrHandleTaken
	}
	return err
}

// UpdateHandleAddress 原子改名，同样受唯一性约束
func (s *Store) UpdateHandleAddress(handleID, newAddress string) error {
	result := s.db.Model(&domain.Handle{}).
		Where("id = ?", handleID).
		Update("address", newAddress)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return storage.ErrHandleTaken
	}
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrHandleNotFound
	}
	return nil
}

// LinkHandle 将地址绑定到机器人，重复绑定同一机器人为幂等
func (s *Store) LinkHandle(handleID, botID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var handle domain.Handle
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", handleID).First(&handle).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrHandleNotFound
			}
			return err
		}
		if handle.BotID != nil && *handle.BotID == botID {
			return nil
		}
		var count int64
		if err := tx.Model(&domain.Bot{}).Where("id = ?", botID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrBotNotFound
		}
		return tx.Model(&handle).Update("bot_id", botID).Error
	})
}

// GetHandle 根据 ID 获取地址
func (s *Store) GetHandle(id string) (*domain.Handle, error) {
	return s.findHandle("id = ?", id)
}

// GetHandleByBotID 根据机器人 ID 获取绑定的地址
func (s *Store) GetHandleByBotID(botID string) (*domain.Handle, error) {
	return s.findHandle("bot_id = ?", botID)
}

// GetHandleByAddress 根据地址获取
func (s *Store) GetHandleByAddress(address string) (*domain.Handle, error) {
	return s.findHandle("address = ?", address)
}

func (s *Store) findHandle(cond string, arg interface{}) (*domain.Handle, error) {
	var handle domain.Handle
	if err := s.db.Where(cond, arg).First(&handle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrHandleNotFound
		}
		return nil, err
	}
	return &handle, nil
}

// ========== Message Repository ==========

// SaveMessage 保存邮件
func (s *Store) SaveMessage(message *domain.Message) error {
	return s.db.Create(message).Error
}

// GetMessage 获取单封邮件
func (s *Store) GetMessage(botID, id string) (*domain.Message, error) {
	var message domain.Message
	if err := s.db.Where("id = ? AND bot_id = ?", id, botID).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// GetMessageByProtocolID 按协议级 Message-ID 令牌查找
func (s *Store) GetMessageByProtocolID(messageID string) (*domain.Message, error) {
	var message domain.Message
	if err := s.db.Where("message_id = ?", messageID).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// ListMessages 按条件过滤并游标分页，创建时间倒序
func (s *Store) ListMessages(query domain.MessageQuery) (*domain.MessagePage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	tx := s.db.Model(&domain.Message{}).Where("bot_id = ?", query.BotID)

	if query.UnreadOnly {
		tx = tx.Where("is_read = ? AND direction = ?", false, domain.DirectionInbound)
	}
	if query.Direction != nil {
		tx = tx.Where("direction = ?", *query.Direction)
	}
	if query.Search != nil {
		tx = applySearch(tx, query.Search)
	}

	if query.Cursor != "" {
		var cursor domain.Message
		err := s.db.Select("id", "created_at").
			Where("id = ? AND bot_id = ?", query.Cursor, query.BotID).
			First(&cursor).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err == nil {
			tx = tx.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
		}
	}

	// 多取一条判断是否还有下一页
	var messages []domain.Message
	if err := tx.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&messages).Error; err != nil {
		return nil, err
	}

	page := &domain.MessagePage{}
	if len(messages) > limit {
		page.HasMore = true
		messages = messages[:limit]
	}
	page.Messages = messages
	if page.HasMore && len(messages) > 0 {
		page.NextCursor = messages[len(messages)-1].ID
	}
	return page, nil
}

// applySearch 把搜索 DSL 条件翻译为 WHERE 子句
func applySearch(tx *gorm.DB, search *domain.SearchQuery) *gorm.DB {
	if search.From != "" {
		tx = tx.Where("from_address ILIKE ?", "%"+search.From+"%")
	}
	if search.To != "" {
		tx = tx.Where("to_address ILIKE ?", "%"+search.To+"%")
	}
	if search.Subject != "" {
		tx = tx.Where("subject ILIKE ?", "%"+search.Subject+"%")
	}
	if search.After != nil {
		tx = tx.Where("created_at >= ?", *search.After)
	}
	if search.Before != nil {
		tx = tx.Where("created_at < ?", *search.Before)
	}
	if len(search.Keywords) > 0 {
		// 关键词之间 OR，整体再与其他条件 AND
		or := tx.Session(&gorm.Session{NewDB: true})
		var group *gorm.DB
		for _, kw := range search.Keywords {
			cond := or.Where("subject ILIKE ? OR body_text ILIKE ?", "%"+kw+"%", "%"+kw+"%")
			if group == nil {
				group = cond
			} else {
				group = group.Or(cond)
			}
		}
		tx = tx.Where(group)
	}
	return tx
}

// MarkMessageRead 将邮件标记为已读
func (s *Store) MarkMessageRead(botID, id string) error {
	result := s.db.Model(&domain.Message{}).
		Where("id = ? AND bot_id = ?", id, botID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// MarkMessagesRead 批量标记已读
func (s *Store) MarkMessagesRead(botID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&domain.Message{}).
		Where("bot_id = ? AND id IN ?", botID, ids).
		Update("is_read", true).Error
}

// CountUnread 统计未读的收件数量
func (s *Store) CountUnread(botID string) (int, error) {
	var count int64
	err := s.db.Model(&domain.Message{}).
		Where("bot_id = ? AND direction = ? AND is_read = ?", botID, domain.DirectionInbound, false).
		Count(&count).Error
	return int(count), err
}

// ========== Quota Repository ==========

// GetQuotaUsage 获取当日配额计数
func (s *Store) GetQuotaUsage(botID, date string) (int, error) {
	var usage domain.QuotaUsage
	err := s.db.Where("bot_id = ? AND date = ?", botID, date).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return usage.Count, err
}

// IncrementQuotaUsage 单条原子 upsert 实现"比较并递增"，
// 计数到达 limit 后语句不再命中任何行
func (s *Store) IncrementQuotaUsage(botID, date string, limit int) (int, error) {
	var counts []int
	err := s.db.Raw(`
		INSERT INTO quota_usages (bot_id, date, count) VALUES (?, ?, 1)
		ON CONFLICT (bot_id, date)
		DO UPDATE SET count = quota_usages.count + 1
		WHERE quota_usages.count < ?
		RETURNING count`, botID, date, limit).Scan(&counts).Error
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		used, err := s.GetQuotaUsage(botID, date)
		if err != nil {
			return 0, err
		}
		return used, storage.ErrQuotaExhausted
	}
	return counts[0], nil
}

// ========== Alert Repository ==========

// UpsertSignupAlert 按签名写入或合并更新告警
//
// 对已存在的 pending 告警做并集合并：成员与 IP 只增不减，早期
// 成员滑出扫描回看范围也不会从告警里消失。终态告警不受影响。
func (s *Store) UpsertSignupAlert(alert *domain.SignupAlert) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.SignupAlert
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("signature = ?", alert.Signature).First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			if existing.Status.Resolved() {
				return nil
			}
			botIDs := unionStrings(existing.BotIDs, alert.BotIDs)
			ipList := unionStrings(existing.IPList, alert.IPList)
			claimed := existing.ClaimedCount
			if alert.ClaimedCount > claimed {
				claimed = alert.ClaimedCount
			}
			windowStart := existing.WindowStart
			if alert.WindowStart.Before(windowStart) {
				windowStart = alert.WindowStart
			}
			windowEnd := existing.WindowEnd
			if alert.WindowEnd.After(windowEnd) {
				windowEnd = alert.WindowEnd
			}
			return tx.Model(&existing).Updates(map[string]interface{}{
				"bot_ids":       botIDs,
				"ip_list":       ipList,
				"bot_count":     len(botIDs),
				"claimed_count": claimed,
				"window_start":  windowStart,
				"window_end":    windowEnd,
			}).Error
		}
		return tx.Create(alert).Error
	})
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
	var alert domain.SignupAlert
	if err := s.db.Where("id = ?", id).First(&alert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

// GetSignupAlertBySignature 根据签名获取告警
func (s *Store) GetSignupAlertBySignature(signature string) (*domain.SignupAlert, error) {
	var alert domain.SignupAlert
	if err := s.db.Where("signature = ?", signature).First(&alert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

// ListSignupAlerts 按状态过滤并分页，创建时间倒序
func (s *Store) ListSignupAlerts(status *domain.AlertStatus, page, pageSize int) ([]domain.SignupAlert, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	tx := s.db.Model(&domain.SignupAlert{})
	if status != nil {
		tx = tx.Where("status = ?", *status)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var alerts []domain.SignupAlert
	err := tx.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&alerts).Error
	return alerts, int(total), err
}

// ApproveSignupAlert 处置事务：全部成功或全部回滚
func (s *Store) ApproveSignupAlert(alertID string, blockedUntil time.Time, reason string, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var alert domain.SignupAlert
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", alertID).First(&alert).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrAlertNotFound
			}
			return err
		}
		if alert.Status != domain.AlertStatusPending {
			return storage.ErrAlertResolved
		}

		result := tx.Model(&domain.Bot{}).
			Where("id IN ?", alert.BotIDs).
			Update("status", domain.BotStatusSuspended)
		if result.Error != nil {
			return result.Error
		}
		if int(result.RowsAffected) != len(alert.BotIDs) {
			return storage.ErrBotNotFound
		}

		// 解绑地址使其可被重新认领
		if err := tx.Model(&domain.Handle{}).
			Where("bot_id IN ?", alert.BotIDs).
			Update("bot_id", nil).Error; err != nil {
			return err
		}

		for _, ip := range alert.IPList {
			block := domain.IPBlock{
				ID:           newBlockID(),
				IP:           ip,
				BlockedUntil: blockedUntil,
				Reason:       reason,
				CreatedAt:    now,
			}
			if err := tx.Create(&block).Error; err != nil {
				return err
			}
		}

		return tx.Model(&alert).Updates(map[string]interface{}{
			"status":      domain.AlertStatusApproved,
			"resolved_at": now,
		}).Error
	})
}

// IgnoreSignupAlert 将 pending 告警标记为 ignored
func (s *Store) IgnoreSignupAlert(alertID string, now time.Time) error {
	result := s.db.Model(&domain.SignupAlert{}).
		Where("id = ? AND status = ?", alertID, domain.AlertStatusPending).
		Updates(map[string]interface{}{
			"status":      domain.AlertStatusIgnored,
			"resolved_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.Model(&domain.SignupAlert{}).Where("id = ?", alertID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrAlertNotFound
		}
		return storage.ErrAlertResolved
	}
	return nil
}

// ========== IP Block Repository ==========

// IsIPBlocked 判断 IP 是否存在生效中的封禁
func (s *Store) IsIPBlocked(ip string, now time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&domain.IPBlock{}).
		Where("ip = ? AND blocked_until > ?", ip, now).
		Count(&count).Error
	return count > 0, err
}

// ListActiveIPBlocks 返回全部生效中的封禁记录
func (s *Store) ListActiveIPBlocks(now time.Time) ([]domain.IPBlock, error) {
	var blocks []domain.IPBlock
	err := s.db.Where("blocked_until > ?", now).Order("created_at DESC").Find(&blocks).Error
	return blocks, err
}

func newBlockID() string {
	return uuid.New().String()
}

// ========== 工具方法 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
