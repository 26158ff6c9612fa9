package service

import (
	"errors"
	"time"

	"botmail/backend/internal/config"
	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
)

// QuotaService 每日发信配额策略与计数
//
// 额度是单调策略函数：verified 机器人基础额度更高，flagCount 每加一
// 扣减固定额度，suspended 恒为 0。系数来自配置，不写死在这里。
type QuotaService struct {
	repo storage.QuotaRepository
	cfg  config.QuotaConfig
}

// NewQuotaService 创建配额服务。
func NewQuotaService(repo storage.QuotaRepository, cfg config.QuotaConfig) *QuotaService {
	return &QuotaService{repo: repo, cfg: cfg}
}

// DailyLimit 计算机器人当日发信额度
func (s *QuotaService) DailyLimit(bot *domain.Bot) int {
	if bot.Status == domain.BotStatusSuspended {
		return 0
	}
	base := s.cfg.UnverifiedLimit
	if bot.Verified {
		base = s.cfg.VerifiedLimit
	}
	limit := base - bot.FlagCount*s.cfg.FlagPenalty
	if limit < 0 {
		return 0
	}
	return limit
}

// Usage 返回机器人在指定日期的已用计数
func (s *QuotaService) Usage(botID string, date string) (int, error) {
	return s.repo.GetQuotaUsage(botID, date)
}

// Status 返回机器人当前的配额快照
func (s *QuotaService) Status(bot *domain.Bot, now time.Time) (*domain.QuotaStatus, error) {
	limit := s.DailyLimit(bot)
	used, err := s.repo.GetQuotaUsage(bot.ID, domain.QuotaDate(now))
	if err != nil {
		return nil, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &domain.QuotaStatus{
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetsAt:  domain.NextUTCDay(now),
	}, nil
}

// Consume 原子消耗一次当日配额，额度用尽返回 QuotaExceededError
func (s *QuotaService) Consume(bot *domain.Bot, now time.Time) (int, error) {
	limit := s.DailyLimit(bot)
	date := domain.QuotaDate(now)
	if limit <= 0 {
		used, err := s.repo.GetQuotaUsage(bot.ID, date)
		if err != nil {
			return 0, err
		}
		return 0, &QuotaExceededError{Limit: limit, Used: used, ResetsAt: domain.NextUTCDay(now)}
	}

	count, err := s.repo.IncrementQuotaUsage(bot.ID, date, limit)
	if err != nil {
		if errors.Is(err, storage.ErrQuotaExhausted) {
			return 0, &QuotaExceededError{Limit: limit, Used: count, ResetsAt: domain.NextUTCDay(now)}
		}
		return 0, err
	}
	return count, nil
}
