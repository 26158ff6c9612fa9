package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
)

// HandleCache 地址解析的旁路缓存。缓存只是加速，任何缓存错误都
// 回落到存储层，不影响业务结果。
type HandleCache interface {
	GetCachedHandle(ctx context.Context, address string) (*domain.Handle, error)
	CacheHandle(ctx context.Context, handle *domain.Handle) error
	InvalidateHandle(ctx context.Context, addresses ...string) error
}

// HandleService 地址注册表：预留、改名、绑定与点查。
type HandleService struct {
	handles  storage.HandleRepository
	bots     storage.BotRepository
	ipBlocks storage.IPBlockRepository
	cache    HandleCache // 可选
	log      *zap.Logger
}

// NewHandleService 创建地址注册表服务。
func NewHandleService(handles storage.HandleRepository, bots storage.BotRepository, ipBlocks storage.IPBlockRepository, log *zap.Logger) *HandleService {
	return &HandleService{
		handles:  handles,
		bots:     bots,
		ipBlocks: ipBlocks,
		log:      log,
	}
}

// SetCache 启用地址解析缓存
func (s *HandleService) SetCache(cache HandleCache) {
	s.cache = cache
}

// Reserve 为用户预留一个地址
//
// 规范化后做唯一性插入，并发竞争同一地址只有一个成功，
// 其余得到 storage.ErrHandleTaken。预留前检查来源 IP 封禁。
func (s *HandleService) Reserve(userID, candidate, ip string) (*domain.Handle, error) {
	address := domain.NormalizeHandle(candidate)
	if err := domain.ValidateHandle(address); err != nil {
		return nil, err
	}

	blocked, err := s.ipBlocks.IsIPBlocked(ip, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrIPBlocked
	}

	handle := &domain.Handle{
		ID:         uuid.NewString(),
		Address:    address,
		UserID:     userID,
		ReservedAt: time.Now().UTC(),
	}
	if err := s.handles.ReserveHandle(handle); err != nil {
		return nil, err
	}
	return handle, nil
}

// Update 原地改名，沿用预留的验证与唯一性契约
func (s *HandleService) Update(ctx context.Context, userID, handleID, newAddress string) (*domain.Handle, error) {
	address := domain.NormalizeHandle(newAddress)
	if err := domain.ValidateHandle(address); err != nil {
		return nil, err
	}

	handle, err := s.handles.GetHandle(handleID)
	if err != nil {
		return nil, err
	}
	if handle.UserID != userID {
		return nil, ErrNotHandleOwner
	}

	old := handle.Address
	if old == address {
		return handle, nil
	}
	if err := s.handles.UpdateHandleAddress(handleID, address); err != nil {
		return nil, err
	}
	handle.Address = address
	s.invalidate(ctx, old, address)
	return handle, nil
}

// Link 把地址绑定到机器人，重复绑定同一机器人为幂等
func (s *HandleService) Link(ctx context.Context, userID, handleID, botID string) error {
	handle, err := s.handles.GetHandle(handleID)
	if err != nil {
		return err
	}
	if handle.UserID != userID {
		return ErrNotHandleOwner
	}

	if err := s.handles.LinkHandle(handleID, botID); err != nil {
		return err
	}
	s.invalidate(ctx, handle.Address)
	return nil
}

// GetByBotID 查询机器人绑定的地址。
func (s *HandleService) GetByBotID(botID string) (*domain.Handle, error) {
	return s.handles.GetHandleByBotID(botID)
}

// GetByAddress 按地址点查，入站热路径优先走缓存
func (s *HandleService) GetByAddress(ctx context.Context, address string) (*domain.Handle, error) {
	address = domain.NormalizeHandle(address)
	if s.cache != nil {
		if handle, err := s.cache.GetCachedHandle(ctx, address); err == nil {
			return handle, nil
		}
	}

	handle, err := s.handles.GetHandleByAddress(address)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.CacheHandle(ctx, handle); err != nil {
			s.log.Debug("failed to cache handle", zap.String("address", address), zap.Error(err))
		}
	}
	return handle, nil
}

// IsIPBlocked 判断 IP 是否处于封禁期。
func (s *HandleService) IsIPBlocked(ip string) (bool, error) {
	return s.ipBlocks.IsIPBlocked(ip, time.Now().UTC())
}

func (s *HandleService) invalidate(ctx context.Context, addresses ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateHandle(ctx, addresses...); err != nil {
		s.log.Warn("failed to invalidate handle cache", zap.Error(err))
	}
}
