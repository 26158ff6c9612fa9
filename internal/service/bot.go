package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"botmail/backend/internal/config"
	"botmail/backend/internal/domain"
	"botmail/backend/internal/storage"
)

// BotService 机器人注册、认领与凭证解析。
type BotService struct {
	bots     storage.BotRepository
	ipBlocks storage.IPBlockRepository
	cfg      config.RelayConfig
}

// NewBotService 创建机器人服务。
func NewBotService(bots storage.BotRepository, ipBlocks storage.IPBlockRepository, cfg config.RelayConfig) *BotService {
	return &BotService{bots: bots, ipBlocks: ipBlocks, cfg: cfg}
}

// RegisterInput 定义注册机器人所需的输入。
type RegisterInput struct {
	Name       string
	SenderName string
	IP         string
}

// RegisterResult 注册结果。API Key 与认领令牌只在这里以明文出现一次，
// 存储层只保存哈希。
type RegisterResult struct {
	Bot            *domain.Bot
	APIKey         string
	ClaimToken     string
	TokenExpiresAt time.Time
}

// Register 创建一个未认领的机器人及其一次性认领令牌
func (s *BotService) Register(input RegisterInput) (*RegisterResult, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("bot name is required")
	}

	blocked, err := s.ipBlocks.IsIPBlocked(input.IP, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrIPBlocked
	}

	apiKey, err := generateSecret("bmk")
	if err != nil {
		return nil, err
	}
	claimToken, err := generateSecret("bmc")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bot := &domain.Bot{
		ID:             uuid.NewString(),
		Name:           name,
		SenderName:     strings.TrimSpace(input.SenderName),
		APIKeyHash:     hashSecret(apiKey),
		Status:         domain.BotStatusNormal,
		Verified:       false,
		RegistrationIP: input.IP,
		CreatedAt:      now,
	}
	if bot.SenderName == "" {
		bot.SenderName = name
	}

	if err := s.bots.SaveBot(bot); err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.cfg.ClaimTokenTTL)
	token := &domain.ClaimToken{
		TokenHash: hashSecret(claimToken),
		BotID:     bot.ID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.bots.SaveClaimToken(token); err != nil {
		return nil, err
	}

	return &RegisterResult{
		Bot:            bot,
		APIKey:         apiKey,
		ClaimToken:     claimToken,
		TokenExpiresAt: expiresAt,
	}, nil
}

// Claim 用一次性令牌把机器人绑定到人类用户。令牌无效、已用或
// 过期一律返回 storage.ErrClaimTokenNotFound，不区分原因。
func (s *BotService) Claim(claimToken, userID string) (*domain.Bot, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.bots.RedeemClaimToken(hashSecret(claimToken), userID, time.Now().UTC())
}

// Authenticate 把 API Key 解析为机器人
func (s *BotService) Authenticate(apiKey string) (*domain.Bot, error) {
	if apiKey == "" {
		return nil, ErrInvalidCredential
	}
	bot, err := s.bots.GetBotByAPIKeyHash(hashSecret(apiKey))
	if err != nil {
		if err == storage.ErrBotNotFound {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	return bot, nil
}

// Get 根据 ID 获取机器人。
func (s *BotService) Get(id string) (*domain.Bot, error) {
	return s.bots.GetBot(id)
}

// SweepExpiredClaimTokens 清理过期的认领令牌，返回删除数量
func (s *BotService) SweepExpiredClaimTokens() (int, error) {
	return s.bots.DeleteExpiredClaimTokens(time.Now().UTC())
}

// generateSecret 生成带前缀的随机凭证，36 字节熵
func generateSecret(prefix string) (string, error) {
	buf := make([]byte, 36)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(buf), nil
}

// hashSecret 凭证入库前的 sha256 摘要
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
