package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botmail/backend/internal/domain"
	"botmail/backend/internal/service"
)

// BotContextKey 上下文中机器人对象的键名
const BotContextKey = "bot"

// BotAuth 机器人凭证中间件：把 X-API-Key 解析为机器人
type BotAuth struct {
	bots *service.BotService
	log  *zap.Logger
}

// NewBotAuth 创建机器人认证中间件
func NewBotAuth(bots *service.BotService, log *zap.Logger) *BotAuth {
	return &BotAuth{bots: bots, log: log}
}

// RequireBot 要求有效的机器人 API Key
func (ba *BotAuth) RequireBot() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "api key required",
			})
			c.Abort()
			return
		}

		bot, err := ba.bots.Authenticate(apiKey)
		if err != nil {
			if err != service.ErrInvalidCredential {
				ba.log.Error("failed to resolve api key", zap.Error(err))
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid api key",
			})
			c.Abort()
			return
		}

		c.Set(BotContextKey, bot)
		c.Next()
	}
}

// BotFromContext 从上下文取出已认证的机器人
func BotFromContext(c *gin.Context) *domain.Bot {
	value, exists := c.Get(BotContextKey)
	if !exists {
		return nil
	}
	bot, ok := value.(*domain.Bot)
	if !ok {
		return nil
	}
	return bot
}
