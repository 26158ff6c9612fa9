package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botmail/backend/internal/auth/jwt"
)

// AdminAuth 管理端 JWT 认证中间件
type AdminAuth struct {
	manager *jwt.Manager
	log     *zap.Logger
}

// NewAdminAuth 创建管理端认证中间件
func NewAdminAuth(manager *jwt.Manager, log *zap.Logger) *AdminAuth {
	return &AdminAuth{manager: manager, log: log}
}

// RequireAdmin 要求有效的管理员令牌
func (aa *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			c.Abort()
			return
		}

		claims, err := aa.manager.ValidateToken(token)
		if err != nil {
			aa.log.Warn("invalid admin token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("adminUser", claims.Username)
		c.Next()
	}
}

// extractBearer 从 Authorization 头提取 Bearer 令牌
func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}
