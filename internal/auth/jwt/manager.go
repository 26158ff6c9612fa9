package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
	// ErrBadCredentials 用户名或密码错误
	ErrBadCredentials = errors.New("bad credentials")
)

// Claims 管理端 JWT 声明
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Manager 管理端会话令牌管理器
type Manager struct {
	secret       []byte
	issuer       string
	expiry       time.Duration
	username     string
	passwordHash string
}

// NewManager 创建 JWT 管理器
func NewManager(secret, issuer string, expiry time.Duration, username, passwordHash string) *Manager {
	return &Manager{
		secret:       []byte(secret),
		issuer:       issuer,
		expiry:       expiry,
		username:     username,
		passwordHash: passwordHash,
	}
}

// Login 校验管理员口令并签发会话令牌
//
// 密码以 bcrypt 哈希存在配置里；未配置哈希时登录恒失败。
func (m *Manager) Login(username, password string) (string, time.Time, error) {
	if m.passwordHash == "" || username != m.username {
		return "", time.Time{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.passwordHash), []byte(password)); err != nil {
		return "", time.Time{}, ErrBadCredentials
	}

	now := time.Now()
	expiresAt := now.Add(m.expiry)
	claims := Claims{
		Username: username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
