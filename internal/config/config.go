package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// RelayConfig 定义邮件中继的核心业务配置
type RelayConfig struct {
	Domain          string        // 机器人地址所属域名，如 "bots.example.com"
	ProviderURL     string        // 外部投递服务端点，为空时使用日志投递器（开发模式）
	ProviderToken   string        // 外部投递服务的鉴权令牌
	ProviderTimeout time.Duration // 单次投递请求超时，默认 10s
	ClaimTokenTTL   time.Duration // 认领令牌有效期，默认 48h
	SweepInterval   time.Duration // 过期令牌清扫间隔，默认 1h
}

// QuotaConfig 定义每日发信配额的策略系数
//
// dailyLimit = 基础额度(按 verified 区分) - flagCount * FlagPenalty，
// 下限为 0；suspended 机器人恒为 0。系数全部可调，不内嵌于配额逻辑。
type QuotaConfig struct {
	VerifiedLimit   int // 已验证机器人的基础日额度，默认 200
	UnverifiedLimit int // 未验证机器人的基础日额度，默认 25
	FlagPenalty     int // 每次被标记扣减的额度，默认 10
}

// AbuseConfig 定义批量注册检测的策略参数
type AbuseConfig struct {
	Threshold       int           // 触发告警的最小同签名注册数，默认 5
	Window          time.Duration // 注册聚类时间窗口，默认 1h
	PrefixLength    int           // 名称签名取的前缀长度，默认 8
	BlockDuration   time.Duration // 处置时 IP 封禁时长，默认 14 天
	ScanSchedule    string        // cron 表达式，默认每 10 分钟
	LookbackWindows int           // 每次扫描回看的窗口个数，默认 2
}

// AdminConfig 定义管理端认证配置
type AdminConfig struct {
	Username     string // 管理员用户名
	PasswordHash string // 管理员密码的 bcrypt 哈希，必须显式配置
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出和详细堆栈信息
	File        string // 日志文件路径，为空表示仅输出到控制台
}

// DatabaseConfig 定义 PostgreSQL 连接配置
type DatabaseConfig struct {
	DSN             string        // 连接字符串，为空时使用内存存储
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string        // Redis 服务地址，为空表示不启用地址缓存
	Password string        // Redis 认证密码，留空表示无密码
	DB       int           // Redis 数据库编号，默认 0
	TTL      time.Duration // 地址解析缓存有效期，默认 5 分钟
}

// JWTConfig 定义管理端 JWT 认证配置
type JWTConfig struct {
	Secret string        // JWT 签名密钥，必须至少 32 字符
	Issuer string        // JWT 签发者标识，默认 "botmail"
	Expiry time.Duration // 管理令牌有效期，默认 1h
}

// RateLimitConfig 定义注册与入站回调的限流参数
type RateLimitConfig struct {
	RequestsPerSecond float64 // 每 IP 每秒许可数，默认 5
	Burst             int     // 突发容量，默认 10
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Quota     QuotaConfig
	Abuse     AbuseConfig
	Admin     AdminConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: BOTMAIL_
// 例如: BOTMAIL_SERVER_PORT, BOTMAIL_JWT_SECRET, BOTMAIL_QUOTA_VERIFIED_LIMIT
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("botmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("relay.domain", "bots.example.com")
	viper.SetDefault("relay.provider_url", "")
	viper.SetDefault("relay.provider_token", "")
	viper.SetDefault("relay.provider_timeout", "10s")
	viper.SetDefault("relay.claim_token_ttl", "48h")
	viper.SetDefault("relay.sweep_interval", "1h")
	viper.SetDefault("quota.verified_limit", 200)
	viper.SetDefault("quota.unverified_limit", 25)
	viper.SetDefault("quota.flag_penalty", 10)
	viper.SetDefault("abuse.threshold", 5)
	viper.SetDefault("abuse.window", "1h")
	viper.SetDefault("abuse.prefix_length", 8)
	viper.SetDefault("abuse.block_duration", "336h") // 14 天
	viper.SetDefault("abuse.scan_schedule", "*/10 * * * *")
	viper.SetDefault("abuse.lookback_windows", 2)
	viper.SetDefault("admin.username", "admin")
	viper.SetDefault("admin.password_hash", "")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.dsn", "") // 默认为空，使用内存存储
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "5m")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "botmail")
	viper.SetDefault("jwt.expiry", "1h")
	viper.SetDefault("ratelimit.requests_per_second", 5.0)
	viper.SetDefault("ratelimit.burst", 10)

	relayDomain := strings.ToLower(strings.TrimSpace(viper.GetString("relay.domain")))
	if relayDomain == "" {
		return nil, fmt.Errorf("relay.domain must not be empty")
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	jwtSecret := viper.GetString("jwt.secret")
	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set BOTMAIL_JWT_SECRET environment variable")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	quota := QuotaConfig{
		VerifiedLimit:   viper.GetInt("quota.verified_limit"),
		UnverifiedLimit: viper.GetInt("quota.unverified_limit"),
		FlagPenalty:     viper.GetInt("quota.flag_penalty"),
	}
	if quota.VerifiedLimit <= 0 || quota.UnverifiedLimit <= 0 {
		return nil, fmt.Errorf("quota base limits must be positive")
	}

	abuse := AbuseConfig{
		Threshold:       viper.GetInt("abuse.threshold"),
		Window:          durationOr("abuse.window", time.Hour),
		PrefixLength:    viper.GetInt("abuse.prefix_length"),
		BlockDuration:   durationOr("abuse.block_duration", 14*24*time.Hour),
		ScanSchedule:    viper.GetString("abuse.scan_schedule"),
		LookbackWindows: viper.GetInt("abuse.lookback_windows"),
	}
	if abuse.Threshold < 2 {
		return nil, fmt.Errorf("abuse.threshold must be at least 2")
	}
	if abuse.PrefixLength <= 0 {
		abuse.PrefixLength = 8
	}
	if abuse.LookbackWindows <= 0 {
		abuse.LookbackWindows = 2
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Relay: RelayConfig{
			Domain:          relayDomain,
			ProviderURL:     viper.GetString("relay.provider_url"),
			ProviderToken:   viper.GetString("relay.provider_token"),
			ProviderTimeout: durationOr("relay.provider_timeout", 10*time.Second),
			ClaimTokenTTL:   durationOr("relay.claim_token_ttl", 48*time.Hour),
			SweepInterval:   durationOr("relay.sweep_interval", time.Hour),
		},
		Quota: quota,
		Abuse: abuse,
		Admin: AdminConfig{
			Username:     viper.GetString("admin.username"),
			PasswordHash: viper.GetString("admin.password_hash"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durationOr("database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			TTL:      durationOr("redis.ttl", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: viper.GetString("jwt.issuer"),
			Expiry: durationOr("jwt.expiry", time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: viper.GetFloat64("ratelimit.requests_per_second"),
			Burst:             viper.GetInt("ratelimit.burst"),
		},
	}

	return cfg, nil
}

// durationOr 读取时长配置，解析失败时回落到默认值
func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 先尝试当前目录，再尝试父目录（从 backend/ 子目录运行时）。
// 文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
