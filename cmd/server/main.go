package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "botmail/backend/internal/auth/jwt"
	"botmail/backend/internal/config"
	"botmail/backend/internal/health"
	"botmail/backend/internal/logger"
	"botmail/backend/internal/mailer"
	"botmail/backend/internal/monitoring"
	"botmail/backend/internal/service"
	"botmail/backend/internal/storage"
	"botmail/backend/internal/storage/memory"
	"botmail/backend/internal/storage/postgres"
	redisstore "botmail/backend/internal/storage/redis"
	httptransport "botmail/backend/internal/transport/http"
)

// main 启动机器人邮件中继服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting botmail relay server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("relay_domain", cfg.Relay.Domain),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.DSN != "" {
		store, err = postgres.NewStore(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize postgres storage: %v", err))
		}
		log.Info("using postgres storage")
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 可选的地址解析缓存
	var cache *redisstore.Cache
	if cfg.Redis.Address != "" {
		cache, err = redisstore.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			log.Warn("failed to connect to redis, continuing without handle cache", zap.Error(err))
			cache = nil
		} else {
			log.Info("handle cache enabled", zap.String("address", cfg.Redis.Address))
			defer cache.Close()
		}
	}

	metrics := monitoring.NewMetrics()

	var cachePinger health.Pinger
	if cache != nil {
		cachePinger = cache
	}
	healthChecker := health.NewHealthChecker(store, cachePinger, log)

	// 投递方：未配置端点时使用日志投递器
	var provider mailer.Provider
	if cfg.Relay.ProviderURL != "" {
		provider = mailer.NewHTTPProvider(cfg.Relay.ProviderURL, cfg.Relay.ProviderToken, cfg.Relay.ProviderTimeout, log)
		log.Info("using http delivery provider", zap.String("endpoint", cfg.Relay.ProviderURL))
	} else {
		provider = mailer.NewLogProvider(log)
		log.Info("using log delivery provider (development mode)")
	}

	// 初始化服务层
	botService := service.NewBotService(store, store, cfg.Relay)
	handleService := service.NewHandleService(store, store, store, log)
	if cache != nil {
		handleService.SetCache(cache)
	}
	quotaService := service.NewQuotaService(store, cfg.Quota)
	relayService := service.NewRelayService(store, quotaService, provider, cfg.Relay, metrics, log)
	inboundService := service.NewInboundService(handleService, store, metrics, log)
	messageService := service.NewMessageService(store, log)
	abuseService := service.NewAbuseService(store, cfg.Abuse, metrics, log)
	if cache != nil {
		abuseService.SetCache(cache)
	}

	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.Expiry,
		cfg.Admin.Username,
		cfg.Admin.PasswordHash,
	)
	if cfg.Admin.PasswordHash == "" {
		log.Warn("admin password hash not configured, admin login disabled")
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		BotService:     botService,
		HandleService:  handleService,
		QuotaService:   quotaService,
		RelayService:   relayService,
		InboundService: inboundService,
		MessageService: messageService,
		AbuseService:   abuseService,
		JWTManager:     jwtManager,
		HealthChecker:  healthChecker,
		Metrics:        metrics,
		Logger:         log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 滥用扫描按 cron 调度，独立于请求路径
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Abuse.ScanSchedule, func() {
		upserted, err := abuseService.Scan(time.Now().UTC())
		if err != nil {
			log.Error("abuse scan failed", zap.Error(err))
			return
		}
		if upserted > 0 {
			log.Info("abuse scan completed", zap.Int("alerts_upserted", upserted))
		}
	}); err != nil {
		panic(fmt.Sprintf("invalid abuse scan schedule %q: %v", cfg.Abuse.ScanSchedule, err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 滥用扫描调度 goroutine
	group.Go(func() error {
		log.Info("starting abuse scan scheduler", zap.String("schedule", cfg.Abuse.ScanSchedule))
		scheduler.Start()
		<-groupCtx.Done()
		schedCtx := scheduler.Stop()
		<-schedCtx.Done()
		log.Info("abuse scan scheduler stopped")
		return nil
	})

	// 定时清理过期认领令牌 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Relay.SweepInterval)
		defer ticker.Stop()

		log.Info("starting expired claim token sweeper", zap.Duration("interval", cfg.Relay.SweepInterval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("claim token sweeper stopped")
				return nil
			case <-ticker.C:
				count, err := botService.SweepExpiredClaimTokens()
				if err != nil {
					log.Error("failed to sweep expired claim tokens", zap.Error(err))
				} else if count > 0 {
					log.Info("expired claim tokens swept", zap.Int("count", count))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}
