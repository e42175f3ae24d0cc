package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/api"
	"github.com/kodix/kodix-server/internal/app"
	"github.com/kodix/kodix-server/internal/app/maintenance"
	"github.com/kodix/kodix-server/internal/apps"
	iauth "github.com/kodix/kodix-server/internal/auth"
	"github.com/kodix/kodix-server/internal/auth/providers"
	"github.com/kodix/kodix-server/internal/cache"
	"github.com/kodix/kodix-server/internal/database"
	"github.com/kodix/kodix-server/internal/gates"
	"github.com/kodix/kodix-server/internal/middleware"
	"github.com/kodix/kodix-server/internal/realtime"
	"github.com/kodix/kodix-server/internal/services"
	"github.com/kodix/kodix-server/pkg/logger"
	"github.com/kodix/kodix-server/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   cache.Store
	Cleaner *maintenance.Cleaner
	Hub     *realtime.Hub
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var store cache.Store = dbStore
	if stack.Redis != nil {
		store = stack.Redis
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	if sessionCache := iauth.NewStoreSessionCache(store); sessionCache != nil {
		sessionCfg.Cache = sessionCache
	}

	sessionSvc, err := iauth.NewSessionService(stack.DB, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	registry := apps.Default()

	gate, err := gates.New(stack.DB, sessionSvc, registry)
	if err != nil {
		return nil, fmt.Errorf("initialise gate: %w", err)
	}

	stack.Hub = realtime.NewHub()

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	teamSvc, err := services.NewTeamService(stack.DB, auditSvc, store, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise team service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	inviteSvc, err := services.NewInviteService(stack.DB, mailer, auditSvc,
		services.WithInviteBaseURL(cfg.Server.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("initialise invite service: %w", err)
	}

	appSvc, err := services.NewAppService(stack.DB, registry, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise app service: %w", err)
	}

	localProvider, err := providers.NewLocalProvider(stack.DB, cfg.Auth.LocalProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise local provider: %w", err)
	}

	oauthRegistry := providers.NewRegistry()
	if cfg.Auth.Google.Enabled {
		google, googleErr := providers.NewGoogleProvider(ctx, cfg.Auth.GoogleProviderConfig())
		if googleErr != nil {
			log.Warn("google sign-in unavailable", zap.Error(googleErr))
		} else if err := oauthRegistry.Register(google); err != nil {
			return nil, fmt.Errorf("register google provider: %w", err)
		}
	}

	stack.Cleaner = maintenance.NewCleaner(sessionSvc, inviteSvc, auditSvc,
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithInviteSchedule(cfg.Maintenance.InviteSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule))
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:             stack.DB,
		Sessions:       sessionSvc,
		JWT:            jwtSvc,
		Gate:           gate,
		Cookies:        iauth.CookieWriter{Secure: cfg.Server.IsProduction()},
		Local:          localProvider,
		OAuth:          oauthRegistry,
		Users:          userSvc,
		Teams:          teamSvc,
		Invites:        inviteSvc,
		Apps:           appSvc,
		AppRegistry:    registry,
		Hub:            stack.Hub,
		RateStore:      middleware.NewSharedRateStore(store),
		AuthRatePerMin: cfg.Server.AuthRatePerMin,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
