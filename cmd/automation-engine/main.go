package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-automation/api/swagger"
	"github.com/noah-isme/course-automation/internal/handler"
	"github.com/noah-isme/course-automation/internal/middleware"
	"github.com/noah-isme/course-automation/internal/models"
	"github.com/noah-isme/course-automation/internal/repository"
	"github.com/noah-isme/course-automation/internal/service"
	"github.com/noah-isme/course-automation/migrations"
	"github.com/noah-isme/course-automation/pkg/cache"
	"github.com/noah-isme/course-automation/pkg/config"
	"github.com/noah-isme/course-automation/pkg/database"
	"github.com/noah-isme/course-automation/pkg/logger"
	"github.com/noah-isme/course-automation/pkg/mailer"
	corsmiddleware "github.com/noah-isme/course-automation/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-automation/pkg/middleware/requestid"
	"github.com/noah-isme/course-automation/pkg/telegram"
	"github.com/noah-isme/course-automation/pkg/zoom"
)

// @title Course Automation Engine
// @version 1.0.0
// @description Management API for course reminders, meeting provisioning and automation rules
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

type firingStore interface {
	Claim(ctx context.Context, ruleID, sessionID string, firedAt time.Time) (bool, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	loc, err := time.LoadLocation(cfg.Automation.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid automation timezone", "timezone", cfg.Automation.Timezone, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if _, err := database.Migrate(ctx, db, migrations.FS, logr.Named("migrate")); err != nil {
			logr.Sugar().Fatalw("failed to apply migrations", "error", err)
		}
	}

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		if redisClient, err = cache.NewRedis(ctx, cfg.Redis); err != nil {
			logr.Sugar().Fatalw("failed to connect redis", "error", err)
		}
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	metrics := service.NewMetricsService()
	engine, automationHandler := buildAutomation(cfg, loc, db, redisClient, metrics, logr)

	if cfg.Automation.Enabled {
		if result, err := engine.Initialize(ctx); err != nil {
			logr.Sugar().Errorw("automation scheduler failed to start", "error", err)
		} else {
			logr.Sugar().Infow("automation scheduler started", "rules", len(result.Registered), "invalid", len(result.Invalid))
		}
	}

	router := newRouter(cfg, logr, metrics, readiness, automationHandler)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("http shutdown incomplete", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("automation shutdown incomplete", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

func buildAutomation(cfg *config.Config, loc *time.Location, db *sqlx.DB, redisClient *redis.Client, metrics *service.MetricsService, logr *zap.Logger) (*service.AutomationEngine, *handler.AutomationHandler) {
	rules := repository.NewAutomationRuleRepository(db)
	sessions := repository.NewSessionRepository(db)
	courses := repository.NewCourseRepository(db)
	users := repository.NewUserRepository(db)
	templates := repository.NewTemplateRepository(db)
	activity := repository.NewActivityLogRepository(db)
	messageLogs := repository.NewMessageLogRepository(db)
	meetings := repository.NewMeetingRepository(db)
	settings := repository.NewSettingRepository(db)

	var firings firingStore = repository.NewFiringRepository(db)
	if redisClient != nil {
		firings = repository.NewRedisFiringRepository(redisClient, cfg.Automation.MarkerTTL)
	}

	logs := service.NewAutomationLogService(repository.NewAutomationLogRepository(db), metrics, logr.Named("automation-log"), nil, nil)
	dispatcher := newDispatcher(cfg.Telegram, activity, logr)
	provisioner := newProvisioner(cfg.Zoom, loc, meetings, settings, sessions, logs, logr)

	digest := service.NewDailyDigest(sessions, courses, users, templates, provisioner, dispatcher, messageLogs, rules, logs, logr.Named("digest"), service.DailyDigestConfig{
		Location:        loc,
		PlaceholderLink: cfg.Automation.PlaceholderLink,
	})
	executor := newExecutor(cfg, loc, sessions, courses, users, templates, provisioner, dispatcher, logr)
	watcher := service.NewSessionWatcher(rules, sessions, firings, executor, rules, logs, logr.Named("watcher"), service.SessionWatcherConfig{
		Interval: cfg.Automation.WatcherInterval,
		Location: loc,
	})

	engineCfg := service.AutomationEngineConfig{
		Location:    loc,
		DigestCron:  cfg.Automation.DigestCron,
		ImportCron:  cfg.Automation.ImportCron,
		QueueBuffer: cfg.Automation.QueueBuffer,
	}
	var engine *service.AutomationEngine
	if cfg.Automation.ImportPath != "" {
		importer := service.NewCSVScheduleImporter(cfg.Automation.ImportPath, sessions, loc, logr.Named("import"))
		engine = service.NewAutomationEngine(rules, sessions, digest, watcher, importer, executor, logs, metrics, logr.Named("engine"), engineCfg)
	} else {
		engine = service.NewAutomationEngine(rules, sessions, digest, watcher, nil, executor, logs, metrics, logr.Named("engine"), engineCfg)
	}

	return engine, handler.NewAutomationHandler(engine, logs, activity, messageLogs, settings, logr.Named("http"))
}

func newDispatcher(cfg config.TelegramConfig, activity *repository.ActivityLogRepository, logr *zap.Logger) *service.NotificationDispatcher {
	if cfg.Enabled {
		client, err := telegram.New(cfg)
		if err == nil {
			return service.NewNotificationDispatcher(client, activity, logr.Named("telegram"))
		}
		logr.Sugar().Warnw("telegram disabled, messages will only be logged", "error", err)
	}
	return service.NewNotificationDispatcher(nil, activity, logr.Named("telegram"))
}

func newProvisioner(cfg config.ZoomConfig, loc *time.Location, meetings *repository.MeetingRepository, settings *repository.SettingRepository, sessions *repository.SessionRepository, logs *service.AutomationLogService, logr *zap.Logger) *service.MeetingProvisioner {
	provisionerCfg := service.MeetingProvisionerConfig{DefaultLocation: loc, HostEmail: cfg.HostEmail}
	if cfg.AccountID == "" || cfg.ClientID == "" {
		logr.Sugar().Infow("zoom credentials missing, only simulated meetings are available")
		return service.NewMeetingProvisioner(nil, meetings, settings, sessions, logs, logr.Named("zoom"), provisionerCfg)
	}
	client := zoom.NewClient(cfg, &http.Client{Timeout: cfg.Timeout})
	return service.NewMeetingProvisioner(client, meetings, settings, sessions, logs, logr.Named("zoom"), provisionerCfg)
}

func newExecutor(cfg *config.Config, loc *time.Location, sessions *repository.SessionRepository, courses *repository.CourseRepository, users *repository.UserRepository, templates *repository.TemplateRepository, provisioner *service.MeetingProvisioner, dispatcher *service.NotificationDispatcher, logr *zap.Logger) *service.RuleExecutor {
	executorCfg := service.RuleExecutorConfig{Location: loc, PlaceholderLink: cfg.Automation.PlaceholderLink}
	validate := validator.New()
	if cfg.SMTP.Enabled {
		return service.NewRuleExecutor(sessions, courses, users, templates, provisioner, dispatcher, mailer.New(cfg.SMTP), validate, logr.Named("executor"), executorCfg)
	}
	return service.NewRuleExecutor(sessions, courses, users, templates, provisioner, dispatcher, nil, validate, logr.Named("executor"), executorCfg)
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, readiness map[string]handler.ReadinessCheck, automation *handler.AutomationHandler) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	observability := handler.NewMetricsHandler(metrics.Handler(), readiness)
	r.GET("/health", observability.Health)
	r.GET("/ready", observability.Ready)
	r.GET("/metrics", observability.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	tokens := service.NewTokenService(cfg.JWT.Secret)
	api := r.Group(cfg.APIPrefix+"/automation", middleware.JWT(tokens), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		api.POST("/initialize", automation.Initialize)
		api.POST("/import/run", automation.RunImport)
		api.POST("/reminders/run", automation.RunReminders)
		api.POST("/rules/:id/test", automation.TestRule)
		api.POST("/daily-messages/send", automation.SendDailyMessages)
		api.POST("/events", automation.HandleEvent)
		api.GET("/logs", automation.ListLogs)
		api.GET("/logs/export", automation.ExportLogs)
		api.GET("/activity", automation.ListActivity)
		api.GET("/sessions/:id/messages", automation.ListSessionMessages)
		api.GET("/settings/:key", automation.GetSetting)
		api.PUT("/settings/:key", automation.UpdateSetting)
	}
	return r
}
