package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medprice-service/config"
	"medprice-service/internal/api"
	"medprice-service/internal/broker"
	"medprice-service/internal/mailer"
	"medprice-service/internal/redisclient"
	"medprice-service/internal/service"
	"medprice-service/internal/store"
	"medprice-service/internal/util"
	"medprice-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting medprice service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("medprice-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	migrateCancel()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	auditProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAudit)
	defer auditProducer.Close()
	eventsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer eventsProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("audit_topic", cfg.Kafka.TopicAudit),
		zap.String("events_topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(auditProducer, eventsProducer)

	sender, err := newSender(cfg.Email)
	if err != nil {
		logger.Fatal("Failed to initialize email transport", zap.Error(err))
	}
	renderer, err := mailer.NewRenderer(cfg.Email.SiteURL)
	if err != nil {
		logger.Fatal("Failed to load email templates", zap.Error(err))
	}

	var alertLock service.Locker
	if cfg.Alerts.DistributedLock {
		alertLock = redisClient
	}

	auditLogger := service.NewAuditLogger(db, eventPublisher)
	services := api.Services{
		Catalog:       service.NewCatalogService(db, auditLogger),
		Prices:        service.NewPriceService(db, auditLogger),
		Alerts:        service.NewAlertService(db),
		AlertEngine:   service.NewAlertEngine(db, sender, renderer, eventPublisher, alertLock, cfg.Alerts.LockTTL),
		Subscriptions: service.NewSubscriptionService(db),
		Campaigns:     service.NewCampaignService(db, sender, renderer, redisClient, eventPublisher),
		Digest:        service.NewDigestService(db, sender, renderer),
		Messages:      service.NewMessageService(db, sender, renderer, cfg.Email.AdminAddress),
		Blog:          service.NewBlogService(db, auditLogger),
		Audit:         auditLogger,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAudit, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewAuditWorker(auditConsumer, auditLogger)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil {
			logger.Error("Audit worker error", zap.Error(err))
		}
	}()

	scheduler := worker.NewScheduler(time.UTC)
	if err := scheduler.OnSchedule("price-alerts", cfg.Alerts.Schedule, services.AlertEngine.Run); err != nil {
		logger.Fatal("Failed to schedule price alerts", zap.Error(err))
	}
	if cfg.Alerts.RunOnStartup {
		scheduler.RunNow("price-alerts", services.AlertEngine.Run)
	}
	if cfg.Digest.Enabled {
		if err := scheduler.OnSchedule("weekly-digest", cfg.Digest.Schedule, services.Digest.Run); err != nil {
			logger.Fatal("Failed to schedule weekly digest", zap.Error(err))
		}
	}
	scheduler.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, redisClient, api.Options{
		AdminAPIKey:      cfg.Admin.APIKey,
		RateWindow:       cfg.RateLimit.Window,
		AlertsPerWindow:  int64(cfg.RateLimit.AlertsPerWindow),
		ContactPerWindow: int64(cfg.RateLimit.ContactPerWindow),
		Ready: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	scheduler.Stop(shutdownCtx)
	services.Campaigns.Wait()

	workerCancel()
	if err := auditWorker.Stop(); err != nil {
		logger.Warn("Failed to stop audit worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newSender builds the configured transport behind a circuit breaker
func newSender(cfg config.EmailConfig) (mailer.Sender, error) {
	from := mailer.Address{Name: cfg.FromName, Email: cfg.From}

	var transport mailer.Sender
	switch cfg.Provider {
	case "smtp":
		transport = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			StartTLS: cfg.SMTPUseTLS,
			From:     from,
			Timeout:  cfg.SendTimeout,
		})
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ses, err := mailer.NewSESSender(ctx, cfg.SESRegion, from)
		if err != nil {
			return nil, err
		}
		transport = ses
	case "log":
		return mailer.NewLogSender(), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}

	return mailer.NewBreakerSender(transport, mailer.BreakerConfig{Name: cfg.Provider}), nil
}
