package cmd

import (
	"context"
	"database/sql"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/cache"
	"github.com/vibast-solutions/ms-go-isp-billing/app/notification"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provisioning"
	"github.com/vibast-solutions/ms-go-isp-billing/app/repository"
	"github.com/vibast-solutions/ms-go-isp-billing/app/service"
	"github.com/vibast-solutions/ms-go-isp-billing/config"

	_ "github.com/go-sql-driver/mysql"
)

// application is the wired service graph shared by serve and the jobs.
type application struct {
	cfg           *config.Config
	db            *sql.DB
	payments      *service.PaymentService
	subscriptions *service.SubscriptionService
	callbacks     *service.CallbackService
	jobs          *service.JobService
}

func mustCreateApplication() (*application, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	var (
		redisClient *redis.Client
		tokenCache  provider.TokenCache
		locker      cache.Locker
	)
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(context.Background(), cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = db.Close()
			logrus.WithError(err).Fatal("Failed to connect to redis")
		}
		tokenCache = cache.NewTokenCache(redisClient)
		locker = cache.NewRedisLocker(redisClient)
	} else {
		logrus.Warn("REDIS_ADDR not set, job locks and the shared token cache are disabled")
	}

	gateway := provider.NewMpesaClient(mustMpesaConfig(cfg), tokenCache)

	pool := provisioning.NewPool(provisioning.PoolConfig{
		Workers:        cfg.Provisioning.Workers,
		QueueSize:      cfg.Provisioning.QueueSize,
		MaxAttempts:    cfg.Provisioning.MaxAttempts,
		InitialBackoff: cfg.Provisioning.InitialBackoff,
		AttemptTimeout: cfg.Provisioning.AttemptTimeout,
	})
	pool.Start()

	var (
		provisioner provisioning.Provisioner = provisioning.NewLogProvisioner()
		usage       provisioning.UsageReader
	)
	if cfg.Provisioning.Enabled && cfg.Router.Enabled() {
		router := provisioning.NewRouterOSProvisioner(provisioning.NewRouterOSDialer(provisioning.RouterOSConfig{
			Address:  cfg.Router.Address,
			Username: cfg.Router.Username,
			Password: cfg.Router.Password,
			Timeout:  cfg.Router.Timeout,
		}))
		provisioner = router
		usage = router
	} else {
		logrus.Warn("Router provisioning disabled, access changes are only logged")
	}
	dispatcher := provisioning.NewDispatcher(pool, provisioner)

	var notifier notification.Notifier
	if cfg.SMTP.Enabled() {
		notifier = notification.NewEmailNotifier(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}

	txManager := repository.NewTxManager(db)
	paymentRepo := repository.NewPendingPaymentRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	userRepo := repository.NewUserRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	callbackRepo := repository.NewPaymentCallbackRepository(db)
	eventRepo := repository.NewBillingEventRepository(db)

	paymentService := service.NewPaymentService(paymentRepo, userRepo, gateway, cfg.Mpesa.TransactionDesc)
	subscriptionService := service.NewSubscriptionService(
		txManager,
		userRepo,
		packageRepo,
		subscriptionRepo,
		eventRepo,
		dispatcher,
		notifier,
		usage,
		cfg.Jobs.BatchSize,
	)
	callbackService := service.NewCallbackService(
		txManager,
		paymentRepo,
		callbackRepo,
		eventRepo,
		subscriptionService,
		gateway,
		cfg.Jobs.ReconcileStaleAfter,
		cfg.Jobs.ReconcileMaxAge,
		cfg.Jobs.BatchSize,
	)
	jobService := service.NewJobService(subscriptionService, callbackService, locker, cfg.Redis.LockTTL)

	cleanup := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Provisioning.ShutdownTimeout)
		pool.Stop(stopCtx)
		cancel()

		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis")
			}
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &application{
		cfg:           cfg,
		db:            db,
		payments:      paymentService,
		subscriptions: subscriptionService,
		callbacks:     callbackService,
		jobs:          jobService,
	}, cleanup
}

func mustMpesaConfig(cfg *config.Config) provider.MpesaConfig {
	location, err := time.LoadLocation(cfg.Mpesa.Timezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", cfg.Mpesa.Timezone).Fatal("Invalid MPESA_TIMEZONE")
	}

	baseURL := strings.TrimSpace(cfg.Mpesa.BaseURL)
	if baseURL == "" {
		baseURL = provider.SandboxBaseURL
		if cfg.Mpesa.Environment == config.MpesaEnvironmentProduction {
			baseURL = provider.ProductionBaseURL
		}
	}

	return provider.MpesaConfig{
		BaseURL:         baseURL,
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		PassKey:         cfg.Mpesa.PassKey,
		CallbackURL:     cfg.Mpesa.CallbackURL,
		TransactionType: cfg.Mpesa.TransactionType,
		CountryCode:     cfg.Mpesa.CountryCode,
		Location:        location,
		HTTPTimeout:     cfg.Mpesa.HTTPTimeout,
	}
}
