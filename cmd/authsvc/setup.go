package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/kossrlive/isignin/internal/app"
	"github.com/kossrlive/isignin/internal/config"
	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/multipass"
	"github.com/kossrlive/isignin/internal/oauth"
	"github.com/kossrlive/isignin/internal/otp"
	"github.com/kossrlive/isignin/internal/port"
	"github.com/kossrlive/isignin/internal/queue"
	"github.com/kossrlive/isignin/internal/ratelimit"
	redisclient "github.com/kossrlive/isignin/internal/redis"
	"github.com/kossrlive/isignin/internal/server"
	"github.com/kossrlive/isignin/internal/settings"
	"github.com/kossrlive/isignin/internal/shopify"
	"github.com/kossrlive/isignin/internal/sms"
	"github.com/kossrlive/isignin/internal/store"
)

// devMultipassSecret is used in local development only. Production loads
// the shop's real secret from the environment.
const devMultipassSecret = "local-dev-multipass-secret-ok!!!"

// setup is the composition root. It constructs the keyed store, SMS
// providers, the queue and workers, and all components, then returns the
// wired HTTP handler. No process-wide mutable singletons.
func setup(ctx context.Context, deps server.SetupDeps) (http.Handler, func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}

	// 1. Keyed store.
	keyed, jobQueue, closeInfra, err := createStoreAndQueue(ctx, cfg, clock)
	if err != nil {
		return nil, nil, err
	}

	// 2. SMS providers + router.
	providers := createSMSProviders(ctx, cfg, logger)
	router := sms.NewRouter(providers, keyed, clock, logger)

	// 3. Workers drain the queue; the only path that reaches a provider
	// for user-facing sends.
	var workerWG sync.WaitGroup
	for i := 0; i < cfg.SMSWorkers; i++ {
		worker := queue.NewWorker(queue.WorkerConfig{
			Queue:       jobQueue,
			Sender:      router,
			Logger:      logger,
			MaxAttempts: cfg.SMSMaxSendAttempts,
		})
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			_ = worker.Run(ctx)
		}()
	}

	// 4. Challenge engines.
	engine := otp.NewEngine(keyed, clock, otp.Config{
		CodeLength:    cfg.OTPLength,
		CodeTTL:       cfg.OTPTTL(),
		MaxFailures:   cfg.OTPMaxAttempts,
		BlockDuration: cfg.OTPBlockDuration(),
	})
	orders := otp.NewOrderConfirmation(keyed, clock)

	// 5. SSO minter.
	multipassSecret := cfg.ShopifyMultipassSecret
	if multipassSecret == "" && cfg.IsLocal() {
		logger.Warn("using development multipass secret")
		multipassSecret = devMultipassSecret
	}
	shopDomain := cfg.ShopifyShopDomain
	if shopDomain == "" && cfg.IsLocal() {
		shopDomain = "dev-shop.myshopify.com"
	}
	minter, err := multipass.NewMinter(multipass.MinterConfig{
		Secret:     multipassSecret,
		ShopDomain: shopDomain,
		Clock:      clock,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create multipass minter: %w", err)
	}

	// 6. External collaborators and policy components.
	directory := shopify.NewClient(shopDomain, cfg.ShopifyAPIKey, cfg.ShopifyAPISecret, "")
	settingsProvider := settings.NewProvider(keyed)
	limiter := ratelimit.NewLimiter(keyed, logger, cfg.RateLimitWindow(), cfg.RateLimitMaxRequests)

	oauthProviders := map[string]oauth.Provider{}
	if cfg.GoogleClientID != "" {
		oauthProviders["google"] = oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	}

	// 7. Orchestrator.
	service := app.NewService(app.ServiceConfig{
		Store:       keyed,
		OTP:         engine,
		Orders:      orders,
		Queue:       jobQueue,
		Minter:      minter,
		Directory:   directory,
		Settings:    settingsProvider,
		Providers:   oauthProviders,
		Clock:       clock,
		Logger:      logger,
		CallbackURL: cfg.DLRCallbackURL,
	})

	// 8. HTTP surface.
	providersByName := make(map[string]sms.Provider, len(providers))
	for _, p := range providers {
		providersByName[p.Name()] = p
	}
	handler := port.NewHandler(port.HandlerConfig{
		Service:       service,
		Tracker:       router,
		Providers:     providersByName,
		Settings:      settingsProvider,
		DeadLetters:   jobQueue,
		Limiter:       limiter,
		AdminSecret:   cfg.ShopifyAPISecret,
		WebhookSecret: cfg.ShopifyAPISecret,
		Logger:        logger,
		Alert:         alertHook(logger),
	})

	logger.InfoContext(ctx, "auth service initialized",
		slog.String("store", cfg.Store),
		slog.Any("sms_providers", router.Providers()),
	)

	cleanup := func(_ context.Context) error {
		workerWG.Wait()
		return closeInfra()
	}

	return handler.Routes(), cleanup, nil
}

// createStoreAndQueue builds the keyed store and job queue for the
// configured backend.
func createStoreAndQueue(_ context.Context, cfg *config.Config, clock domain.Clock) (store.Store, queue.Queue, func() error, error) {
	if cfg.Store == "memory" {
		mem := store.NewMemory(clock)
		mem.StartSweeper(30 * time.Second)
		memQueue := queue.NewMemoryQueue(clock)
		closeFn := func() error {
			_ = memQueue.Close()
			return mem.Close()
		}
		return mem, memQueue, closeFn, nil
	}

	client, err := redisclient.NewClient(redisclient.Config{
		URL:                   cfg.RedisURL,
		TLS:                   cfg.RedisTLS,
		TLSRejectUnauthorized: cfg.RedisTLSRejectUnauthorized,
		ReadTimeout:           domain.RedisTimeout,
		WriteTimeout:          domain.RedisTimeout,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create redis client: %w", err)
	}

	redisQueue := queue.NewRedisQueue(client, clock)
	redisQueue.StartPump()

	closeFn := func() error {
		_ = redisQueue.Close()
		return client.Close()
	}
	return store.NewRedis(client), redisQueue, closeFn, nil
}

// createSMSProviders builds the configured provider pool: SMS.to first,
// Twilio second, SNS third. Local development with no credentials gets the
// log-only provider.
func createSMSProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) []sms.Provider {
	var providers []sms.Provider

	if cfg.SMSToAPIKey != "" {
		providers = append(providers, sms.NewSMSToProvider(cfg.SMSToAPIKey, cfg.SMSToSenderID, 1, ""))
	}
	if cfg.TwilioAccountSID != "" {
		providers = append(providers, sms.NewTwilioProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, 2, ""))
	}
	if cfg.SNSRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SNSRegion))
		if err != nil {
			logger.Warn("aws config load failed, skipping sns provider", slog.Any("error", err))
		} else {
			providers = append(providers, sms.NewSNSProvider(sns.NewFromConfig(awsCfg), 3))
		}
	}

	if len(providers) == 0 {
		logger.Warn("no sms provider configured, using log-only provider")
		providers = append(providers, sms.NewLogProvider(logger, 1))
	}

	return providers
}

// alertHook is the seam for external alerting on internal errors.
func alertHook(logger *slog.Logger) port.AlertHook {
	return func(ctx context.Context, requestID string, err any) {
		logger.ErrorContext(ctx, "alert: internal error",
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
	}
}
