package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/internal/googleid"
	"filevault/internal/mailer"
	"filevault/internal/util"
	"filevault/pkg/queue"
	"filevault/pkg/storage"
	"filevault/pkg/store"
	"filevault/services/drive/internal/app"
	"filevault/services/drive/internal/config"
	"filevault/services/drive/internal/server"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		util.Fatal("failed to parse session TTL", "err", err)
	}
	passcodeTTL, err := config.ParsePasscodeTTL(cfg.PasscodeTTL)
	if err != nil {
		util.Fatal("failed to parse passcode TTL", "err", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}
	defer db.Close()

	objects, err := newObjectStore(cfg)
	if err != nil {
		util.Fatal("failed to init object storage", "err", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			util.Fatal("redis ping failed", "err", err)
		}
		defer redisClient.Close()
	}

	mail, err := newMailer(ctx, cfg, redisClient, logger)
	if err != nil {
		util.Fatal("failed to init mailer", "err", err)
	}
	verifier, err := newGoogleVerifier(cfg)
	if err != nil {
		util.Fatal("failed to init google verifier", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:          db,
		Objects:        objects,
		Mailer:         mail,
		Google:         verifier,
		GoogleClientID: cfg.GoogleClientID,
		SessionTTL:     sessionTTL,
		PasscodeTTL:    passcodeTTL,
		AppURL:         cfg.AppURL,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	serverCfg := server.Config{
		App:                      appCore,
		CORSOrigins:              cfg.CORSOrigins,
		TrustedProxies:           trusted,
		CookieSecure:             cfg.CookieSecure,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		VerifyRateLimitPerMinute: cfg.VerifyRateLimitPerMinute,
		GoogleRateLimitPerMinute: cfg.GoogleRateLimitPerMinute,
	}
	if redisClient != nil {
		serverCfg.Redis = redisClient
	} else {
		logger.Warn("redis not configured; rate limiting and security alerts disabled")
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("drive server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("server error", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	slog.Info("drive server stopped")
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.StorageBackend == config.StorageMinio {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.StorageDir)
}

// newMailer picks the passcode delivery mode. Queue mode also starts the
// outbox worker, which stops with ctx.
func newMailer(ctx context.Context, cfg config.FileConfig, redisClient *redis.Client, logger *slog.Logger) (mailer.Mailer, error) {
	if cfg.MailDelivery == config.MailLog {
		logger.Warn("mail delivery is set to log; passcodes are written to the log")
		return mailer.NewLogMailer(logger), nil
	}
	timeout, err := config.ParseSMTPTimeout(cfg.SMTPTimeout)
	if err != nil {
		return nil, err
	}
	smtp, err := mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.MailDelivery != config.MailQueue {
		return smtp, nil
	}
	if redisClient == nil {
		return nil, errors.New("queued mail delivery requires redis")
	}
	outbox, err := queue.NewRedisQueue(queue.RedisQueueConfig{
		Client: redisClient,
		Stream: cfg.MailQueueStream,
		Group:  "mailers",
	})
	if err != nil {
		return nil, fmt.Errorf("init mail queue: %w", err)
	}
	if err := outbox.Start(ctx, 1, mailer.Worker(smtp)); err != nil {
		return nil, fmt.Errorf("start mail worker: %w", err)
	}
	return mailer.NewQueueMailer(outbox), nil
}

func newGoogleVerifier(cfg config.FileConfig) (googleid.Verifier, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	if cfg.GoogleVerifyMode == config.GoogleJWKS {
		return googleid.NewJWKSVerifier(googleid.JWKSConfig{
			ClientID:   cfg.GoogleClientID,
			JWKSURL:    cfg.GoogleJWKSURL,
			HTTPClient: httpClient,
		})
	}
	return googleid.NewTokeninfoVerifier(googleid.TokeninfoConfig{
		ClientID:   cfg.GoogleClientID,
		Endpoint:   cfg.GoogleTokeninfoEndpoint,
		HTTPClient: httpClient,
	})
}
