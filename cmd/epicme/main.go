package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/epicweb-dev/epic-me-mcp/internal/auth"
	"github.com/epicweb-dev/epic-me-mcp/internal/config"
	"github.com/epicweb-dev/epic-me-mcp/internal/email"
	"github.com/epicweb-dev/epic-me-mcp/internal/export"
	"github.com/epicweb-dev/epic-me-mcp/internal/logging"
	"github.com/epicweb-dev/epic-me-mcp/internal/mcp"
	"github.com/epicweb-dev/epic-me-mcp/internal/sampling"
	"github.com/epicweb-dev/epic-me-mcp/internal/search"
	"github.com/epicweb-dev/epic-me-mcp/internal/store"
	"github.com/epicweb-dev/epic-me-mcp/internal/tokens"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// stdout carries the protocol; all logging goes to stderr.
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	tokenStore, err := tokens.NewRedisStore(cfg.RedisURL, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer tokenStore.Close()

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var sender authSender = emailService
	if !emailService.IsConfigured() {
		logger.Warn(ctx, "smtp not configured, validation codes are logged to stderr")
		sender = consoleSender{log: logger}
	}

	bridge := auth.New(dataStore, tokenStore, sender, logger, cfg.ServerName, cfg.TOTPSecret, cfg.TokenTTL)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	searchService.ReindexAllFromPG(ctx)

	var uploader export.Uploader
	if cfg.S3Endpoint != "" {
		s3, err := export.NewS3Uploader(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			log.Fatalf("object storage failed: %v", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Warn(ctx, "export bucket unavailable, exports will be inlined", "error", err)
		} else {
			uploader = s3
		}
	}
	exporter := export.NewService(dataStore, uploader)

	options := []mcp.ServerOption{
		mcp.WithSearch(searchService),
		mcp.WithExporter(exporter),
	}
	if cfg.OpenAIAPIKey != "" {
		fallback, err := sampling.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			log.Fatalf("openai client failed: %v", err)
		}
		options = append(options, mcp.WithFallbackSampler(fallback))
	}
	if grantID := os.Getenv("EPICME_GRANT_ID"); grantID != "" {
		if err := dataStore.CreateUnclaimedGrant(ctx, grantID); err != nil {
			log.Fatalf("grant setup failed: %v", err)
		}
		options = append(options, mcp.WithGrantID(grantID))
	}

	server := mcp.NewServer(bridge, dataStore, logger, cfg.ServerName, version, options...)
	if err := server.Serve(ctx); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

type authSender interface {
	Send(msg email.Message) error
}

// consoleSender stands in for SMTP during local development so the
// validation code is still reachable.
type consoleSender struct {
	log logging.Logger
}

func (c consoleSender) Send(msg email.Message) error {
	c.log.Info(context.Background(), "outbound email", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return nil
}
