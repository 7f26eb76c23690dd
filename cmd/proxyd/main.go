// Command proxyd is the thin HTTP adapter over the core mail-access proxy
// (§6): it loads configuration, wires C1-C7, starts the keep-alive worker,
// and serves the four core operations as JSON endpoints. No business logic
// lives here — everything below this file talks to internal/handler.Core.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sujalsin/enterprisebridge/internal/config"
	"github.com/sujalsin/enterprisebridge/internal/creds"
	"github.com/sujalsin/enterprisebridge/internal/crypto"
	"github.com/sujalsin/enterprisebridge/internal/handler"
	"github.com/sujalsin/enterprisebridge/internal/keepalive"
	"github.com/sujalsin/enterprisebridge/internal/mailpool"
	"github.com/sujalsin/enterprisebridge/internal/sessionstore"
	"github.com/sujalsin/enterprisebridge/internal/transform"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "proxyd").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var encryptor *crypto.Encryptor
	if cfg.EncryptionKeyBase64 != "" {
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKeyBase64)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build encryptor")
		}
	}

	resolver, err := creds.NewStaticResolver(cfg.CredentialsFile, encryptor)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load credentials file")
	}

	store := sessionstore.NewRedisStore(cfg.StoreAddr, cfg.StoreUsername, cfg.StorePassword, cfg.StoreDB, log)

	imapPool := mailpool.NewIMAPPool(resolver, store, cfg.SessionTTL(), cfg.MaxLiveHandlesPerProtocol, log)
	smtpPool := mailpool.NewSMTPPool(resolver, store, cfg.SessionTTL(), cfg.MaxLiveHandlesPerProtocol, log)
	transformer := transform.New(cfg.BodyCharLimit, cfg.AttachmentCharLimit, cfg.TrackingHostPatterns, transform.NopExtractor{})

	core := handler.NewService(imapPool, smtpPool, store, transformer, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker := keepalive.NewWorker(store, imapPool, smtpPool, cfg.KeepaliveInterval(), log)
	go worker.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: newRouter(core, log),
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown_signal_received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful_shutdown_failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("environment", cfg.Environment).Msg("proxyd_starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server_failed")
	}
}
