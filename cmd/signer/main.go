package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/caesar-terminal/dexlink/internal/config"
	"github.com/caesar-terminal/dexlink/internal/kms"
	"github.com/caesar-terminal/dexlink/internal/signer"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log.Info("signer starting", "env", cfg.Env, "socket", cfg.Signer.SocketPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	keyBytes, err := loadKey(ctx, cfg)
	if err != nil {
		log.Error("failed to load signing key", "error", err)
		os.Exit(1)
	}

	session := signer.NewSessionManager(cfg.Signer.SessionTTL())
	if err := session.Activate(keyBytes, cfg.Signer.MaxOperations); err != nil {
		log.Error("failed to activate session", "error", err)
		os.Exit(1)
	}
	st := session.Status()
	log.Info("session active", "address", st.Address, "ttl", st.TTLRemaining, "max_operations", st.MaxOperations)

	srv, err := signer.New(cfg.Signer.SocketPath, session, signer.WithServerLogger(log))
	if err != nil {
		log.Error("failed to create signer server", "error", err)
		os.Exit(1)
	}

	// Run gRPC server in a goroutine so we can wait for shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	log.Info("signer ready", "socket", srv.Path())

	select {
	case <-ctx.Done():
		log.Info("signer shutting down gracefully")
		session.Destroy()
		srv.GracefulStop()
	case err := <-errCh:
		if err != nil {
			log.Error("signer server error", "error", err)
			session.Destroy()
			os.Exit(1)
		}
	}

	log.Info("signer stopped")
}

// loadKey unwraps the key through KMS when a ciphertext is configured. A raw
// hex key is accepted outside production only.
func loadKey(ctx context.Context, cfg *config.Config) ([]byte, error) {
	if path := cfg.Signer.KeyCiphertextPath; path != "" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		client, err := kms.New(ctx, cfg.Signer.AWSRegion, cfg.LocalStackEndpoint, cfg.Signer.KMSKeyID)
		if err != nil {
			return nil, err
		}
		return client.DecryptFile(ctx, path)
	}
	if cfg.Signer.PrivateKey != "" {
		if cfg.Env == "production" {
			return nil, errors.New("signer.private_key is not allowed in production; use signer.key_ciphertext_path")
		}
		return hexutil.Decode(cfg.Signer.PrivateKey)
	}
	return nil, errors.New("no key configured: set signer.key_ciphertext_path or signer.private_key")
}
