package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/caesar-terminal/dexlink/internal/channel"
	"github.com/caesar-terminal/dexlink/internal/config"
	"github.com/caesar-terminal/dexlink/internal/dex"
	"github.com/caesar-terminal/dexlink/internal/engine"
	"github.com/caesar-terminal/dexlink/internal/gateway"
	"github.com/caesar-terminal/dexlink/internal/journal"
	"github.com/caesar-terminal/dexlink/internal/outcome"
	"github.com/caesar-terminal/dexlink/internal/signer"
	"github.com/caesar-terminal/dexlink/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)
	log.Info("dexlink starting", "env", cfg.Env, "gateway", cfg.Gateway.BaseURL, "channel", cfg.Channel.URL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Confirmation side: one registry and one channel for the process.
	registry := outcome.NewRegistry(
		outcome.WithLogger(log),
		outcome.WithMetrics(outcome.NewMetrics(reg)),
	)
	wsCfg := channel.DefaultWSConfig(cfg.Channel.URL)
	wsCfg.HeartbeatTimeout = cfg.Channel.Heartbeat()
	wsCfg.BackoffInitial = cfg.Channel.BackoffInitial()
	wsCfg.BackoffMax = cfg.Channel.BackoffMax()
	svc := channel.NewService(wsCfg, registry,
		channel.WithLogger(log),
		channel.WithMetrics(channel.NewMetrics(reg)),
	)

	// Submission side.
	headers := http.Header{}
	if cfg.Gateway.APIKey != "" {
		headers.Set("X-Api-Key", cfg.Gateway.APIKey)
	}
	gwMetrics := gateway.NewMetrics(reg)
	transport := gateway.NewTransport(gateway.TransportConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		Timeout:    cfg.Gateway.Timeout(),
		RatePerSec: cfg.Gateway.RatePerSec,
		Burst:      cfg.Gateway.Burst,
		Headers:    headers,
	}, log, gwMetrics)

	remote := dialSigner(cfg.Signer.SocketPath, log)
	var sig signer.Signer
	if remote != nil {
		sig = remote
		defer remote.Close()
	}
	gw := gateway.New(transport, sig, svc,
		gateway.WithTimeout(cfg.Outcome.Timeout()),
		gateway.WithLogger(log),
		gateway.WithMetrics(gwMetrics),
	)

	halt := engine.NewHalt(cfg.Gateway.HaltCoolOff())
	halt.Watch(svc)
	client := dex.New(gw, transport,
		dex.WithValidator(engine.NewValidator(halt)),
		dex.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = svc.Connect(connectCtx)
	cancel()
	if err != nil {
		log.Error("failed to connect confirmation channel", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, journal writes will fail until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		w := journal.NewWriter(journal.NewRedis(rdb), registry.Subscribe(), cfg.Outcome.JournalTTL(), log)
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if !svc.Healthy() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics server starting", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if cfg.Watch.TokenIn != "" {
		g.Go(func() error {
			return watchQuotes(gctx, client, cfg.Watch, log)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("dexlink shutting down")
		svc.Disconnect()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("dexlink exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("dexlink stopped")
}

// dialSigner connects to the signer daemon when its socket exists. Without
// one the client runs read-only and writes fail with NoSigner.
func dialSigner(socketPath string, log *slog.Logger) *signer.RemoteSigner {
	if _, err := os.Stat(socketPath); err != nil {
		log.Warn("signer socket not found, running read-only", "socket", socketPath)
		return nil
	}
	remote, err := signer.Dial(socketPath)
	if err != nil {
		log.Warn("failed to dial signer, running read-only", "socket", socketPath, "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := remote.Status(ctx)
	if err != nil {
		log.Warn("signer status failed", "error", err)
	} else {
		log.Info("signer connected", "address", st.Address, "active", st.Active, "ttl_remaining", st.TTLRemaining)
	}
	return remote
}

// watchQuotes logs the best exact-input quote for the configured pair on
// every tick.
func watchQuotes(ctx context.Context, client *dex.Client, w config.WatchConfig, log *slog.Logger) error {
	tokenIn, err := token.Parse(w.TokenIn)
	if err != nil {
		return err
	}
	tokenOut, err := token.Parse(w.TokenOut)
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()
	for {
		q, err := client.QuoteExactInput(ctx, tokenIn, tokenOut, amount, nil)
		if err != nil {
			log.Warn("watch: quote failed", "token_in", tokenIn, "token_out", tokenOut, "error", err)
		} else {
			log.Info("watch: quote",
				"token_in", tokenIn,
				"token_out", tokenOut,
				"fee", int(q.Fee),
				"in", q.InAmount.String(),
				"out", q.OutAmount.String(),
				"price_impact", q.PriceImpact.String(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
