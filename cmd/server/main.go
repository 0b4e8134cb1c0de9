package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/gatepass/backend/internal/api"
	"github.com/gatepass/backend/internal/audit"
	"github.com/gatepass/backend/internal/auth"
	"github.com/gatepass/backend/internal/config"
	"github.com/gatepass/backend/internal/faceauth"
	"github.com/gatepass/backend/internal/geofence"
	"github.com/gatepass/backend/internal/metrics"
	"github.com/gatepass/backend/internal/notify"
	"github.com/gatepass/backend/internal/pass"
	"github.com/gatepass/backend/internal/store"
	"github.com/gatepass/backend/internal/token"
	"github.com/gatepass/backend/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if cfg.Server.Env == "development" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: Postgres when configured, in-memory otherwise.
	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		st = pg
		slog.Info("storage: postgres connected")
	} else {
		st = store.NewMemory()
		slog.Warn("storage: DATABASE_URL unset, using in-memory store")
	}

	policies := geofence.NewPolicyStore(cfg.Geofence.PolicyFile)
	fence := geofence.NewEvaluator(policies, cfg.Geofence.BufferMeters)
	codec := token.NewCodec(cfg.Gate.SigningSecret)
	sessions := auth.NewSessions(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenExpiryMinutes)*time.Minute)
	m := metrics.New()

	var sender notify.Sender = notify.NopSender{}
	if cfg.Notify.PushURL != "" || cfg.Notify.SMSURL != "" {
		sender = notify.NewWebhookSender(cfg.Notify.PushURL, cfg.Notify.SMSURL)
	}
	dispatcher := notify.NewDispatcher(st, sender)

	engine := pass.NewEngine(st, codec, fence, dispatcher, cfg.TokenTTL(), cfg.CivilZone())

	bus := audit.NewBroadcaster(m)

	var bridge *audit.RedisBridge
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, cross-pod fan-out disabled", "error", err)
		} else {
			bridge = audit.NewRedisBridge(client, bus)
			go bridge.Run(ctx)
		}
	}

	recorder := audit.NewRecorder(st, bus, bridge)
	analytics := audit.NewAnalytics(st, cfg.CivilZone())

	var faces faceauth.Verifier = faceauth.Disabled{}
	if cfg.FaceAuth.Enabled && cfg.FaceAuth.URL != "" {
		faces = faceauth.NewHTTPVerifier(cfg.FaceAuth.URL, 0)
	}

	verifier := verify.NewVerifier(codec, st, engine, recorder, dispatcher, faces, m)

	server := api.NewServer(api.Deps{
		Store:          st,
		Sessions:       sessions,
		Engine:         engine,
		Verifier:       verifier,
		Recorder:       recorder,
		Analytics:      analytics,
		Stream:         audit.NewStreamHandler(bus, analytics),
		Fence:          fence,
		Policies:       policies,
		Notify:         dispatcher,
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("gatepass server listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown incomplete", "error", err)
	}
}
