// marquee-node is the fleet dashboard server: it dispatches commands to
// player devices over the messaging fabric, tracks acknowledgments, and
// guards the HTTP surface with token revocation and signed requests.
package main

import (
	"context"
	"crypto/tls"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/marquee-labs/marquee/pkg/api"
	"github.com/marquee-labs/marquee/pkg/auth"
	"github.com/marquee-labs/marquee/pkg/command"
	"github.com/marquee-labs/marquee/pkg/config"
	"github.com/marquee-labs/marquee/pkg/dispatch"
	"github.com/marquee-labs/marquee/pkg/fabric"
	"github.com/marquee-labs/marquee/pkg/observability"
	"github.com/marquee-labs/marquee/pkg/push"
	"github.com/marquee-labs/marquee/pkg/resiliency"
	"github.com/marquee-labs/marquee/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No credentials, no server.
		log.Fatalf("configuration error: %v", err)
	}

	setupLogging(cfg.LogLevel)

	profile := config.DefaultProfile()
	if cfg.ProfileName != "" {
		profilesDir := os.Getenv("MARQUEE_PROFILES_DIR")
		if profilesDir == "" {
			profilesDir = "profiles"
		}
		profile, err = config.LoadProfile(profilesDir, cfg.ProfileName)
		if err != nil {
			log.Fatalf("profile error: %v", err)
		}
		slog.Info("loaded tuning profile", "profile", profile.Code)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One redis client backs both the revocation store and the pub/sub
	// fabric. The messaging key doubles as its credential when no dedicated
	// password is configured.
	redisPassword := cfg.RedisPassword
	if redisPassword == "" {
		redisPassword = cfg.MessagingAPIKey
	}
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: redisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, continuing degraded", "addr", cfg.RedisAddr(), "error", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Fatalf("metrics init: %v", err)
	}

	denylist := auth.NewDenylist(auth.NewRedisKV(redisClient), nil)
	go runDenylistSweep(ctx, denylist)
	signer := auth.NewSigner([]byte(cfg.JWTSecret), auth.SignerOptions{})
	fab := fabric.NewRedis(redisClient)

	messagingBreaker := resiliency.New("messaging", resiliency.Options{
		FailureThreshold: profile.Breakers.FailureThreshold,
		ResetTimeout:     profile.Breakers.ResetTimeout,
		HealthCheck: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})
	pushBreaker := resiliency.New("push", resiliency.Options{
		FailureThreshold: profile.Breakers.FailureThreshold,
		ResetTimeout:     profile.Breakers.ResetTimeout,
	})

	sender := push.NewHTTPSender(push.HTTPSenderConfig{
		Endpoint:  cfg.PushEndpoint,
		APIKey:    cfg.PushAPIKey,
		VAPIDKey:  cfg.PushVAPIDKey,
		ProjectID: cfg.PushProjectID,
	}, nil)

	retryStore, closeStore, err := openRetryStore(cfg.RetryDBPath)
	if err != nil {
		log.Fatalf("retry store: %v", err)
	}
	defer closeStore()

	var drainRate *rate.Limiter
	if profile.Retry.RatePerSecond > 0 {
		drainRate = rate.NewLimiter(rate.Limit(profile.Retry.RatePerSecond), 1)
	}
	retryQueue := push.NewRetryQueue(retryStore, sender, pushBreaker, push.QueueOptions{
		MaxAge:        profile.Retry.MaxAge,
		Grace:         profile.Retry.Grace,
		Cap:           profile.Retry.Cap,
		DrainInterval: profile.Retry.DrainInterval,
		OpsTokens:     profile.Retry.OpsTokens,
		Rate:          drainRate,
		Metrics:       metrics,
	})
	go retryQueue.Run(ctx)

	registry := command.NewRegistry(profile.Dispatch.GracePeriod)
	dispatcher := dispatch.New(fab, messagingBreaker, registry, dispatch.Config{
		AckTimeout: profile.Dispatch.AckTimeout,
		Notifier:   retryQueue,
		Metrics:    metrics,
	})
	defer dispatcher.Close()

	ackListener := dispatch.NewAckListener(fab, registry, metrics, nil)
	ackSub, err := ackListener.Start(ctx)
	if err != nil {
		slog.Warn("acknowledgment listener unavailable, commands will time out", "error", err)
	} else {
		defer func() { _ = ackSub.Close() }()
	}

	var limiter *auth.RateLimiter
	if profile.HTTP.RequestsPerSecond > 0 {
		burst := profile.HTTP.Burst
		if burst <= 0 {
			burst = int(profile.HTTP.RequestsPerSecond)
		}
		limiter = auth.NewRateLimiter(profile.HTTP.RequestsPerSecond, burst)
	}

	if cfg.SkipSignatures() {
		slog.Warn("signature verification disabled (development mode)")
	}

	server := api.NewServer(dispatcher, denylist, []byte(cfg.JWTSecret))
	// The limiter sits inside Bearer so the actor is the authenticated
	// principal, not the remote address.
	bearer := auth.Bearer([]byte(cfg.JWTSecret), denylist)
	authn := func(next http.Handler) http.Handler {
		return bearer(auth.RateLimit(limiter)(next))
	}
	handler := server.Routes(
		authn,
		auth.SignedRequest(signer, cfg.SkipSignatures()),
	)
	handler = auth.RequestID(auth.CORS(profile.HTTP.AllowedOrigins)(handler))

	httpServer := &http.Server{
		Addr:              ":" + strings.TrimPrefix(cfg.Port, ":"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("marquee-node listening", "addr", httpServer.Addr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			stop()
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

// runDenylistSweep periodically removes revocation entries the backend
// should already have expired. Redis TTLs do the real work; this is a
// correctness backstop for backends that report stale keys.
func runDenylistSweep(ctx context.Context, denylist *auth.Denylist) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged, err := denylist.PurgeExpired(ctx); err != nil {
				slog.Warn("denylist sweep failed", "error", err)
			} else if purged > 0 {
				slog.Info("denylist sweep removed stale entries", "count", purged)
			}
		}
	}
}

// openRetryStore selects the sqlite-backed store when a path is configured
// and falls back to the in-memory store otherwise.
func openRetryStore(path string) (push.Store, func(), error) {
	if path == "" {
		slog.Info("using in-memory retry store")
		return store.NewMemoryRetryStore(), func() {}, nil
	}
	s, err := store.OpenSQLRetryStore(path)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using sqlite retry store", "path", path)
	return s, func() { _ = s.Close() }, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
