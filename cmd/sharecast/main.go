package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sharecast/internal/core/domain"
	"sharecast/internal/core/ports"
	"sharecast/internal/core/services"
	httphandlers "sharecast/internal/handlers/http"
	"sharecast/internal/infrastructure/broadcast"
	"sharecast/internal/infrastructure/media"
	"sharecast/internal/infrastructure/middleware"
	"sharecast/internal/infrastructure/monitoring"
	signalinfra "sharecast/internal/infrastructure/signal"
	webrtcinfra "sharecast/internal/infrastructure/webrtc"
	"sharecast/pkg/circuitbreaker"
	"sharecast/pkg/config"
	"sharecast/pkg/logger"
	"sharecast/pkg/retry"
	"sharecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to config.yaml")
	issueToken := flag.String("issue-token", "", "print a control API token for this participant and exit")
	presenter := flag.Bool("presenter", true, "presenter claim of the issued token")
	tokenTTL := flag.Duration("token-ttl", 12*time.Hour, "lifetime of the issued token")
	flag.Parse()

	cfg := loadConfig(*configPath)

	if *issueToken != "" {
		token, err := middleware.NewTokenAuthority(cfg.Auth.JWTSecret).Issue(*issueToken, *presenter, *tokenTTL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "issue token:", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	zapLogger := logger.NewWithEncoding(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(cfg, log, startTime); err != nil {
		log.Fatalw("sharecast stopped with error", "error", err)
	}
}

// loadConfig tries the explicit path, then the usual locations, then
// defaults with env overrides.
func loadConfig(explicit string) *config.Config {
	paths := []string{
		"configs/config.yaml",
		"/etc/sharecast/config.yaml",
		"config.yaml",
	}
	if explicit != "" {
		paths = []string{explicit}
	}

	path := ""
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return cfg
}

func run(cfg *config.Config, log *zap.SugaredLogger, startTime time.Time) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "sharecast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)
	health := monitoring.NewHealthChecker()

	participantID := cfg.Screenshare.ParticipantID
	if participantID == "" {
		participantID = uuid.NewString()
	}

	// Media server signaling and the WebRTC bridge.
	signalClient := signalinfra.NewClient(signalinfra.ClientConfig{
		URL:           cfg.Signal.SFUURL,
		PingInterval:  cfg.Signal.PingInterval,
		PongTimeout:   cfg.Signal.PongTimeout,
		WriteTimeout:  cfg.Signal.WriteTimeout,
		AnswerTimeout: cfg.Signal.AnswerTimeout,
		Retry: retry.Config{
			Enabled:      cfg.Signal.DialAttempts > 0,
			MaxAttempts:  cfg.Signal.DialAttempts,
			InitialDelay: cfg.Signal.DialBackoff,
			MaxDelay:     10 * cfg.Signal.DialBackoff,
			Multiplier:   2,
			Jitter:       true,
		},
	}, log)

	bridgeCfg := webrtcinfra.Config{
		ICEServers: iceServers(cfg),
		RecordDir:  cfg.Screenshare.RecordDir,
		Breaker:    circuitbreaker.DefaultConfig(),
		Feedback:   collector,
	}
	bridgeCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	bridgeCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	bridge, err := webrtcinfra.NewBridge(bridgeCfg, webrtcinfra.ClientDialer(signalClient), log)
	if err != nil {
		return fmt.Errorf("create media bridge: %w", err)
	}
	defer bridge.Close()

	capture := media.NewIVFSource(media.CaptureConfig{
		ScreenPath: cfg.Screenshare.CapturePath,
		Cameras:    cfg.Screenshare.CameraDevices,
		FrameRate:  cfg.Screenshare.FrameRate,
	}, log)

	feed, err := newBroadcastFeed(ctx, cfg, participantID, health, log)
	if err != nil {
		return err
	}
	defer feed.Close()

	// Core services.
	state := services.NewSessionState()
	share := services.NewScreenshareService(state, bridge, capture, feed, collector, services.ScreenshareConfig{
		EnableVolumeControl: cfg.Screenshare.EnableVolumeControl,
		TabletMode:          cfg.Screenshare.TabletMode,
		ParticipantID:       participantID,
	}, log)

	kinds := make([]domain.StatKind, 0, len(cfg.Screenshare.StatsTypes))
	for _, k := range cfg.Screenshare.StatsTypes {
		kinds = append(kinds, domain.StatKind(k))
	}
	calculator := services.TransportBitrateCalculator{}
	stats := services.NewStatsService(bridge, calculator, kinds, log)
	liveness := services.NewLivenessMonitor(stats, calculator, collector,
		cfg.Screenshare.StatsInterval, cfg.Screenshare.StallThreshold, log)

	// UI push channel.
	snapshot := func(eventType string) signalinfra.StateEvent {
		ev := signalinfra.StateEvent{
			Type:      eventType,
			State:     share.State(),
			Phase:     share.Phase().String(),
			Timestamp: time.Now(),
		}
		if session, ok := share.Session(); ok {
			ev.Session = &session
		}
		return ev
	}
	hub := signalinfra.NewStateHub(func() signalinfra.StateEvent { return snapshot("snapshot") }, log)
	hub.SetPingInterval(cfg.Signal.PingInterval)
	hub.SetPongTimeout(cfg.Signal.PongTimeout)

	unsubscribe := state.Subscribe(func(domain.SharingState) {
		hub.Publish(snapshot("state"))
	})
	defer unsubscribe()

	// HTTP control API.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		api.Use(middleware.AuthMiddleware(middleware.NewTokenAuthority(cfg.Auth.JWTSecret)))
	}
	httphandlers.NewShareHandler(share, stats, capture, liveness, log).SetupRoutes(api)
	httphandlers.NewHealthHandler(health, startTime).SetupRoutes(router)
	router.GET("/ws/state", gin.WrapF(hub.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		liveness.Run(gctx)
		return nil
	})

	g.Go(func() error {
		err := feed.Subscribe(gctx, func(b *domain.Broadcast) {
			ev := snapshot("broadcast")
			ev.Broadcast = b
			hub.Publish(ev)
		})
		if err != nil && gctx.Err() == nil {
			log.Warnw("broadcast subscription ended",
				logger.Coded("broadcast_subscription_failed", err)...)
		}
		return nil
	})

	g.Go(func() error {
		log.Infow("Starting sharecast daemon",
			"address", cfg.Server.Address,
			"sfu_url", cfg.Signal.SFUURL,
			"participant_id", participantID,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down sharecast daemon...")
		share.EndShare()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracing", "error", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("sharecast daemon stopped")
	return err
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	if len(cfg.WebRTC.ICEServers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// newBroadcastFeed picks the redis feed when enabled so every participant
// sees the same broadcast; otherwise the broadcast is process local.
func newBroadcastFeed(ctx context.Context, cfg *config.Config, instanceID string, health *monitoring.HealthChecker, log *zap.SugaredLogger) (ports.BroadcastFeed, error) {
	if !cfg.Redis.Enabled {
		return broadcast.NewMemoryFeed(), nil
	}

	client, err := broadcast.NewRedisClient(ctx, broadcast.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, log)
	if err != nil {
		return nil, err
	}
	health.AddRedisCheck(client, 2*time.Second)
	return broadcast.NewRedisFeed(client, cfg.Redis.Channel, instanceID, log), nil
}
