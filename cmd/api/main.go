package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"swimschool/internal/attendance"
	"swimschool/internal/auth"
	"swimschool/internal/cloudinary"
	"swimschool/internal/config"
	"swimschool/internal/handler"
	"swimschool/internal/httpmiddleware"
	"swimschool/internal/logger"
	"swimschool/internal/queue"
	"swimschool/internal/scancode"
	"swimschool/internal/store"
	"swimschool/internal/worker"
)

func main() {
	cfg, cfgErr := config.Load()
	log := logger.Must(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	if cfgErr != nil {
		log.Warn("config fell back to defaults", zap.Error(cfgErr))
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	if err != nil {
		log.Warn("db not reachable", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if cfg.MigrateOnStart && err == nil {
		if err := store.Migrate(ctx, db); err != nil {
			return err
		}
		log.Info("schema migrated")
	}

	redisClient, rerr := store.NewRedis(ctx, cfg.RedisAddr)
	if rerr != nil {
		log.Warn("redis not reachable", zap.Error(rerr))
	}
	defer func() { _ = redisClient.Close() }()

	events, closeEvents, err := openQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeEvents()
	summary := attendance.NewSummary(redisClient.Client, "")

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.QueueBackend == "memory" {
		go func() {
			if _, err := worker.Run(workerCtx, events, summary, log.Named("worker")); err != nil {
				log.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	repo := attendance.NewRepository(db.Client)
	att := attendance.NewService(repo, repo,
		attendance.WithLocation(cfg.Location()),
		attendance.WithPublisher(events),
		attendance.WithMetrics(attendance.NewMetrics(prometheus.DefaultRegisterer)),
		attendance.WithLogger(log.Named("attendance")),
	)

	var uploader scancode.Uploader
	if cfg.CloudinaryEnabled() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("cloudinary not configured, QR images are served from the API only")
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Provision-Key"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.RateLimit(limiter, log))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.New(handler.Deps{
		Attendance:    att,
		ScanCodes:     scancode.NewService(repo, uploader, log.Named("scancode")),
		Summary:       summary,
		Devices:       auth.NewDevices(db.Client),
		Issuer:        auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		ProvisionKey:  cfg.ProvisionKey,
		PublicBaseURL: cfg.PublicBaseURL,
		Checks: map[string]handler.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Log: log.Named("http"),
	}).Mount(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("timezone", cfg.Timezone))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// openQueue returns the queue attendance events go through. The memory
// backend is drained in-process.
func openQueue(cfg config.App, redisClient *store.Redis) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewInMemory(64), func() {}, nil
	case "nats":
		q, err := queue.NewNATSQueue(cfg.NATSURL, "", "")
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	default:
		return queue.NewRedisQueue(redisClient.Client, ""), func() {}, nil
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
