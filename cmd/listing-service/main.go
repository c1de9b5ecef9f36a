package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car-marketplace/internal/api/handlers"
	"car-marketplace/internal/api/middleware"
	"car-marketplace/internal/config"
	"car-marketplace/internal/domain"
	"car-marketplace/internal/infrastructure/leader"
	"car-marketplace/internal/infrastructure/mysql"
	"car-marketplace/internal/infrastructure/postgres"
	"car-marketplace/internal/infrastructure/redis"
	"car-marketplace/internal/observability"
	"car-marketplace/internal/pricing"
	"car-marketplace/internal/services"
	"car-marketplace/pkg/logger"
	"car-marketplace/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
)

func main() {
	log := logger.New()
	log.Info("Starting Listing Service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db, err := utils.OpenMySQL(ctx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Connected to MySQL")

	// Change events go out on the same backend the bidding service listens on.
	var publisher domain.EventPublisher
	switch cfg.Realtime.Backend {
	case config.BackendPostgres:
		pool, err := utils.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			log.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		publisher = postgres.NewEventPublisher(pool)
	default:
		publisher = redis.NewEventPublisher(rdb)
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace, nil)

	listingRepo := mysql.NewMySQLListingRepository(db)
	bidRepo := mysql.NewMySQLBidRepository(db)
	bidCache := redis.NewBidCache(rdb)

	biddingRuleDao := services.NewBiddingRuleDao(rdb)
	if err := biddingRuleDao.LoadRules(ctx); err != nil {
		log.Error("Failed to load bidding rules", "error", err)
		os.Exit(1)
	}

	pricingService := pricing.NewService(redis.NewTierStore(rdb, pricing.DefaultTiers()), log)
	if _, err := pricingService.Refresh(ctx); err != nil {
		log.Warn("Using default reserve price tiers", "error", err)
	}

	listingService := services.NewListingService(listingRepo, pricingService, bidCache, biddingRuleDao, publisher, metrics, log)
	bidService := services.NewBidService(listingRepo, bidRepo, bidCache, biddingRuleDao, publisher, metrics, log)

	leaderElection := leader.NewRedisLeaderElection(rdb, leader.DefaultKey, cfg.Leader.TTL)
	refresher := services.NewTierRefresher(pricingService, listingService, leaderElection,
		cfg.Instance.ID, cfg.Pricing.RefreshInterval, log)

	e := echo.New()
	e.HideBanner = true
	middleware.Setup(e, log)

	api := e.Group("/api/v1")
	handlers.NewListingHandler(listingService, bidService, log).Register(api)
	handlers.NewPricingHandler(pricingService, listingService, log).Register(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "listing-service",
			"timestamp": time.Now().Format(time.RFC3339),
			"port":      cfg.Server.Port,
			"version":   "1.0.0",
		})
	})
	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))

	if err := refresher.Start(context.Background()); err != nil {
		log.Error("Failed to start tier refresher", "error", err)
		os.Exit(1)
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting listing server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down listing service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := refresher.Stop(); err != nil {
		log.Error("Failed to stop tier refresher", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := rdb.Close(); err != nil {
		log.Error("Failed to close Redis client", "error", err)
	}

	log.Info("Listing service stopped")
}
