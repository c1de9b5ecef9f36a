package main

import (
	"context"
	"encoding/json"
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
	"car-marketplace/internal/infrastructure/mysql"
	"car-marketplace/internal/infrastructure/postgres"
	"car-marketplace/internal/infrastructure/redis"
	"car-marketplace/internal/infrastructure/websocket"
	"car-marketplace/internal/observability"
	"car-marketplace/internal/realtime"
	"car-marketplace/internal/services"
	"car-marketplace/pkg/logger"
	"car-marketplace/pkg/utils"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log = logger.NewWithLevel(cfg.Log.Level)

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

	// Initialize MySQL
	db, err := utils.OpenMySQL(ctx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var (
		feed      domain.FeedClient
		publisher domain.EventPublisher
	)
	switch cfg.Realtime.Backend {
	case config.BackendPostgres:
		pool, err := utils.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			log.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		feed = postgres.NewFeedClient(pool, log)
		publisher = postgres.NewEventPublisher(pool)
	default:
		feed = redis.NewFeedClient(rdb, log)
		publisher = redis.NewEventPublisher(rdb)
	}
	log.Info("Change feed backend selected", "backend", cfg.Realtime.Backend)

	metrics := observability.NewMetrics(cfg.Metrics.Namespace, nil)

	listingRepo := mysql.NewMySQLListingRepository(db)
	bidRepo := mysql.NewMySQLBidRepository(db)
	bidCache := redis.NewBidCache(rdb)

	biddingRuleDao := services.NewBiddingRuleDao(rdb)
	if err := biddingRuleDao.LoadRules(ctx); err != nil {
		log.Error("Failed to load bidding rules", "error", err)
		os.Exit(1)
	}

	connManager := websocket.NewConnectionManager(log)
	listingBroadcaster := websocket.NewWebSocketNotifier(connManager)

	hub := services.NewFeedHub(feed, listingBroadcaster, services.FeedHubConfig{
		MaxAttempts: cfg.Realtime.MaxAttempts,
		BackoffBase: cfg.Realtime.BackoffBase,
		MaxBackoff:  cfg.Realtime.MaxBackoff,
	}, metrics, log, realtime.WithMetrics(metrics, cfg.Realtime.Backend))

	bidService := services.NewBidService(listingRepo, bidRepo, bidCache, biddingRuleDao, publisher, metrics, log)

	wsHandlers := handlers.NewWebSocketHandlers(listingRepo, bidService, hub, connManager, log)

	router := mux.NewRouter()
	router.Use(middleware.CORS)
	wsHandlers.Register(router)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"service":   "bidding-service",
			"timestamp": time.Now().Format(time.RFC3339),
			"backend":   cfg.Realtime.Backend,
		})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting bidding service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	hub.Close()
	if err := rdb.Close(); err != nil {
		log.Error("Failed to close Redis client", "error", err)
	}

	log.Info("Bidding service stopped")
}
