package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KMikhailS/flower-shop/internal/catalog"
	"github.com/KMikhailS/flower-shop/internal/config"
	carthttp "github.com/KMikhailS/flower-shop/internal/http"
	"github.com/KMikhailS/flower-shop/internal/logger"
	"github.com/KMikhailS/flower-shop/internal/orders"
	"github.com/KMikhailS/flower-shop/internal/persistence"
	"github.com/KMikhailS/flower-shop/internal/poller"
	"github.com/KMikhailS/flower-shop/internal/service"
	"github.com/KMikhailS/flower-shop/internal/storage"
	"github.com/KMikhailS/flower-shop/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Primary: Redis. Without it the cart falls through to the local store.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable, carts will use local storage")
		redisClient.Close()
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Infof("Connected to Redis at %s", cfg.RedisAddr)
	}

	sqlite, err := storage.NewSQLiteMedium(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite store: %v", err)
	}
	defer sqlite.Close()
	log.Infof("SQLite store ready at %s", cfg.SQLitePath)

	media := []storage.Medium{storage.NewRedisMedium(redisClient, cfg.CartMaxAge), sqlite}

	if cfg.MongoURI != "" {
		mongoDB, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer mongoDB.Client().Disconnect(context.Background())

		mongoMedium := storage.NewMongoMedium(mongoDB, cfg.CartMaxAge)
		if err := mongoMedium.CreateIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create MongoDB indexes")
		}
		media = append(media, mongoMedium)
		log.Infof("Connected to MongoDB database %s", cfg.MongoDBName)
	}

	medium := storage.NewFallback(logger.Component(log, "storage"), media...)

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	catalogClient := catalog.NewClient(cfg.APIBaseURL, httpClient, cfg.CatalogTTL, logger.Component(log, "catalog"))
	ordersClient := orders.NewClient(cfg.APIBaseURL, httpClient, logger.Component(log, "orders"))
	usersClient := users.NewClient(cfg.APIBaseURL, httpClient, logger.Component(log, "users"))

	carts := service.NewCartService(
		catalogClient,
		ordersClient,
		usersClient,
		medium,
		service.Config{
			StorageKey:    cfg.CartStorageKey,
			PickupAddress: cfg.PickupAddress,
			StoreOptions:  []persistence.Option{persistence.WithMaxAge(cfg.CartMaxAge)},
		},
		logger.Component(log, "cart"),
	)

	if len(cfg.KafkaBrokers) > 0 {
		orderEvents := poller.NewPoller(carts, logger.Component(log, "poller"), cfg.KafkaBrokers...)
		defer orderEvents.Close()
		go orderEvents.Run(ctx)
		log.Infof("Listening for %s events on %v", poller.Topic, cfg.KafkaBrokers)
	}

	handler := carthttp.NewCartHandler(carts, cfg.RequestTimeout, logger.Component(log, "http"))
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      carthttp.NewRouter(handler, cfg.RequestTimeout, logger.Component(log, "http")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Cart service listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down cart service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	carts.Flush()
	log.Info("Cart service stopped")
}
