package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tonmarket/gifts-backend/internal/broker"
	"github.com/tonmarket/gifts-backend/internal/config"
	"github.com/tonmarket/gifts-backend/internal/db"
	httpHandlers "github.com/tonmarket/gifts-backend/internal/http/handlers"
	httpRouter "github.com/tonmarket/gifts-backend/internal/http/router"
	"github.com/tonmarket/gifts-backend/internal/ledger"
	"github.com/tonmarket/gifts-backend/internal/locks"
	"github.com/tonmarket/gifts-backend/internal/logger"
	"github.com/tonmarket/gifts-backend/internal/repository"
	"github.com/tonmarket/gifts-backend/internal/repository/common"
	"github.com/tonmarket/gifts-backend/internal/service"
	"github.com/tonmarket/gifts-backend/internal/worker"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера.
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Redis обязателен: на нём построены блокировки ресурсов.
	rdb, err := locks.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("main: ошибка подключения к Redis: %v", err)
	}
	locker := locks.NewRedisLocker(rdb)

	// Kafka опциональна: без брокеров события остаются только в БД.
	var publisher *broker.EscrowEventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := broker.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Printf("main: ошибка закрытия kafka producer: %v", err)
			}
		}()
		publisher = broker.NewEscrowEventPublisher(producer)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	giftRepo := repository.NewGiftRepository(dbConn)
	auctionRepo := repository.NewAuctionRepository(dbConn)
	offerRepo := repository.NewOfferRepository(dbConn)
	bundleRepo := repository.NewBundleRepository(dbConn)
	dealRepo := repository.NewDealRepository(dbConn)
	eventRepo := repository.NewEventRepository(dbConn)

	// Движки.
	txManager := common.NewTxManager(dbConn)
	ldg := ledger.New()
	settings := service.Settings{
		MarketCommissionPercent:  cfg.MarketCommissionPercent,
		AuctionCommissionPercent: cfg.AuctionCommissionPercent,
		LockTTL:                  cfg.LockTTL,
		LockWait:                 cfg.LockWait,
		OfferMaxAge:              cfg.OfferMaxAge,
	}

	auctionService := service.NewAuctionService(
		txManager, locker, ldg, auctionRepo, userRepo, giftRepo, dealRepo, settings)
	offerService := service.NewOfferService(
		txManager, locker, ldg, offerRepo, userRepo, giftRepo, dealRepo, eventRepo, publisherOrNil(publisher), settings)
	bundleService := service.NewBundleService(
		txManager, locker, ldg, bundleRepo, offerRepo, userRepo, giftRepo, dealRepo, eventRepo, publisherOrNil(publisher), settings)

	// Фоновые зачистки.
	sweeper := worker.NewSweeper(auctionService, offerService, cfg.SweepInterval, cfg.SweepLimit)
	sweeper.Start(ctx)

	// HTTP хэндлеры.
	auctionHandler := httpHandlers.NewAuctionHandler(auctionService)
	offerHandler := httpHandlers.NewOfferHandler(offerService)
	bundleHandler := httpHandlers.NewBundleHandler(bundleService)
	healthHandler := httpHandlers.NewHealthHandler(dbConn, rdb)

	engine := httpRouter.SetupRouter(cfg, auctionHandler, offerHandler, bundleHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// publisherOrNil превращает nil *EscrowEventPublisher в nil интерфейс,
// чтобы проверка publisher != nil в сервисах работала корректно.
func publisherOrNil(p *broker.EscrowEventPublisher) service.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
