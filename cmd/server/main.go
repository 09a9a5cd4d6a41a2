package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"metamarket.backend/internal/config"
	"metamarket.backend/internal/infrastructure/aggregator"
	"metamarket.backend/internal/infrastructure/blockchain"
	"metamarket.backend/internal/infrastructure/datasources/postgres"
	"metamarket.backend/internal/infrastructure/jobs"
	"metamarket.backend/internal/infrastructure/messaging"
	"metamarket.backend/internal/infrastructure/metrics"
	"metamarket.backend/internal/infrastructure/repositories"
	"metamarket.backend/internal/infrastructure/statestore"
	"metamarket.backend/internal/interfaces/http/handlers"
	"metamarket.backend/internal/interfaces/http/middleware"
	"metamarket.backend/internal/usecases"
	"metamarket.backend/pkg/jwt"
	"metamarket.backend/pkg/logger"
	"metamarket.backend/pkg/redis"
)

// eventPublisher is what the server needs from the broker client
type eventPublisher interface {
	usecases.PurchaseEventPublisher
	Close() error
}

var (
	loadDotenv   = godotenv.Load
	loadCfg      = config.Load
	initLog      = logger.Init
	initRedis    = redis.Init
	openDB       = postgres.NewConnection
	migrateDB    = postgres.Migrate
	loadChains   = config.LoadChainCatalog
	newWallet    = blockchain.NewSigningWallet
	newPublisher = func(cfg config.RabbitMQConfig) (eventPublisher, error) {
		if cfg.URL == "" {
			return messaging.NoopPublisher{}, nil
		}
		return messaging.NewRabbitPublisher(messaging.Config{
			URL:            cfg.URL,
			Exchange:       cfg.Exchange,
			ConnectRetries: 5,
		})
	}
	runServer = func(ctx context.Context, r *gin.Engine, port string) error {
		srv := &http.Server{Addr: ":" + port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	// Load .env file
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := loadCfg()

	initLog(cfg.Server.Env)
	ctx := context.Background()
	logger.Info(ctx, "Logger initialized", zap.String("env", cfg.Server.Env))

	if err := initRedis(cfg.Redis.URL, cfg.Redis.PASSWORD); err != nil {
		logger.Error(ctx, "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(ctx, "Redis initialized")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrateDB(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info(ctx, "Connected to PostgreSQL")

	catalog, err := loadChains(cfg.Blockchain.ChainCatalogFile, cfg.Blockchain.HomeChainID)
	if err != nil {
		return fmt.Errorf("failed to load chain catalog: %w", err)
	}
	home, ok := catalog.Home()
	if !ok {
		return fmt.Errorf("home chain %d is not in the catalog", catalog.HomeChainID)
	}

	clientFactory := blockchain.NewClientFactory()
	defer clientFactory.Close()

	wallet, err := newWallet(ctx, cfg.Blockchain.OwnerPrivateKey, clientFactory, *home)
	if err != nil {
		return fmt.Errorf("failed to initialize signing wallet: %w", err)
	}
	logger.Info(ctx, "Signing wallet ready",
		zap.String("address", wallet.Address()),
		zap.Uint64("home_chain_id", home.ChainID),
	)

	bridgedStore, err := statestore.New(cfg.Purchase.BridgedStore, cfg.Purchase.BridgedTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize bridged store: %w", err)
	}

	publisher, err := newPublisher(cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	defer publisher.Close()

	serverMetrics := metrics.New()
	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)

	// Repositories
	attemptRepo := repositories.NewPurchaseAttemptRepository(db)

	// Usecases
	lifi := aggregator.NewLiFiClient(aggregator.Config{
		BaseURL:       cfg.Aggregator.BaseURL,
		APIKey:        cfg.Aggregator.APIKey,
		Integrator:    cfg.Aggregator.Integrator,
		Timeout:       cfg.Aggregator.Timeout,
		RatePerSecond: cfg.Aggregator.RequestsPerSecond,
		Burst:         cfg.Aggregator.Burst,
	})
	gateway := usecases.NewChainGateway(catalog, clientFactory)
	ensurer := usecases.NewChainEnsurer(catalog)
	var ratePolicy usecases.RateUpdatePolicy = usecases.RejectRateUpdates
	if cfg.Purchase.AcceptRateUpdate {
		ratePolicy = usecases.AcceptRateUpdates
	}

	orchestrator := usecases.NewPurchaseOrchestrator(usecases.PurchaseOrchestratorDeps{
		Gateway:  gateway,
		Wallet:   wallet,
		Balances: usecases.NewBalanceResolver(),
		Planner:  usecases.NewRoutePlanner(lifi, cfg.Aggregator.AllowedBridge),
		Executor: usecases.NewBridgeExecutor(gateway, lifi, ensurer, usecases.BridgeExecutorConfig{
			ConfirmationTimeout: cfg.Purchase.ConfirmationTimeout,
			StatusPollInterval:  cfg.Purchase.StatusPollInterval,
			AcceptRateUpdate:    ratePolicy,
		}),
		Finalizer: usecases.NewPurchaseFinalizer(gateway, ensurer, cfg.Purchase.ConfirmationTimeout),
		Tracker:   usecases.NewStateTracker(bridgedStore),
		Attempts:  attemptRepo,
		Events:    publisher,
		Metrics:   serverMetrics,
	})
	marketplaceUsecase := usecases.NewMarketplaceUsecase(gateway, wallet, ensurer, cfg.Purchase.ConfirmationTimeout)

	// Handlers
	marketplaceHandler := handlers.NewMarketplaceHandler(marketplaceUsecase)
	purchaseHandler := handlers.NewPurchaseHandler(handlers.OrchestratorService{PurchaseOrchestrator: orchestrator})

	// Background jobs
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stuckJob := jobs.NewPurchaseStuckJob(attemptRepo, cfg.Purchase.StuckCheckInterval, cfg.Purchase.StuckAfter)
	go stuckJob.Start(runCtx)
	defer stuckJob.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(serverMetrics.Middleware())

	applyCORSMiddleware(r)
	registerHealthRoute(r)
	registerMetricsRoute(r, serverMetrics)
	registerAPIV1Routes(r, routeDeps{
		marketplaceHandler: marketplaceHandler,
		purchaseHandler:    purchaseHandler,
		authMiddleware:     middleware.AuthMiddleware(jwtService),
		idempotency:        middleware.IdempotencyMiddleware(),
	})

	for _, route := range r.Routes() {
		logger.Debug(ctx, "Registered route", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	logger.Info(ctx, "Metamarket backend starting",
		zap.String("port", cfg.Server.Port),
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Server.Port)),
	)

	if err := runServer(runCtx, r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info(ctx, "Server stopped")
	return nil
}
