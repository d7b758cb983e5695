package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/supply-marketplace/internal/api"
	"github.com/example/supply-marketplace/internal/auth"
	"github.com/example/supply-marketplace/internal/command"
	"github.com/example/supply-marketplace/internal/config"
	"github.com/example/supply-marketplace/internal/domain/cart"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/product"
	"github.com/example/supply-marketplace/internal/domain/tracking"
	"github.com/example/supply-marketplace/internal/domain/wallet"
	"github.com/example/supply-marketplace/internal/events"
	"github.com/example/supply-marketplace/internal/infrastructure/kafka"
	"github.com/example/supply-marketplace/internal/infrastructure/redisx"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/example/supply-marketplace/internal/logging"
	"github.com/example/supply-marketplace/internal/payment"
	"github.com/example/supply-marketplace/internal/query"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateJWT()
	}
	if err != nil {
		// The logger is configured from cfg, so this one goes to stderr.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Mode: cfg.LogMode, Level: cfg.LogLevel, Filename: cfg.LogFile})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open document store", zap.String("store", cfg.DocStore), zap.Error(err))
	}
	defer closeStore()

	opts := command.Options{
		Currency: cfg.Currency,
		Discount: pricing.NoDiscount,
		Shipping: pricing.FlatShipping(cfg.ShippingFee),
		LockTTL:  cfg.CheckoutLockTTL,
	}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		opts.Locker = redisx.NewRedisLocker(rdb)
		opts.Idempotency = redisx.NewRedisIdempotency(rdb)
		logger.Info("checkout locks in redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, checkout locks are process-local")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer producer.Close()
		opts.Publisher = producer
		logger.Info("publishing events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		opts.Publisher = events.NopPublisher{}
	}

	if cfg.PaymentGatewayURL != "" {
		opts.Gateway = payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.PaymentAPIKey, cfg.PaymentTimeout, logger)
	} else {
		logger.Warn("PAYMENT_GATEWAY_URL not set, using the capturing fake gateway")
		opts.Gateway = payment.NewFake()
	}

	products := product.NewService(docs)
	carts := cart.NewService(docs, products, logger)
	wallets := wallet.NewService(docs, cfg.Currency, logger)
	orders := order.NewService(docs)
	tracker := tracking.NewService(docs, orders)

	cmdHandler := command.NewHandler(command.Services{
		Store:    docs,
		Carts:    carts,
		Wallets:  wallets,
		Orders:   orders,
		Tracking: tracker,
	}, opts, logger)
	queryHandler := query.NewHandler(products, carts, wallets, orders, tracker, logger)

	jwtService := auth.NewJWTService(cfg.JWTSecret, 15*time.Minute)
	handlers := api.NewHandlers(cmdHandler, queryHandler, cfg.PaymentWebhookSecret, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handlers, jwtService, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.DocStore))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// openStore builds the configured document store.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.DocStore {
	case "postgres":
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := store.NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return s, func() { _ = db.Close() }, nil
	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		logger.Info("using dynamodb", zap.String("table", cfg.DynamoTable), zap.String("region", cfg.AWSRegion))
		return store.NewDynamoStore(client, cfg.DynamoTable), func() {}, nil
	default:
		logger.Warn("using the in-memory document store, data is lost on exit")
		return store.NewMemoryStore(), func() {}, nil
	}
}
