package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/supply-marketplace/internal/config"
	"github.com/example/supply-marketplace/internal/email"
	"github.com/example/supply-marketplace/internal/infrastructure/kinesis"
	"github.com/example/supply-marketplace/internal/infrastructure/redisx"
	"github.com/example/supply-marketplace/internal/logging"
	"github.com/example/supply-marketplace/internal/notification"
	"go.uber.org/zap"
)

var (
	notificationHandler *notification.Handler
	logger              *zap.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err = logging.New(logging.Options{Mode: "production", Level: cfg.LogLevel})
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger = logger.Named("lambda")

	var opts []notification.Option
	if cfg.RedisAddr != "" {
		opts = append(opts, notification.WithDeduper(redisx.NewDeduper(redisx.New(cfg.RedisAddr), "lambda-notifier")))
	}
	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	notificationHandler = notification.NewHandler(emailSvc, logger, opts...)

	logger.Info("initialized", zap.String("smtp", cfg.SMTPHost), zap.Int("port", cfg.SMTPPort))
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	var batchItemFailures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord) {
		batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
			ItemIdentifier: record.Kinesis.SequenceNumber,
		})
	}

	for _, record := range kinesisEvent.Records {
		event, err := kinesis.ConvertFromKinesisRecord(record)
		if err != nil {
			logger.Error("failed to convert record", zap.String("record", record.EventID), zap.Error(err))
			fail(record)
			continue
		}
		// Changes that imply no event
		if event == nil {
			continue
		}

		if err := notificationHandler.Handle(ctx, *event); err != nil {
			logger.Error("failed to process event",
				zap.String("eventId", event.ID),
				zap.String("eventType", event.EventType),
				zap.Error(err))
			fail(record)
		}
	}

	logger.Info("batch processed",
		zap.Int("records", len(kinesisEvent.Records)),
		zap.Int("failed", len(batchItemFailures)))

	return events.KinesisEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func main() {
	defer func() { _ = logger.Sync() }()
	lambda.Start(handler)
}
