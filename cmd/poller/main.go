package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardliu001/ticket-service/internal/broker"
	"github.com/richardliu001/ticket-service/internal/clock"
	"github.com/richardliu001/ticket-service/internal/config"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/logger"
	"github.com/richardliu001/ticket-service/internal/outbox"
	"github.com/richardliu001/ticket-service/internal/repo"
	"github.com/richardliu001/ticket-service/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	once := pflag.Bool("once", false, "run a single dispatch cycle and exit")
	pflag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pub, err := broker.New(cfg, rdb, log)
	if err != nil {
		log.Fatalf("init %s transport: %v", cfg.Transport.Kind, err)
	}
	defer pub.Close()

	store := repo.NewOutboxStore(gdb, log,
		repo.WithClaimLease(cfg.Outbox.ClaimLease),
		repo.WithMaxRetries(cfg.Outbox.MaxRetries),
	)
	router := events.NewRouter(log)
	service.NewTicketCacheProjector(repo.NewRepository(gdb, rdb, log), log).Register(router)

	proc := outbox.NewProcessor(gdb, store, events.NewTicketRegistry(), router, pub, cfg.Outbox.InstanceID, log,
		outbox.WithTracer(otel.Tracer("ticket-service/outbox")),
		outbox.WithReleaseOnFailure(cfg.Outbox.ReleaseOnFailure),
	)

	partition := repo.NewPartition(cfg.Outbox.PartitionID, cfg.Outbox.PartitionCount)
	sched := outbox.NewScheduler(proc, outbox.SchedulerConfig{
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
		Partition: partition,
	}, clock.Real(), log)

	log.Infow("ticket-poller started",
		"instance", cfg.Outbox.InstanceID,
		"transport", cfg.Transport.Kind,
		"partition", partition.String(),
		"interval", cfg.Outbox.Interval,
	)
	if *once {
		res, err := sched.RunOnce(ctx)
		if err != nil {
			log.Fatalf("dispatch: %v", err)
		}
		log.Infof("dispatched selected=%d processed=%d failed=%d skipped=%d",
			res.Selected, res.Processed, res.Failed, res.Skipped)
		return
	}
	if err := sched.Run(ctx); err != nil {
		log.Errorf("outbox scheduler: %v", err)
	}
	log.Info("ticket-poller stopped")
}
