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

	"github.com/richardliu001/ticket-service/internal/broker"
	"github.com/richardliu001/ticket-service/internal/clock"
	"github.com/richardliu001/ticket-service/internal/config"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/logger"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/outbox"
	"github.com/richardliu001/ticket-service/internal/repo"
	"github.com/richardliu001/ticket-service/internal/service"
	httptransport "github.com/richardliu001/ticket-service/internal/transport/http"
	"github.com/richardliu001/ticket-service/internal/uow"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	// 1. load config
	cfg, err := flags.Load()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Ticket{}, &model.TicketStatusHistory{}, &model.OutboxMessage{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	defer rdb.Close()

	// 5. outbox transport
	pub, err := broker.New(cfg, rdb, log)
	if err != nil {
		log.Fatalf("init %s transport: %v", cfg.Transport.Kind, err)
	}
	defer pub.Close()

	// 6. repo, outbox & local handlers
	repository := repo.NewRepository(gdb, rdb, log)
	store := repo.NewOutboxStore(gdb, log,
		repo.WithClaimLease(cfg.Outbox.ClaimLease),
		repo.WithMaxRetries(cfg.Outbox.MaxRetries),
	)
	router := events.NewRouter(log)
	service.NewTicketCacheProjector(repository, log).Register(router)

	// 7. unit of work & service
	work := uow.New(gdb, outbox.NewWriter(store), store, router, pub, log)
	svc := service.NewTicketService(repository, work, log)

	// 8. optional in-process poller
	if cfg.Server.RunPoller {
		proc := outbox.NewProcessor(gdb, store, events.NewTicketRegistry(), router, pub, cfg.Outbox.InstanceID, log,
			outbox.WithTracer(otel.Tracer("ticket-service/outbox")),
			outbox.WithReleaseOnFailure(cfg.Outbox.ReleaseOnFailure),
		)
		sched := outbox.NewScheduler(proc, outbox.SchedulerConfig{
			Interval:  cfg.Outbox.Interval,
			BatchSize: cfg.Outbox.BatchSize,
			Partition: repo.NewPartition(cfg.Outbox.PartitionID, cfg.Outbox.PartitionCount),
		}, clock.Real(), log)
		go func() {
			if err := sched.Run(ctx); err != nil {
				log.Errorf("outbox scheduler: %v", err)
			}
		}()
		log.Infof("in-process outbox poller started as %s", cfg.Outbox.InstanceID)
	}

	// 9. gin router
	engine := httptransport.NewRouter(svc, store, cfg.RateLimit, log)

	// 10. serve
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	log.Infof("ticket-server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
	log.Info("ticket-server stopped")
}
