package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/acmeshop/orderflow/internal/amqpx"
	"github.com/acmeshop/orderflow/internal/config"
	"github.com/acmeshop/orderflow/internal/events"
	"github.com/acmeshop/orderflow/internal/httpx"
	"github.com/acmeshop/orderflow/internal/inventory"
	"github.com/acmeshop/orderflow/internal/postgres"
	"github.com/acmeshop/orderflow/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("inventory-svc")

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer func() { _ = rdb.Close() }()

	mq, err := amqpx.Dial(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer func() { _ = mq.Close() }()
	if err := mq.DeclareTopology(); err != nil {
		log.Fatal("declare topology", zap.Error(err))
	}

	pub, err := amqpx.NewPublisher(mq, events.ExchangeEvents, 256)
	if err != nil {
		log.Fatal("create publisher", zap.Error(err))
	}
	pub.Start(ctx)

	repo := &inventory.Repo{DB: pool}
	svc := &inventory.Service{
		Store:          repo,
		Redis:          rdb,
		Pub:            pub,
		Name:           cfg.ServiceName,
		ReservationTTL: 30 * time.Minute,
		Log:            log,
	}

	sweeper := &inventory.Sweeper{Store: repo, Tick: cfg.SweepTick, Log: log}
	go sweeper.Run(ctx)

	consumer := amqpx.NewConsumer(mq, cfg.Prefetch)
	for _, sub := range svc.Subscriptions() {
		consumer.Subscribe(sub)
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("start consumer", zap.Error(err))
	}

	router := httpx.NewRouter()
	h := &httpx.InventoryHandler{Service: svc}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	pub.Close()
	pub.WaitClosed()
}
