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
	"github.com/acmeshop/orderflow/internal/catalog"
	"github.com/acmeshop/orderflow/internal/config"
	"github.com/acmeshop/orderflow/internal/events"
	"github.com/acmeshop/orderflow/internal/httpx"
	"github.com/acmeshop/orderflow/internal/orders"
	"github.com/acmeshop/orderflow/internal/postgres"
	"github.com/acmeshop/orderflow/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load("orders-svc")

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

	// outbox rows are only marked after the broker confirms, so the
	// poller publishes synchronously
	pub, err := amqpx.NewSyncPublisher(mq, events.ExchangeEvents)
	if err != nil {
		log.Fatal("create publisher", zap.Error(err))
	}

	repo := &orders.Repo{DB: pool}
	svc := &orders.Service{
		Store:   repo,
		Catalog: catalog.NewHTTPClient(cfg.CatalogBaseURL, cfg.CatalogTimeout),
		Name:    cfg.ServiceName,
		Log:     log,
	}

	poller := &orders.OutboxPoller{
		Store:     repo,
		Publisher: pub,
		Tick:      cfg.OutboxTick,
		BatchSize: 100,
		Log:       log,
	}
	go poller.Run(ctx)

	consumer := amqpx.NewConsumer(mq, cfg.Prefetch)
	oc := &orders.Consumer{Service: svc, Redis: rdb, Log: log}
	for _, sub := range oc.Subscriptions() {
		consumer.Subscribe(sub)
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("start consumer", zap.Error(err))
	}

	router := httpx.NewRouter()
	h := &httpx.OrdersHandler{Service: svc, Redis: rdb}
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
	_ = pub.Close()
}
