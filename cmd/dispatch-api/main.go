// README: Entry point; loads config, wires services, starts HTTP server and the dispatch scheduler.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	httptransport "taxidispatch/internal/http"
	"taxidispatch/internal/infra"
	"taxidispatch/internal/intake"
	"taxidispatch/internal/ledger"
	"taxidispatch/internal/logging"
	"taxidispatch/internal/maps"
	"taxidispatch/internal/pricing"
	"taxidispatch/internal/registry"
	"taxidispatch/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(os.Getenv("DISPATCH_ENV") != "production")
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("connecting postgres", zap.Error(err))
	}
	defer db.Close()

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		logger.Fatal("connecting redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	bus := events.NewBus()
	var pub events.Publisher = bus
	if cfg.AMQP.URL != "" {
		conn, err := infra.NewAMQP(ctx, cfg.AMQP.URL)
		if err != nil {
			logger.Fatal("connecting rabbitmq", zap.Error(err))
		}
		defer func() { _ = conn.Close() }()
		amqpPub, err := events.NewAMQPPublisher(conn, logger)
		if err != nil {
			logger.Fatal("declaring event exchange", zap.Error(err))
		}
		defer func() { _ = amqpPub.Close() }()
		pub = events.Multi{bus, amqpPub}
	}

	users := user.NewService(user.NewPGStore(db))

	rates := pricing.DefaultRates()
	if loaded, err := pricing.NewPGStore(db).LoadRates(ctx); err != nil {
		logger.Warn("loading fare rates, using defaults", zap.Error(err))
	} else if len(loaded) > 0 {
		rates = loaded
	}
	fares := pricing.NewService(rates)

	orders := ledger.NewService(ledger.NewPGStore(db), fares, pub, logger)
	geoIdx := geo.NewService(geo.NewRedisStore(rdb), users)
	drivers := registry.NewService(registry.NewRedisStore(rdb), geoIdx)
	engine := dispatch.NewEngine(orders, drivers, geoIdx, users, cfg.Dispatch, pub, logger, nil)
	gateway := intake.NewService(orders, users, intake.NewPGStore(db), logger)

	var routes *maps.RouteService
	if cfg.Maps.APIKey != "" {
		routes, err = maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("creating maps client", zap.Error(err))
		}
	}

	bus.Subscribe(engine.HandleOrderEvent)
	bus.Subscribe(gateway.HandleOrderEvent)

	go engine.RunScheduler(ctx)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Users:    users,
		Orders:   orders,
		Geo:      geoIdx,
		Drivers:  drivers,
		Engine:   engine,
		Intake:   gateway,
		Routes:   routes,
		Dispatch: cfg.Dispatch,
		Log:      logger,
	})
	srv := httptransport.NewServer(cfg.HTTP.Addr, router)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("dispatch api listening", zap.String("addr", cfg.HTTP.Addr))
	if err := srv.Start(); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}
