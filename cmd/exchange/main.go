package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/dsarman/2016-wood-challenge/config"
	"github.com/dsarman/2016-wood-challenge/pkg/engine"
	"github.com/dsarman/2016-wood-challenge/pkg/feed"
	postgres_wrapper "github.com/dsarman/2016-wood-challenge/pkg/infra/postgres"
	redis_wrapper "github.com/dsarman/2016-wood-challenge/pkg/infra/redis"
	"github.com/dsarman/2016-wood-challenge/pkg/logging"
	"github.com/dsarman/2016-wood-challenge/pkg/server"
	"github.com/dsarman/2016-wood-challenge/pkg/store"
	"github.com/dsarman/2016-wood-challenge/pkg/wire"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() // nolint

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	go func() {
		http.ListenAndServe("localhost:6060", nil) // nolint
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	hub := feed.NewHub(log)
	sink := server.NewSink(hub)

	eng, err := engine.New(ctx, st, sink, log)
	if err != nil {
		log.Fatal("init engine", zap.Error(err))
	}

	snapshot := func() [][]byte {
		levels := eng.DepthSnapshot()
		out := make([][]byte, 0, len(levels))
		for _, lvl := range levels {
			out = append(out, wire.Encode(wire.NewBookEvent(lvl)))
		}
		return out
	}

	clientLn, err := net.Listen("tcp", cfg.ClientAddr)
	if err != nil {
		log.Fatal("listen client", zap.String("addr", cfg.ClientAddr), zap.Error(err))
	}
	go func() {
		if err := server.New(eng, sink, log).Serve(ctx, clientLn); err != nil {
			log.Error("client server stopped", zap.Error(err))
		}
	}()
	log.Info("client gateway listening", zap.String("addr", clientLn.Addr().String()))

	if cfg.FeedAddr != "" {
		feedLn, err := net.Listen("tcp", cfg.FeedAddr)
		if err != nil {
			log.Fatal("listen feed", zap.String("addr", cfg.FeedAddr), zap.Error(err))
		}
		go func() {
			if err := feed.NewTCPServer(hub, snapshot, log).Serve(ctx, feedLn); err != nil {
				log.Error("feed server stopped", zap.Error(err))
			}
		}()
		log.Info("market data feed listening", zap.String("addr", feedLn.Addr().String()))
	}

	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws/marketdata", feed.NewWSHandler(hub, snapshot, log))
		httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server stopped", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			httpSrv.Shutdown(context.Background()) // nolint
		}()
		log.Info("websocket feed listening", zap.String("addr", cfg.HTTPAddr))
	}

	if cfg.Redis != nil && cfg.Redis.ConnectionURL != "" {
		redisClient, err := redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			log.Fatal("init redis", zap.Error(err))
		}
		defer redisClient.Close()
		go feed.NewRedisRelay(redisClient, cfg.Redis.Channel, log).Run(ctx, hub)
		log.Info("redis relay started", zap.String("channel", cfg.Redis.Channel))
	}

	fmt.Println("Exchange started. Press Ctrl+C to exit.")

	<-sigs
	fmt.Println("Shutting down...")

	cancel()

	fmt.Println("Exited cleanly.")
}

func openStore(cfg *config.StoreConfig) (store.Store, error) {
	if cfg == nil {
		return store.NewMemoryStore(), nil
	}
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "pebble":
		return store.NewPebbleStore(cfg.PebblePath)
	case "postgres":
		db, err := postgres_wrapper.InitPostgres(cfg.DB)
		if err != nil {
			return nil, err
		}
		return store.NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
