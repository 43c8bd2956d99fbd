package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"procresolver/config"
	"procresolver/internal/api"
	"procresolver/internal/compat"
	inputredis "procresolver/internal/input/redis"
	"procresolver/internal/lifecycle"
	"procresolver/internal/logger"
	"procresolver/internal/output/fixturejson"
	"procresolver/internal/pipeline"
	"procresolver/internal/resolver"
	"procresolver/internal/store"
	"procresolver/internal/store/clickhousestore"
	"procresolver/internal/store/memstore"
	"procresolver/internal/store/redisstore"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("procresolver.yml"); err == nil {
		return "procresolver.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "procresolver.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "procresolver.yml"
}

func loadConfig(args []string) (*config.Config, string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ApplyDefaults(cfg)

	lc := cfg.ProcResolver.Logging
	if err := logger.Init(logger.Options{Enabled: lc.Enabled, Level: lc.Level, File: lc.File, Console: lc.Console}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg, configPath
}

func openStore(sc config.StoreConfig) (store.Reader, error) {
	switch sc.Mode {
	case "redis":
		return redisstore.NewReader(redisstore.Config{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
		})
	case "clickhouse":
		return clickhousestore.NewReader(clickhousestore.Config{
			URL:         sc.ClickHouse.URL,
			Database:    sc.ClickHouse.Database,
			EventsTable: sc.ClickHouse.EventsTable,
			AlertsTable: sc.ClickHouse.AlertsTable,
			Username:    sc.ClickHouse.Username,
			Password:    sc.ClickHouse.Password,
			Timeout:     sc.ClickHouse.Timeout,
			Headers:     sc.ClickHouse.Headers,
		})
	case "memory":
		if sc.Memory.Path == "" {
			return memstore.New(), nil
		}
		return memstore.Load(sc.Memory.Path)
	default:
		return nil, fmt.Errorf("unknown store mode: %s", sc.Mode)
	}
}

func runServer(args []string) {
	cfg, configPath := loadConfig(args)
	c := cfg.ProcResolver

	logger.Infof("ProcResolver starting")
	logger.Infof("Config loaded from: %s", configPath)

	reader, err := openStore(c.Store)
	if err != nil {
		logger.Errorf("Failed to open event store: %v", err)
		log.Fatalf("Failed to open event store: %v", err)
	}
	logger.Infof("Event store mode: %s", c.Store.Mode)

	guarded := store.NewGuard(reader, store.GuardConfig{
		Timeout:   c.Store.CallTimeout,
		MaxRows:   c.Store.MaxRows,
		RateLimit: c.Store.RateLimit,
		RateBurst: c.Store.RateBurst,
	})
	defer guarded.Close()

	res := resolver.New(guarded, resolver.Config{
		FanOut:          c.Resolver.FanOut,
		FetchBatch:      c.Resolver.FetchBatch,
		StoreCallBudget: c.Resolver.StoreCallBudget,
		LifecycleLimit:  c.Resolver.LifecycleLimit,
		CursorSecret:    []byte(c.Resolver.CursorSecret),
	})
	dispatcher := compat.NewDispatcher(res, compat.Config{
		ChildrenPageSize: c.Resolver.Legacy.ChildrenPageSize,
		Generations:      c.Resolver.Legacy.Generations,
		AlertsPageSize:   c.Resolver.Legacy.AlertsPageSize,
		AlertsEnabled:    *c.Resolver.Legacy.AlertsEnabled,
	})
	handlers := api.NewHandlers(dispatcher, api.Limits{
		DefaultPageSize:    c.Resolver.DefaultPageSize,
		DefaultGenerations: *c.Resolver.DefaultGenerations,
		MaxPageSize:        c.Resolver.MaxPageSize,
		MaxGenerations:     c.Resolver.MaxGenerations,
	})

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		AuthHeader:     c.Server.AuthHeader,
		AuthDisabled:   c.Server.AuthDisabled,
		RequestTimeout: c.Server.RequestTimeout,
		MetricsEnabled: c.Metrics.Enabled,
		MetricsPath:    c.Metrics.Path,
	}, handlers)

	srv := &http.Server{
		Addr:         c.Server.Addr,
		Handler:      router,
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", c.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server error: %v", err)
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Error shutting down HTTP server: %v", err)
	}

	logger.Infof("ProcResolver stopped")
	logger.Close()
}

func runIngest(args []string) {
	cfg, configPath := loadConfig(args)
	c := cfg.ProcResolver

	logger.Infof("ProcResolver ingest starting")
	logger.Infof("Config loaded from: %s", configPath)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         c.Store.Redis.Addr,
		Password:     c.Store.Redis.Password,
		DB:           c.Store.Redis.DB,
		Keys:         []string{c.Ingest.EventsKey, c.Ingest.AlertsKey},
		BlockTimeout: c.Ingest.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	writer, err := redisstore.NewIndexWriter(redisstore.Config{
		Addr:      c.Store.Redis.Addr,
		Password:  c.Store.Redis.Password,
		DB:        c.Store.Redis.DB,
		KeyPrefix: c.Store.Redis.KeyPrefix,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis index writer: %v", err)
		log.Fatalf("Failed to create Redis index writer: %v", err)
	}

	sink := pipeline.Tee{writer}
	if c.Ingest.ArchivePath != "" {
		archive, err := fixturejson.NewWriter(c.Ingest.ArchivePath)
		if err != nil {
			logger.Errorf("Failed to create archive writer: %v", err)
			log.Fatalf("Failed to create archive writer: %v", err)
		}
		sink = append(sink, archive)
	}

	pipe := pipeline.NewIngest(
		consumer,
		lifecycle.NewMapper(lifecycle.MapperOptions{}),
		sink,
		sink,
		pipeline.Config{
			AlertsKey:     c.Ingest.AlertsKey,
			Workers:       c.Ingest.Workers,
			BatchSize:     c.Ingest.BatchSize,
			FlushInterval: c.Ingest.FlushInterval,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	<-done

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("ProcResolver ingest stopped")
	logger.Close()
}

func runCheckConfig(args []string) int {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	path := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	configPath := findConfigFile(*path)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	config.ApplyDefaults(cfg)

	sc := cfg.ProcResolver.Store
	switch sc.Mode {
	case "redis", "clickhouse":
	case "memory":
		if sc.Memory.Path != "" {
			if _, err := memstore.Load(sc.Memory.Path); err != nil {
				fmt.Fprintf(os.Stderr, "invalid memory fixture: %v\n", err)
				return 1
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown store mode: %s\n", sc.Mode)
		return 1
	}
	if sc.Mode == "clickhouse" && sc.ClickHouse.URL == "" {
		fmt.Fprintf(os.Stderr, "store.clickhouse.url is required\n")
		return 1
	}
	fmt.Printf("config ok path=%s store=%s addr=%s\n", configPath, cfg.ProcResolver.Store.Mode, cfg.ProcResolver.Server.Addr)
	return 0
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <serve|ingest|check-config> [config.yml]\n", filepath.Base(os.Args[0]))
}

func main() {
	if len(os.Args) < 2 {
		runServer(nil)
		return
	}
	switch os.Args[1] {
	case "serve":
		runServer(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "check-config":
		os.Exit(runCheckConfig(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
	default:
		runServer(os.Args[1:])
	}
}
