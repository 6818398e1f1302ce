// Command coordinator runs the experiment driver: it discovers worker
// nodes over multicast, distributes a topology, starts and collects
// MinMax-K leader-election rounds, and repeats for the configured number
// of iterations. Wiring style (config → logger → socket → driver →
// HTTP server → signal-based shutdown) is grounded on the teacher's
// main.go.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/api"
	"github.com/edgemesh/minmaxk/internal/config"
	"github.com/edgemesh/minmaxk/internal/coordinator"
	"github.com/edgemesh/minmaxk/internal/middleware"
	"github.com/edgemesh/minmaxk/internal/netio"
	"github.com/edgemesh/minmaxk/internal/store"
	"github.com/edgemesh/minmaxk/internal/topology"
	"github.com/edgemesh/minmaxk/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./mmk.yaml, /etc/mmk/mmk.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Role != config.RoleCoordinator {
		cfg.Role = config.RoleCoordinator
	}

	logger := mustLogger(cfg.Log)
	defer logger.Sync()

	topoKind, err := topology.ParseKind(cfg.Coordinator.Topology)
	if err != nil {
		logger.Fatal("invalid topology", zap.Error(err))
	}

	sock, err := netio.Open(netio.Config{
		Port:           cfg.Listen.Port,
		MulticastGroup: cfg.Listen.MulticastGroup,
		Interface:      cfg.Listen.Interface,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("failed to open socket", zap.Error(err))
	}
	defer sock.Close()

	var repo *store.Repo
	if cfg.Coordinator.Store.Path != "" {
		db, err := store.Open(cfg.Coordinator.Store.Path)
		if err != nil {
			logger.Fatal("failed to open result store", zap.Error(err))
		}
		defer db.CloseSafe()
		if err := db.Migrate(); err != nil {
			logger.Fatal("failed to migrate result store", zap.Error(err))
		}
		repo = store.NewRepo(db)
	}

	var hub *web.Hub
	if cfg.Coordinator.Dashboard.Enabled {
		hub = web.NewHub(logger)
	}

	var events coordinator.EventSink
	if hub != nil {
		events = hub
	}
	var results coordinator.ResultSink
	if repo != nil {
		results = repo
	}

	driver := coordinator.New(coordinator.Config{
		Port:            cfg.Listen.Port,
		MaxExp:          cfg.Coordinator.MaxExp,
		MaxNodes:        cfg.Coordinator.MaxNodes,
		DiscoveryRounds: cfg.Coordinator.DiscoveryRounds,
		Topology:        topoKind,
	}, sock, logger, results, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- driver.Run(ctx) }()

	var httpSrv *http.Server
	if cfg.Coordinator.Dashboard.Enabled {
		mux := http.NewServeMux()
		api.NewServer(driver, repo, logger).Routes(mux)
		if hub != nil {
			mux.HandleFunc("/ws", hub.Handler())
			go hub.HeartbeatLoop(ctx, 5*time.Second)
		}
		httpSrv = &http.Server{
			Addr:         cfg.Coordinator.Dashboard.ListenAddr,
			Handler:      middleware.Logging(logger)(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("dashboard listening", zap.String("addr", cfg.Coordinator.Dashboard.ListenAddr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("dashboard server error", zap.Error(err))
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-runDone:
		if err != nil {
			logger.Error("experiment driver exited", zap.Error(err))
		} else {
			logger.Info("all experiment iterations complete")
		}
	}

	cancel()
	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("dashboard shutdown failed", zap.Error(err))
		}
	}
}

func mustLogger(cfg config.Log) *zap.Logger {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err == nil {
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	return logger
}
