// Command worker runs a single MinMax-K election node: it waits to be
// discovered by a coordinator, receives its election value and neighbor
// set, participates in the election round, and reports its result. Wiring
// style is grounded on the teacher's main.go (config → logger → socket →
// actor loop → signal-based shutdown), adapted from an HTTP-server
// lifecycle to a polling actor loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/config"
	"github.com/edgemesh/minmaxk/internal/netio"
	"github.com/edgemesh/minmaxk/internal/nodeid"
	"github.com/edgemesh/minmaxk/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./mmk.yaml, /etc/mmk/mmk.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Role != config.RoleWorker {
		cfg.Role = config.RoleWorker
	}

	logger := mustLogger(cfg.Log)
	defer logger.Sync()

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

	localIP, err := linkLocalAddress(cfg.Listen.Interface)
	if err != nil {
		logger.Fatal("failed to determine this node's link-local address", zap.Error(err))
	}
	id := nodeid.FromFull(localIP)
	w := worker.New(id, worker.Config{
		K:       cfg.Election.K,
		T:       cfg.Election.T,
		TPoll:   cfg.Election.TPoll,
		Port:    cfg.Listen.Port,
		General: cfg.Coordinator.Topology == "gen",
	}, sock, logger)

	logger.Info("worker started", zap.String("node_id", id.Short()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := w.Step(time.Now()); err != nil {
				logger.Error("worker step failed", zap.Error(err))
				return
			}
		}
	}()

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case <-loopDone:
		logger.Error("worker loop exited unexpectedly")
	}
	cancel()
	<-loopDone
}

// linkLocalAddress finds this machine's IPv6 link-local unicast address,
// which doubles as this node's identity per spec 2 (a node's NodeId is its
// own link-local IPv6 address). When iface is non-empty, only that
// interface is considered.
func linkLocalAddress(iface string) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}
	for _, ifi := range ifaces {
		if iface != "" && ifi.Name != iface {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.To4() != nil || !ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			return ipNet.IP.String(), nil
		}
	}
	return "", fmt.Errorf("no IPv6 link-local address found (interface filter: %q)", iface)
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
