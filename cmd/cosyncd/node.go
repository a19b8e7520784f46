package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"cosync/core"
	"cosync/pkg/config"

	libp2ptransport "cosync/internal/transport/libp2p"
	wstransport "cosync/internal/transport/ws"
)

// App bootstraps a cosync node's services, adapting
// core/initialization_replication.go's InitService wrap-and-Shutdown
// shape from a single Replicator to the full LocalNode/SyncManager/
// transport set.
type App struct {
	cfg     *config.Config
	logger  *logrus.Logger
	node    *core.LocalNode
	sync    *core.SyncManager
	metrics *core.Metrics

	libp2p *libp2ptransport.Transport
	ws     *wstransport.Transport
}

// NewApp loads configuration (.env first, then YAML via viper) and
// constructs every long-lived service, but does not start goroutines.
func NewApp(env string) (*App, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	metricsPath := cfg.Logging.MetricsLogFile
	if metricsPath == "" {
		metricsPath = "cosync-metrics.log"
	}

	storage := core.NewMemoryStorage()
	crypto := core.NewStaticCryptoContext("local", nil, nil)

	node := core.NewLocalNode(crypto, storage, nil, time.Duration(cfg.Sync.LoadDeadlineMS)*time.Millisecond, logger)

	metrics, err := core.NewMetrics(node, metricsPath)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	node.SetMetrics(metrics)

	sync, err := core.NewSyncManager(node, cfg.Sync.MaxInFlightLoads, cfg.Sync.BroadcastDedupCache, logger)
	if err != nil {
		return nil, fmt.Errorf("init sync manager: %w", err)
	}

	return &App{cfg: cfg, logger: logger, node: node, sync: sync, metrics: metrics}, nil
}

// Start brings up both transports and the SyncManager background loop.
func (a *App) Start(ctx context.Context) error {
	dispatch := func(peerID string, msg core.WireMessage) {
		if err := a.sync.Dispatch(peerID, msg); err != nil {
			a.logger.Warnf("dispatch from %s failed: %v", peerID, err)
		}
	}

	lp, err := libp2ptransport.New(libp2ptransport.Config{
		ListenAddr:     a.cfg.Network.ListenAddr,
		BootstrapPeers: a.cfg.Network.BootstrapPeers,
		DiscoveryTag:   a.cfg.Network.DiscoveryTag,
		OutboundHWM:    a.cfg.Sync.OutboundQueueHighWater,
	}, a.logger, dispatch)
	if err != nil {
		return fmt.Errorf("start libp2p transport: %w", err)
	}
	a.libp2p = lp
	for _, p := range lp.Peers() {
		a.node.AddPeer(p)
	}

	a.ws = wstransport.New(a.cfg.Network.MaxConcurrentDials, a.cfg.Sync.OutboundQueueHighWater, a.logger, dispatch)

	a.sync.Start(ctx)
	go a.metrics.RunCollector(ctx, 30*time.Second)
	return nil
}

// Shutdown tears down every service in reverse dependency order.
func (a *App) Shutdown() error {
	a.sync.Stop()
	if a.libp2p != nil {
		_ = a.libp2p.Close()
	}
	return a.node.Close()
}
