package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boothworks/printfleet/api"
	"github.com/boothworks/printfleet/api/handlers"
	"github.com/boothworks/printfleet/config"
	"github.com/boothworks/printfleet/dispatch"
	"github.com/boothworks/printfleet/notify"
	"github.com/boothworks/printfleet/pool"
	"github.com/boothworks/printfleet/print"
	boothraft "github.com/boothworks/printfleet/raft"
	"github.com/boothworks/printfleet/service"
	"github.com/boothworks/printfleet/spool"
)

func main() {
	cfg := config.ParseFlags()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := os.MkdirAll(cfg.RaftDir, 0755); err != nil {
		log.Error("create raft directory", "err", err)
		os.Exit(1)
	}

	poolConfigs, err := config.LoadPools(cfg.PoolsFile)
	if err != nil {
		log.Error("load pools", "err", err)
		os.Exit(1)
	}
	pools := make(map[print.Format]*pool.Pool, len(poolConfigs))
	for _, pc := range poolConfigs {
		p, err := pool.New(pc)
		if err != nil {
			log.Error("build pool", "format", pc.Format, "err", err)
			os.Exit(1)
		}
		pools[pc.Format] = p
		log.Info("pool configured", "format", pc.Format, "strategy", pc.Strategy, "members", p.Size())
	}

	node, err := boothraft.NewNode(&boothraft.Config{
		NodeID:    cfg.NodeID,
		RaftAddr:  cfg.RaftAddr,
		RaftDir:   cfg.RaftDir,
		Bootstrap: cfg.Bootstrap,
		Peers:     cfg.Peers,
	})
	if err != nil {
		log.Error("create raft node", "err", err)
		os.Exit(1)
	}
	transport := boothraft.NewTransport(node)

	var spooler spool.Spooler
	var driver spool.DriverStateProvider
	switch cfg.Spooler {
	case "memory":
		mem := spool.NewMemory()
		spooler, driver = mem, mem
		log.Warn("using in-memory spooler, no paper will come out")
	default:
		cups := spool.NewCUPS()
		spooler, driver = cups, cups
	}

	quotas := boothraft.NewQuota(node)
	profiles := boothraft.NewProfiles(node)

	dispatcher := dispatch.New(dispatch.Config{
		Pools:    pools,
		Profiles: profiles,
		Quota:    quotas,
		Spooler:  spooler,
		Driver:   driver,
		Logger:   log,
	})

	broadcaster := notify.NewBroadcaster(log)
	broadcaster.Start()

	svc := service.New(service.Config{
		Dispatcher: dispatcher,
		Profiles:   profiles,
		Quota:      quotas,
		Driver:     driver,
		Workers:    cfg.Workers,
		QueueDepth: cfg.QueueDepth,
		Logger:     log,
		Notify:     broadcaster.JobUpdate,
	})

	// Limits from flags apply once the booth leads; on a follower the
	// leader's limits are already replicated.
	if cfg.Bootstrap && (cfg.SessionLimit > 0 || cfg.EventLimit > 0) {
		go func() {
			for i := 0; i < 50; i++ {
				if node.Leader() {
					if err := svc.SetQuotaLimits(cfg.SessionLimit, cfg.EventLimit); err != nil {
						log.Error("set quota limits", "err", err)
					}
					return
				}
				time.Sleep(200 * time.Millisecond)
			}
			log.Error("never became leader, quota limits not installed")
		}()
	}

	handler := handlers.NewHandler(svc, node, broadcaster, log)
	router := api.SetupRouter(handler, dispatcher.Metrics().Handler())

	mux := http.NewServeMux()
	mux.Handle("/raft/", http.StripPrefix("/raft", transport.Handler()))
	mux.Handle("/", router)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "err", err)
			os.Exit(1)
		}
	}()

	if cfg.JoinAddr != "" && !cfg.Bootstrap {
		log.Info("joining cluster", "addr", cfg.JoinAddr)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := transport.JoinCluster(ctx, cfg.JoinAddr, cfg.NodeID, cfg.RaftAddr); err != nil {
			// The leader may also add us from its side; keep running.
			log.Warn("join cluster failed", "err", err)
		}
		cancel()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", "err", err)
	}

	svc.Close()
	broadcaster.Stop()

	if err := node.Shutdown(); err != nil {
		log.Warn("raft shutdown", "err", err)
	}
	log.Info("shutdown complete")
}
