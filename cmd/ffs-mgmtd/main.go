// Command ffs-mgmtd runs one mgmtd replica: the raft-backed
// RoutingInfo authority every meta server and storage target
// consults for chain placement and node liveness (spec.md §4.4).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fireflyer/ffs/pkg/config"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/metrics"
	"github.com/fireflyer/ffs/pkg/mgmtd"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ffs-mgmtd",
	Short:   "FFS management daemon: raft-replicated routing state",
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this mgmtd replica",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().String("config", "", "Path to a YAML config file (defaults built in if omitted)")
	startCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Raft transport bind address")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics listen address")
	startCmd.Flags().String("join", "", "Leader address to join (omit to bootstrap a new cluster)")
	startCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	startCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	joinAddr, _ := cmd.Flags().GetString("join")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	engine, err := kv.NewBoltEngine(cfg.DataDir + "/mgmtd.db")
	if err != nil {
		return fmt.Errorf("open mgmtd store: %w", err)
	}

	srv := mgmtd.NewServer(mgmtd.Config{
		NodeID:   cfg.Cluster.NodeID,
		BindAddr: bindAddr,
		DataDir:  cfg.DataDir,
	}, engine)

	tr := transport.NewTCP(cfg.Timeouts.RetryMax)
	if err := tr.Listen(cfg.ListenAddr, srv.Handler()); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if joinAddr != "" {
		if err := srv.Join(); err != nil {
			return fmt.Errorf("start raft: %w", err)
		}
		if err := mgmtd.RequestJoin(ctx, tr, joinAddr, cfg.Cluster.NodeID, bindAddr); err != nil {
			return fmt.Errorf("request join from %s: %w", joinAddr, err)
		}
		fmt.Printf("joined cluster via %s\n", joinAddr)
	} else {
		if err := srv.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		fmt.Println("bootstrapped a new cluster")
	}

	go srv.RunHeartbeatChecker(ctx, cfg.Timeouts.UpdateInterval, cfg.Timeouts.NodeTimeout)
	go srv.RunChainsUpdater(ctx, cfg.Timeouts.UpdateInterval)
	go srv.RunPersister(ctx, cfg.Timeouts.UpdateInterval)
	go srv.RunSessionPruner(ctx, cfg.Timeouts.UpdateInterval)
	go srv.RunLeadershipMonitor(ctx)

	collector := metrics.NewCollector(srv)
	collector.Start()
	defer collector.Stop()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("mgmtd listening on %s (metrics on %s)\n", cfg.ListenAddr, metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	cancel()
	return srv.Shutdown()
}
