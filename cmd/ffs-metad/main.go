// Command ffs-metad runs one stateless metadata-server replica (§4.6):
// per-inode batching, directory/inode operations, and the background
// GC worker that drains unlinked inodes' chunks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fireflyer/ffs/pkg/config"
	"github.com/fireflyer/ffs/pkg/distributor"
	"github.com/fireflyer/ffs/pkg/kv"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/meta"
	"github.com/fireflyer/ffs/pkg/mgmtd"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/schema"
	"github.com/fireflyer/ffs/pkg/storageclient"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ffs-metad",
	Short:   "FFS metadata server: stateless, per-inode batched",
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:  "start",
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().String("config", "", "Path to a YAML config file")
	startCmd.Flags().Uint32("node-id", 1, "This replica's distributor node id")
	startCmd.Flags().String("mgmtd", "127.0.0.1:7946", "An mgmtd replica's transport address")
	startCmd.Flags().String("log-level", "info", "Log level")
	startCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

// routingSource adapts a routing.Cache kept fresh by pollRoutingInfo
// into the narrow RoutingSource interface meta.Server and
// storageclient.Client both depend on.
type routingSource struct{ cache *routing.Cache }

func (r routingSource) RoutingInfo() routing.RoutingInfo { return r.cache.Get() }

// pollRoutingInfo refreshes cache from mgmtdAddr every interval until
// ctx is done, the out-of-process counterpart to mgmtd's own in-memory
// RoutingInfo() call every downstream daemon needs since it runs in a
// separate process from the raft replica that owns the data.
func pollRoutingInfo(ctx context.Context, tr transport.Transport, mgmtdAddr string, cache *routing.Cache, interval time.Duration, logger func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	refresh := func() {
		info, err := mgmtd.RequestRoutingInfo(ctx, tr, mgmtdAddr)
		if err != nil {
			logger(err)
			return
		}
		cache.Refresh(info)
	}
	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// layoutResolver bridges storageclient.NewClient's LayoutResolver
// dependency and meta.NewServer's Remover dependency, which otherwise
// need each other to construct: the resolver is built first with srv
// left nil, handed to the storage client, and only then pointed at the
// server once it exists. Before that assignment it reports every
// inode unresolvable, which only matters for GC passes that run before
// the server has finished starting.
type layoutResolver struct{ srv *meta.Server }

func (l *layoutResolver) ResolveLayout(inode schema.InodeId) (schema.Layout, bool) {
	if l.srv == nil {
		return schema.Layout{}, false
	}
	return l.srv.ResolveLayout(inode)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	nodeID, _ := cmd.Flags().GetUint32("node-id")
	mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
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

	engine, err := kv.NewBoltEngine(fmt.Sprintf("%s/meta-%d.db", cfg.DataDir, nodeID))
	if err != nil {
		return fmt.Errorf("open meta store: %w", err)
	}

	tr := transport.NewTCP(cfg.Timeouts.RetryMax)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := routing.NewCache()
	go pollRoutingInfo(ctx, tr, mgmtdAddr, cache, cfg.Timeouts.UpdateInterval, func(err error) {
		log.Logger.Warn().Err(err).Msg("meta: routing info refresh failed")
	})
	rs := routingSource{cache: cache}

	dist := distributor.NewDistributor(engine, nodeID)
	if err := dist.Start(ctx); err != nil {
		return fmt.Errorf("start distributor: %w", err)
	}
	go dist.RunUpdater(ctx, cfg.Timeouts.UpdateInterval, cfg.Timeouts.FailureTimeout)

	resolver := &layoutResolver{}
	storageClient := storageclient.NewClient(storageclient.Config{ClientId: fmt.Sprintf("metad-%d", nodeID)}, rs, resolver, tr)

	srv := meta.NewServer(meta.Config{
		NodeID:  nodeID,
		Remover: storageClient,
	}, engine, dist, rs, tr)
	resolver.srv = srv

	if err := tr.Listen(cfg.ListenAddr, srv.Handler()); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer tr.Close()

	srv.StartGC()
	defer srv.StopGC()

	fmt.Printf("metad node %d listening on %s (mgmtd %s)\n", nodeID, cfg.ListenAddr, mgmtdAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")
	cancel()
	return nil
}
