// Command ffs-storaged runs one storage target: a bolt-backed chunk
// store plus the CRAQ chain replication logic that decides, for every
// write or read, which neighbor (if any) to forward to (spec.md §4.7).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fireflyer/ffs/pkg/config"
	"github.com/fireflyer/ffs/pkg/log"
	"github.com/fireflyer/ffs/pkg/mgmtd"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/storagetarget"
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
	Use:     "ffs-storaged",
	Short:   "FFS storage target: chunk store and CRAQ chain replication",
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:  "start",
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().String("config", "", "Path to a YAML config file")
	startCmd.Flags().Uint32("target-id", 1, "This process's storage target id")
	startCmd.Flags().String("mgmtd", "127.0.0.1:7946", "An mgmtd replica's transport address")
	startCmd.Flags().String("log-level", "info", "Log level")
	startCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

// routingSource is the same mgmtd-polling adapter ffs-metad uses,
// duplicated here rather than shared to avoid a pkg/routing -> pkg/mgmtd
// -> pkg/routing import cycle if it lived in either daemon's library code.
type routingSource struct{ cache *routing.Cache }

func (r routingSource) RoutingInfo() routing.RoutingInfo { return r.cache.Get() }

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

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	targetID, _ := cmd.Flags().GetUint32("target-id")
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

	store, err := storagetarget.NewBoltChunkStore(fmt.Sprintf("%s/target-%d", cfg.DataDir, targetID))
	if err != nil {
		return fmt.Errorf("open chunk store: %w", err)
	}
	defer store.Close()

	tr := transport.NewTCP(cfg.Timeouts.RetryMax)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := routing.NewCache()
	go pollRoutingInfo(ctx, tr, mgmtdAddr, cache, cfg.Timeouts.UpdateInterval, func(err error) {
		log.Logger.Warn().Err(err).Msg("storaged: routing info refresh failed")
	})
	rs := routingSource{cache: cache}

	srv := storagetarget.NewServer(storagetarget.Config{
		TargetId: routing.TargetId(targetID),
	}, store, rs, tr)

	if err := tr.Listen(cfg.ListenAddr, srv.Handler()); err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer tr.Close()

	srv.StartResync()
	defer srv.StopResync()

	fmt.Printf("storaged target %d listening on %s (mgmtd %s)\n", targetID, cfg.ListenAddr, mgmtdAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")
	cancel()
	return nil
}
