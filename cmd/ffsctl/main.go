// Command ffsctl is the FFS operator CLI: cluster membership and
// routing-table administration, plus local daemon config generation,
// grounded on warren's cobra command tree (cmd/warren/main.go).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fireflyer/ffs/pkg/config"
	"github.com/fireflyer/ffs/pkg/meta"
	"github.com/fireflyer/ffs/pkg/mgmtd"
	"github.com/fireflyer/ffs/pkg/routing"
	"github.com/fireflyer/ffs/pkg/transport"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ffsctl",
	Short:   "FFS operator CLI: cluster membership, routing tables, config",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("mgmtd", "127.0.0.1:7946", "mgmtd leader's transport address")
	rootCmd.AddCommand(registerNodeCmd)
	rootCmd.AddCommand(listNodesCmd)
	rootCmd.AddCommand(uploadChainsCmd)
	rootCmd.AddCommand(uploadChainTableCmd)
	rootCmd.AddCommand(listChainsCmd)
	rootCmd.AddCommand(listChainTablesCmd)
	rootCmd.AddCommand(setConfigCmd)
	rootCmd.AddCommand(userAddCmd)

	registerNodeCmd.Flags().Uint32("node-id", 0, "Node id to register (required)")
	registerNodeCmd.Flags().String("address", "", "Node's transport address (required)")

	uploadChainsCmd.Flags().Uint32("chain-id", 0, "Chain id (required)")
	uploadChainsCmd.Flags().Uint32("version", 1, "Chain version")
	uploadChainsCmd.Flags().String("targets", "", "Comma-separated target_id:ROLE pairs, e.g. 1:HEAD,2:MIDDLE,3:TAIL (required)")
	uploadChainsCmd.Flags().String("preferred-order", "", "Comma-separated preferred target ids; defaults to the --targets order")

	uploadChainTableCmd.Flags().Uint32("chain-table-id", 0, "Chain table id (required)")
	uploadChainTableCmd.Flags().Uint32("version", 1, "Chain table version")
	uploadChainTableCmd.Flags().String("chains", "", "Comma-separated chain ids, index order is chain_ref (required)")

	setConfigCmd.Flags().String("out", "", "Config file path to write (required)")
	setConfigCmd.Flags().String("from", "", "Existing config file to start from (defaults to built-in defaults)")
	setConfigCmd.Flags().String("node-id", "", "cluster.node_id")
	setConfigCmd.Flags().String("data-dir", "", "data_dir")
	setConfigCmd.Flags().String("listen-addr", "", "listen_addr")
	setConfigCmd.Flags().StringSlice("bootstrap-peers", nil, "cluster.bootstrap_peers")

	userAddCmd.Flags().String("meta", "", "A meta replica's transport address to provision the user on (required)")
	userAddCmd.Flags().Uint32("uid", 0, "Uid the new token resolves to")
	userAddCmd.Flags().Uint32("gid", 0, "Gid the new token resolves to")
	userAddCmd.Flags().Bool("admin", false, "Grant admin on the new token")
}

func dialTCP() *transport.TCP {
	return transport.NewTCP(5 * time.Second)
}

var registerNodeCmd = &cobra.Command{
	Use:   "register-node",
	Short: "Register a cluster member's address with mgmtd",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
		nodeID, _ := cmd.Flags().GetUint32("node-id")
		address, _ := cmd.Flags().GetString("address")
		if address == "" {
			return fmt.Errorf("--address is required")
		}

		tr := dialTCP()
		defer tr.Close()
		if err := mgmtd.RequestRegisterNode(context.Background(), tr, mgmtdAddr, routing.NodeId(nodeID), address); err != nil {
			return fmt.Errorf("register node: %w", err)
		}
		fmt.Printf("registered node %d at %s\n", nodeID, address)
		return nil
	},
}

var listNodesCmd = &cobra.Command{
	Use:   "list-nodes",
	Short: "List the cluster's registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
		tr := dialTCP()
		defer tr.Close()
		info, err := mgmtd.RequestRoutingInfo(context.Background(), tr, mgmtdAddr)
		if err != nil {
			return fmt.Errorf("get routing info: %w", err)
		}
		for _, n := range info.Nodes {
			fmt.Printf("%d\t%s\tlast_heartbeat=%s\n", n.NodeId, n.Address, time.Unix(0, n.LastHeartbeat).Format(time.RFC3339))
		}
		return nil
	},
}

// parseTargets parses a "target_id:ROLE,..." flag value into
// ChainTargetRoles, the same compact form teacher CLI flags use for
// small inline lists instead of requiring a file for one chain.
func parseTargets(s string) ([]routing.ChainTargetRole, error) {
	var out []routing.ChainTargetRole
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid target entry %q, want target_id:ROLE", part)
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target id in %q: %w", part, err)
		}
		var role routing.Role
		switch strings.ToUpper(fields[1]) {
		case "HEAD":
			role = routing.RoleHead
		case "MIDDLE":
			role = routing.RoleMiddle
		case "TAIL":
			role = routing.RoleTail
		default:
			return nil, fmt.Errorf("invalid role %q, want HEAD, MIDDLE, or TAIL", fields[1])
		}
		out = append(out, routing.ChainTargetRole{TargetId: routing.TargetId(id), Role: role})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--targets must name at least one target")
	}
	return out, nil
}

func parseTargetIDs(s string) ([]routing.TargetId, error) {
	var out []routing.TargetId
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target id %q: %w", part, err)
		}
		out = append(out, routing.TargetId(id))
	}
	return out, nil
}

func parseChainIDs(s string) ([]routing.ChainId, error) {
	var out []routing.ChainId
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q: %w", part, err)
		}
		out = append(out, routing.ChainId(id))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--chains must name at least one chain")
	}
	return out, nil
}

var uploadChainsCmd = &cobra.Command{
	Use:   "upload-chains",
	Short: "Upsert one chain's membership and role assignment",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
		chainID, _ := cmd.Flags().GetUint32("chain-id")
		version, _ := cmd.Flags().GetUint32("version")
		targetsFlag, _ := cmd.Flags().GetString("targets")
		preferredFlag, _ := cmd.Flags().GetString("preferred-order")

		targets, err := parseTargets(targetsFlag)
		if err != nil {
			return err
		}
		var preferred []routing.TargetId
		if preferredFlag != "" {
			preferred, err = parseTargetIDs(preferredFlag)
			if err != nil {
				return err
			}
		} else {
			for _, t := range targets {
				preferred = append(preferred, t.TargetId)
			}
		}

		tr := dialTCP()
		defer tr.Close()
		chain := routing.ChainInfo{ChainId: routing.ChainId(chainID), Version: version, Targets: targets, PreferredOrder: preferred}
		if err := mgmtd.RequestUpsertChainInfo(context.Background(), tr, mgmtdAddr, chain); err != nil {
			return fmt.Errorf("upload chain: %w", err)
		}
		fmt.Printf("uploaded chain %d v%d with %d targets\n", chainID, version, len(targets))
		return nil
	},
}

var uploadChainTableCmd = &cobra.Command{
	Use:   "upload-chain-table",
	Short: "Upsert a chain table version (stripe slot -> chain mapping)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
		tableID, _ := cmd.Flags().GetUint32("chain-table-id")
		version, _ := cmd.Flags().GetUint32("version")
		chainsFlag, _ := cmd.Flags().GetString("chains")

		chains, err := parseChainIDs(chainsFlag)
		if err != nil {
			return err
		}

		tr := dialTCP()
		defer tr.Close()
		table := routing.ChainTable{ChainTableId: tableID, Version: version, Chains: chains}
		if err := mgmtd.RequestPutChainTable(context.Background(), tr, mgmtdAddr, table); err != nil {
			return fmt.Errorf("upload chain table: %w", err)
		}
		fmt.Printf("uploaded chain table %d v%d with %d chains\n", tableID, version, len(chains))
		return nil
	},
}

var listChainsCmd = &cobra.Command{
	Use:   "list-chains",
	Short: "List the cluster's chains and their current membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
		tr := dialTCP()
		defer tr.Close()
		info, err := mgmtd.RequestRoutingInfo(context.Background(), tr, mgmtdAddr)
		if err != nil {
			return fmt.Errorf("get routing info: %w", err)
		}
		for _, c := range info.Chains {
			var roles []string
			for _, t := range c.Targets {
				roles = append(roles, fmt.Sprintf("%d:%s", t.TargetId, t.Role))
			}
			fmt.Printf("chain %d v%d\t%s\n", c.ChainId, c.Version, strings.Join(roles, ","))
		}
		return nil
	},
}

var listChainTablesCmd = &cobra.Command{
	Use:   "list-chain-tables",
	Short: "List the cluster's chain tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgmtdAddr, _ := cmd.Flags().GetString("mgmtd")
		tr := dialTCP()
		defer tr.Close()
		info, err := mgmtd.RequestRoutingInfo(context.Background(), tr, mgmtdAddr)
		if err != nil {
			return fmt.Errorf("get routing info: %w", err)
		}
		for _, t := range info.ChainTables {
			var ids []string
			for _, c := range t.Chains {
				ids = append(ids, fmt.Sprintf("%d", c))
			}
			fmt.Printf("chain_table %d v%d\t[%s]\n", t.ChainTableId, t.Version, strings.Join(ids, ","))
		}
		return nil
	},
}

var setConfigCmd = &cobra.Command{
	Use:   "set-config",
	Short: "Write a daemon config file, overriding only the fields given",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		from, _ := cmd.Flags().GetString("from")
		nodeID, _ := cmd.Flags().GetString("node-id")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		peers, _ := cmd.Flags().GetStringSlice("bootstrap-peers")
		if out == "" {
			return fmt.Errorf("--out is required")
		}

		cfg := config.Default()
		if from != "" {
			loaded, err := config.Load(from)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if nodeID != "" {
			cfg.Cluster.NodeID = nodeID
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if len(peers) > 0 {
			cfg.Cluster.BootstrapPeers = peers
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("resulting config is invalid: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Printf("wrote config to %s\n", out)
		return nil
	},
}

var userAddCmd = &cobra.Command{
	Use:   "user-add",
	Short: "Provision a new bearer token in a meta replica's USER table",
	RunE: func(cmd *cobra.Command, args []string) error {
		metaAddr, _ := cmd.Flags().GetString("meta")
		uid, _ := cmd.Flags().GetUint32("uid")
		gid, _ := cmd.Flags().GetUint32("gid")
		admin, _ := cmd.Flags().GetBool("admin")
		if metaAddr == "" {
			return fmt.Errorf("--meta is required")
		}

		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		token := hex.EncodeToString(raw)

		tr := dialTCP()
		defer tr.Close()
		req := meta.CreateUserRequest{Token: token, Uid: uid, Gid: gid, Admin: admin}
		if err := meta.RequestCreateUser(context.Background(), tr, metaAddr, req); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Printf("token: %s\n", token)
		fmt.Printf("  uid=%d gid=%d admin=%v\n", uid, gid, admin)
		return nil
	},
}
