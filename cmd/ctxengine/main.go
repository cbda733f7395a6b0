// Package main provides the ctxengine CLI entry point.
//
// The CLI works purely against the snapshot format: it inspects, converts,
// and verifies exported context engine snapshots using the public engine
// API. It is a thin consumer; nothing in here reaches into engine internals.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spainion/contextengine/pkg/config"
	"github.com/spainion/contextengine/pkg/engine"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ctxengine",
		Short: "Context Engine - deduplicated knowledge graph with vector search",
		Long: `ctxengine is a tooling front-end for Context Engine snapshots.

The Context Engine itself is an embedded library: an in-process store of
content-deduplicated nodes and typed edges with similarity search, graph
traversal, spatial queries, and clustering. This CLI loads its exported
snapshots to inspect, verify, and convert them.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ctxengine v%s (%s)\n", version, commit)
		},
	})

	statsCmd := &cobra.Command{
		Use:   "stats <snapshot>",
		Short: "Print graph statistics for a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <snapshot>",
		Short: "Check that a snapshot loads cleanly",
		Long: `Load a snapshot through the full import validation path: format
version, embedding dimensionality, content hashes, and edge endpoint
integrity. Exits non-zero when the snapshot is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}
	rootCmd.AddCommand(verifyCmd)

	convertCmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Re-encode a snapshot, optionally compressing it",
		Args:  cobra.ExactArgs(2),
		RunE:  runConvert,
	}
	convertCmd.Flags().Bool("compress", false, "zstd-compress the output")
	rootCmd.AddCommand(convertCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSnapshot imports a snapshot file with configuration taken from the
// environment (CTXENGINE_* variables).
func loadSnapshot(path string) (*engine.Engine, error) {
	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	opts := engine.OptionsFromConfig(cfg)
	// The snapshot dictates dimensionality; the env value only applies
	// to engines created fresh.
	opts.Dimensions = 0

	if cfg.Logging.Level != "" {
		logCfg := zap.NewProductionConfig()
		if lvl, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
			logCfg.Level = lvl
		}
		if logger, err := logCfg.Build(); err == nil {
			opts.Logger = logger
		}
	}

	return engine.Import(f, opts)
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := json.MarshalIndent(eng.Statistics(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	eng, err := loadSnapshot(args[0])
	if err != nil {
		return fmt.Errorf("snapshot rejected: %w", err)
	}
	defer eng.Close()

	stats := eng.Statistics()
	fmt.Printf("ok: %d nodes (%d embedded), %d edges\n",
		stats.NodeCount, stats.EmbeddedCount, stats.EdgeCount)
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	compress, err := cmd.Flags().GetBool("compress")
	if err != nil {
		return err
	}

	eng, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	if err := eng.Export(out, compress); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
