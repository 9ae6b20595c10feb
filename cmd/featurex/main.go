// Command featurex decodes videos into frame batches and extracts features
// from them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/framefeatures/internal/config"
	"github.com/banshee-data/framefeatures/internal/decode"
	"github.com/banshee-data/framefeatures/internal/features"
	"github.com/banshee-data/framefeatures/internal/monitoring"
	"github.com/banshee-data/framefeatures/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type configKey struct{}

func withConfig(ctx context.Context, cfg *config.PipelineConfig) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// configFrom returns the loaded config, or an empty one when the root
// pre-run did not execute.
func configFrom(ctx context.Context) *config.PipelineConfig {
	if cfg, ok := ctx.Value(configKey{}).(*config.PipelineConfig); ok {
		return cfg
	}
	return config.EmptyPipelineConfig()
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		verbose  bool
		jsonLogs bool
	)

	root := &cobra.Command{
		Use:           "featurex",
		Short:         "featurex - frame feature extraction",
		Long:          "Decode videos into batches of frames and run an ordered list of feature operations over them.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			monitoring.Init(cmd.ErrOrStderr(), verbose, jsonLogs)

			cfg, err := config.LoadPipelineConfig(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "pipeline config file (.json, .yaml or .toml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "log as JSON instead of console text")

	root.AddCommand(newExtractCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newOpsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [video]",
		Short: "Print video metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec, err := decode.New(monitoring.Logger())
			if err != nil {
				return err
			}
			info, err := dec.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the available feature operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range features.NewRegistry().Names() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "featurex %s\n", version.Get())
			return err
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
