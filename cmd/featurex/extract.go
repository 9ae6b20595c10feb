package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/framefeatures/internal/config"
	"github.com/banshee-data/framefeatures/internal/decode"
	"github.com/banshee-data/framefeatures/internal/features"
	"github.com/banshee-data/framefeatures/internal/frame"
	"github.com/banshee-data/framefeatures/internal/monitoring"
	"github.com/banshee-data/framefeatures/internal/pipeline"
	"github.com/banshee-data/framefeatures/internal/storage/parquet"
	"github.com/banshee-data/framefeatures/internal/storage/sqlite"
)

// summary is printed after a successful extract.
type summary struct {
	Video string            `json:"video,omitempty"`
	Run   pipeline.RunStats `json:"run"`

	// Shape and FeatureShapes are omitted when the results do not form a
	// dense array (ragged final batch).
	Shape         []int            `json:"shape,omitempty"`
	FeatureShapes map[string][]int `json:"feature_shapes,omitempty"`

	SQLitePath  string `json:"sqlite_path,omitempty"`
	ParquetPath string `json:"parquet_path,omitempty"`
	ParquetRows int64  `json:"parquet_rows,omitempty"`
}

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [video]",
		Short: "Decode a video and extract features from its frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd.Context())
			if err := applyFlags(cmd, cfg); err != nil {
				return err
			}

			dec, err := decode.New(monitoring.Logger())
			if err != nil {
				return err
			}
			batches, err := dec.Decode(cmd.Context(), args[0], cfg.DecodeOptions())
			if err != nil {
				return err
			}

			sum, err := runExtract(cmd.Context(), cfg, batches)
			if err != nil {
				return err
			}
			sum.Video = args[0]
			return writeJSON(cmd.OutOrStdout(), sum)
		},
	}

	f := cmd.Flags()
	f.Int("batch-size", 2, "frames per batch")
	f.Int("start", 0, "index of the first frame")
	f.Int("end", -1, "index of the last frame, inclusive (-1 for the last frame)")
	f.Int("stride", 0, "frames between batch starts (0 for batch-size)")
	f.Bool("drop-last", false, "drop a short final batch")
	f.Int("width", 0, "rescale width (requires --height)")
	f.Int("height", 0, "rescale height (requires --width)")
	f.Bool("parallel", false, "run operations on a worker pool")
	f.Int("workers", 0, "worker pool size (0 for GOMAXPROCS)")
	f.Bool("retain", false, "keep the original frame in every record")
	f.StringSlice("ops", nil, "operations to run, in order")
	f.String("sqlite", "", "store results in this SQLite database")
	f.String("parquet", "", "export results to this Parquet file")
	return cmd
}

// applyFlags copies explicitly set flags over the loaded config and
// revalidates it.
func applyFlags(cmd *cobra.Command, cfg *config.PipelineConfig) error {
	fs := cmd.Flags()
	intFlag := func(name string, dst **int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = &v
		}
	}
	boolFlag := func(name string, dst **bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = &v
		}
	}
	stringFlag := func(name string, dst **string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = &v
		}
	}

	intFlag("batch-size", &cfg.BatchSize)
	intFlag("start", &cfg.StartFrame)
	intFlag("end", &cfg.EndFrame)
	intFlag("stride", &cfg.Stride)
	boolFlag("drop-last", &cfg.DropLast)
	intFlag("width", &cfg.Width)
	intFlag("height", &cfg.Height)
	boolFlag("parallel", &cfg.Parallel)
	intFlag("workers", &cfg.Workers)
	boolFlag("retain", &cfg.RetainOriginal)
	if fs.Changed("ops") {
		cfg.Operations, _ = fs.GetStringSlice("ops")
	}
	stringFlag("sqlite", &cfg.SQLitePath)
	stringFlag("parquet", &cfg.ParquetPath)

	return cfg.Validate()
}

// closeInto closes c and records its error in *err unless an earlier error
// is already there.
func closeInto(err *error, c io.Closer) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// runExtract runs the configured operations over batches, writing to the
// configured sinks.
func runExtract(ctx context.Context, cfg *config.PipelineConfig, batches []frame.Batch) (sum *summary, err error) {
	log := monitoring.Component("extract")

	ops, err := cfg.BuildOperations(features.NewRegistry())
	if err != nil {
		return nil, err
	}
	defer features.Close(ops)

	sum = &summary{}
	var sinks []pipeline.Sink

	if path := cfg.GetSQLitePath(); path != "" {
		store, oerr := sqlite.Open(path)
		if oerr != nil {
			return nil, oerr
		}
		defer closeInto(&err, store)
		sinks = append(sinks, store)
		sum.SQLitePath = path
	}

	var pw *parquet.Writer
	if path := cfg.GetParquetPath(); path != "" {
		pw, err = parquet.Create(path)
		if err != nil {
			return nil, err
		}
		defer closeInto(&err, pw)
		sinks = append(sinks, pw)
		sum.ParquetPath = path
	}

	engine, err := pipeline.New(pipeline.Options{
		Data:     batches,
		Ops:      ops,
		Parallel: cfg.GetParallel(),
		Workers:  cfg.GetWorkers(),
		Retain:   cfg.GetRetainOriginal(),
		Sink:     pipeline.MultiSink(sinks...),
	})
	if err != nil {
		return nil, err
	}
	if _, err := engine.Transform(ctx); err != nil {
		return nil, err
	}
	sum.Run = engine.Stats()

	arr, err := engine.AsArray()
	switch {
	case err == nil:
		shape := arr.Shape()
		sum.Shape = shape[:]
		sum.FeatureShapes = make(map[string][]int, shape[2])
		for k, key := range arr.Keys() {
			sum.FeatureShapes[key] = arr.FeatureShape(k)
		}
	case errors.Is(err, pipeline.ErrShapeMismatch):
		log.Warn().Err(err).Msg("results are not a dense array")
	default:
		return nil, fmt.Errorf("reshape results: %w", err)
	}

	if pw != nil {
		sum.ParquetRows = pw.Rows()
	}
	return sum, nil
}
