package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/banshee-data/framefeatures/internal/decode"
	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/features"
)

// EnvPrefix prefixes environment overrides, e.g. FEATUREX_BATCH_SIZE or
// FEATUREX_ORIENTATION_MASK.
const EnvPrefix = "FEATUREX"

// maxConfigSize bounds config files read from disk.
const maxConfigSize = 1 * 1024 * 1024

// DefaultOperations are run when a config names none.
var DefaultOperations = []string{features.KeyGrayscale, features.KeyMaxPixel, features.KeyBatchLength}

// PipelineConfig is the run configuration of the extract command. Unset
// fields are nil and resolve to defaults through the Get* methods, so
// partial configs are safe.
type PipelineConfig struct {
	// Decoding and batching
	BatchSize  *int  `json:"batch_size,omitempty"`
	StartFrame *int  `json:"start_frame,omitempty"`
	EndFrame   *int  `json:"end_frame,omitempty"` // inclusive; negative means last frame
	Stride     *int  `json:"stride,omitempty"`    // 0 means batch_size
	DropLast   *bool `json:"drop_last,omitempty"`
	Width      *int  `json:"width,omitempty"`
	Height     *int  `json:"height,omitempty"`

	// Engine
	Parallel       *bool    `json:"parallel,omitempty"`
	Workers        *int     `json:"workers,omitempty"`
	RetainOriginal *bool    `json:"retain_original,omitempty"`
	Operations     []string `json:"operations,omitempty"`

	Orientation OrientationSettings `json:"orientation"`

	// Sinks; empty disables the sink.
	SQLitePath  *string `json:"sqlite_path,omitempty"`
	ParquetPath *string `json:"parquet_path,omitempty"`
}

// OrientationSettings parameterise the bowtie and noise filters.
type OrientationSettings struct {
	Falloff           *string  `json:"falloff,omitempty"`
	CenterOrientation *float64 `json:"center_orientation,omitempty"`
	OrientationWidth  *float64 `json:"orientation_width,omitempty"`
	LowCutoff         *float64 `json:"low_cutoff,omitempty"`
	HighCutoff        *float64 `json:"high_cutoff,omitempty"`
	TargetSize        *int     `json:"target_size,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a config with every field unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig reads path (json, yaml or toml) and applies FEATUREX_*
// environment overrides. An empty path loads from the environment only.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		cleanPath := filepath.Clean(path)
		switch ext := filepath.Ext(cleanPath); ext {
		case ".json", ".yaml", ".yml", ".toml":
		default:
			return nil, fmt.Errorf("config file must be .json, .yaml or .toml, got %q", ext)
		}

		fileInfo, err := os.Stat(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if fileInfo.Size() > maxConfigSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
		}

		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// fromViper copies only the keys that are set, leaving the rest nil. A set
// value that does not parse as its key's type is a config error naming the
// key, never a silent zero.
func fromViper(v *viper.Viper) (*PipelineConfig, error) {
	cfg := EmptyPipelineConfig()
	var firstErr error
	fail := func(key string, raw interface{}, err error) {
		if firstErr == nil {
			firstErr = &feature.ConfigError{Key: key, Reason: fmt.Sprintf("invalid value %q: %v", cast.ToString(raw), err)}
		}
	}
	intKey := func(key string) *int {
		if !v.IsSet(key) {
			return nil
		}
		raw := v.Get(key)
		n, err := cast.ToIntE(raw)
		if err != nil {
			fail(key, raw, err)
			return nil
		}
		return ptrInt(n)
	}
	boolKey := func(key string) *bool {
		if !v.IsSet(key) {
			return nil
		}
		raw := v.Get(key)
		b, err := cast.ToBoolE(raw)
		if err != nil {
			fail(key, raw, err)
			return nil
		}
		return ptrBool(b)
	}
	floatKey := func(key string) *float64 {
		if !v.IsSet(key) {
			return nil
		}
		raw := v.Get(key)
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			fail(key, raw, err)
			return nil
		}
		return ptrFloat64(f)
	}
	stringKey := func(key string) *string {
		if !v.IsSet(key) {
			return nil
		}
		raw := v.Get(key)
		str, err := cast.ToStringE(raw)
		if err != nil {
			fail(key, raw, err)
			return nil
		}
		return ptrString(str)
	}

	cfg.BatchSize = intKey("batch_size")
	cfg.StartFrame = intKey("start_frame")
	cfg.EndFrame = intKey("end_frame")
	cfg.Stride = intKey("stride")
	cfg.DropLast = boolKey("drop_last")
	cfg.Width = intKey("width")
	cfg.Height = intKey("height")
	cfg.Parallel = boolKey("parallel")
	cfg.Workers = intKey("workers")
	cfg.RetainOriginal = boolKey("retain_original")
	if v.IsSet("operations") {
		raw := v.Get("operations")
		ops, err := cast.ToStringSliceE(raw)
		if err != nil {
			fail("operations", raw, err)
		}
		cfg.Operations = ops
	}
	cfg.Orientation = OrientationSettings{
		Falloff:           stringKey("orientation.falloff"),
		CenterOrientation: floatKey("orientation.center_orientation"),
		OrientationWidth:  floatKey("orientation.orientation_width"),
		LowCutoff:         floatKey("orientation.low_cutoff"),
		HighCutoff:        floatKey("orientation.high_cutoff"),
		TargetSize:        intKey("orientation.target_size"),
	}
	cfg.SQLitePath = stringKey("sqlite_path")
	cfg.ParquetPath = stringKey("parquet_path")
	if firstErr != nil {
		return nil, firstErr
	}
	return cfg, nil
}

// Validate checks set values, including the closed sets of operation names
// and falloff shapes.
func (c *PipelineConfig) Validate() error {
	if err := c.DecodeOptions().Validate(); err != nil {
		return err
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	reg := features.NewRegistry()
	seen := make(map[string]bool)
	for _, name := range c.GetOperations() {
		if !reg.Has(name) {
			return &feature.ConfigError{Key: name, Reason: fmt.Sprintf("unknown operation (known: %s)", strings.Join(reg.Names(), ", "))}
		}
		if seen[name] {
			return &feature.ConfigError{Key: name, Reason: "listed more than once"}
		}
		seen[name] = true
	}

	if c.Orientation.Falloff != nil && !features.Falloff(*c.Orientation.Falloff).IsValid() {
		return &feature.ConfigError{Key: "orientation.falloff", Reason: fmt.Sprintf("unknown falloff %q", *c.Orientation.Falloff)}
	}
	return c.OrientationConfig(features.MaskBowtie).Validate()
}

// GetBatchSize returns batch_size or the default of 2.
func (c *PipelineConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 2
	}
	return *c.BatchSize
}

// GetStartFrame returns start_frame or 0.
func (c *PipelineConfig) GetStartFrame() int {
	if c.StartFrame == nil {
		return 0
	}
	return *c.StartFrame
}

// GetEndFrame returns end_frame or -1 (the last frame).
func (c *PipelineConfig) GetEndFrame() int {
	if c.EndFrame == nil {
		return -1
	}
	return *c.EndFrame
}

// GetStride returns stride or 0 (non-overlapping batches).
func (c *PipelineConfig) GetStride() int {
	if c.Stride == nil {
		return 0
	}
	return *c.Stride
}

func (c *PipelineConfig) GetDropLast() bool {
	return c.DropLast != nil && *c.DropLast
}

// GetSize returns the rescale size, or 0x0 for the native size.
func (c *PipelineConfig) GetSize() (width, height int) {
	if c.Width != nil {
		width = *c.Width
	}
	if c.Height != nil {
		height = *c.Height
	}
	return width, height
}

func (c *PipelineConfig) GetParallel() bool {
	return c.Parallel != nil && *c.Parallel
}

// GetWorkers returns workers or 0 (GOMAXPROCS).
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

func (c *PipelineConfig) GetRetainOriginal() bool {
	return c.RetainOriginal != nil && *c.RetainOriginal
}

// GetOperations returns the operation names or DefaultOperations.
func (c *PipelineConfig) GetOperations() []string {
	if len(c.Operations) == 0 {
		return append([]string(nil), DefaultOperations...)
	}
	return append([]string(nil), c.Operations...)
}

func (c *PipelineConfig) GetSQLitePath() string {
	if c.SQLitePath == nil {
		return ""
	}
	return *c.SQLitePath
}

func (c *PipelineConfig) GetParquetPath() string {
	if c.ParquetPath == nil {
		return ""
	}
	return *c.ParquetPath
}

// DecodeOptions converts the batching fields for the decoder.
func (c *PipelineConfig) DecodeOptions() decode.Options {
	w, h := c.GetSize()
	return decode.Options{
		BatchSize: c.GetBatchSize(),
		Start:     c.GetStartFrame(),
		End:       c.GetEndFrame(),
		Stride:    c.GetStride(),
		Width:     w,
		Height:    h,
		DropLast:  c.GetDropLast(),
	}
}

// OrientationConfig overlays the orientation settings on the defaults for
// mask.
func (c *PipelineConfig) OrientationConfig(mask features.Mask) features.OrientationConfig {
	cfg := features.DefaultOrientationConfig(mask)
	o := c.Orientation
	if o.Falloff != nil {
		cfg.Falloff = features.Falloff(*o.Falloff)
	}
	if o.CenterOrientation != nil {
		cfg.CenterOrientation = *o.CenterOrientation
	}
	if o.OrientationWidth != nil {
		cfg.OrientationWidth = *o.OrientationWidth
	}
	if o.LowCutoff != nil {
		cfg.LowCutoff = *o.LowCutoff
	}
	if o.HighCutoff != nil {
		cfg.HighCutoff = *o.HighCutoff
	}
	if o.TargetSize != nil {
		cfg.TargetSize = *o.TargetSize
	}
	return cfg
}

// BuildOperations constructs the configured operations from reg.
func (c *PipelineConfig) BuildOperations(reg *features.Registry) ([]feature.Op, error) {
	return reg.Build(c.GetOperations(), features.Settings{Orientation: c.OrientationConfig(features.MaskBowtie)})
}
