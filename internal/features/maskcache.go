package features

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// maskCacheBytes bounds the memory held by cached masks.
const maskCacheBytes = 64 << 20

// maskCache holds computed spectrum multipliers. Entries are never mutated
// after insertion, so concurrent readers may share them. Writes are
// asynchronous: a mask may be computed more than once before it becomes
// visible.
type maskCache struct {
	raw *ristretto.Cache
}

func newMaskCache() (*maskCache, error) {
	raw, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     maskCacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create mask cache: %w", err)
	}
	return &maskCache{raw: raw}, nil
}

func maskKey(cfg OrientationConfig, h, w int) string {
	if cfg.Mask == MaskNoise {
		return fmt.Sprintf("noise|%dx%d", h, w)
	}
	return fmt.Sprintf("bowtie|%s|%g|%g|%g|%g|%dx%d",
		cfg.Falloff, cfg.CenterOrientation, cfg.OrientationWidth, cfg.LowCutoff, cfg.HighCutoff, h, w)
}

// get returns the multiplier for an h x w spectrum, computing and caching it
// on a miss.
func (c *maskCache) get(cfg OrientationConfig, h, w int) []float64 {
	key := maskKey(cfg, h, w)
	if v, ok := c.raw.Get(key); ok {
		return v.([]float64)
	}
	var m []float64
	if cfg.Mask == MaskNoise {
		m = noiseAmplitude(h, w)
	} else {
		m = bowtieMultiplier(cfg, h, w)
	}
	c.raw.Set(key, m, int64(len(m)*8))
	return m
}

// wait blocks until pending writes are visible.
func (c *maskCache) wait() { c.raw.Wait() }

func (c *maskCache) close() { c.raw.Close() }
