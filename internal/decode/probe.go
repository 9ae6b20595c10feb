package decode

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// VideoInfo contains metadata about a video file.
type VideoInfo struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	FPS      float64       `json:"fps"`
	Frames   int64         `json:"frames"`
	Codec    string        `json:"codec"`
	Bitrate  int64         `json:"bitrate"`
	HasAudio bool          `json:"has_audio"`
}

// Probe extracts metadata from a video file with ffprobe.
func (d *Decoder) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, d.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(path, output)
}

// probeResult matches the subset of ffprobe JSON output that is used.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
}

func parseProbe(path string, output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{Path: path}
	if dur, err := cast.ToFloat64E(probe.Format.Duration); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}
	if br, err := cast.ToInt64E(probe.Format.BitRate); err == nil {
		info.Bitrate = br
	}

	video := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if video {
				continue
			}
			video = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.Codec = stream.CodecName
			info.FPS = parseFrameRate(stream.RFrameRate)
			if n, err := cast.ToInt64E(stream.NbFrames); err == nil {
				info.Frames = n
			}
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

// parseFrameRate converts an ffprobe rate such as "30000/1001" or "25".
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := cast.ToFloat64E(num)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := cast.ToFloat64E(den)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
