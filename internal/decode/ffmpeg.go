package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/banshee-data/framefeatures/internal/frame"
)

// stderrLimit bounds how much ffmpeg diagnostic output is kept for errors.
const stderrLimit = 8 << 10

// Decoder runs ffmpeg and ffprobe.
type Decoder struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
}

// New locates ffmpeg and ffprobe on PATH.
func New(logger zerolog.Logger) (*Decoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &Decoder{
		logger:      logger.With().Str("component", "decode").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// Decode probes path, decodes the frames opts asks for and groups them into
// batches.
func (d *Decoder) Decode(ctx context.Context, path string, opts Options) ([]frame.Batch, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	width, height := opts.Width, opts.Height
	if width == 0 {
		info, err := d.Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		if info.Width == 0 || info.Height == 0 {
			return nil, fmt.Errorf("decode %s: no video stream", path)
		}
		width, height = info.Width, info.Height
	}

	args := ffmpegArgs(path, width, height, opts)
	d.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frames, readErr := ReadFrames(stdout, height, width, opts.FrameLimit())
	if readErr != nil {
		// Unblock ffmpeg if it is still writing.
		_, _ = io.Copy(io.Discard, stdout)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg execution failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if readErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, readErr)
	}

	batches, err := Batch(frames, opts)
	if err != nil {
		return nil, err
	}
	d.logger.Info().
		Str("path", path).
		Int("frames", len(frames)).
		Int("batches", len(batches)).
		Int("width", width).
		Int("height", height).
		Msg("decoded video")
	return batches, nil
}

func ffmpegArgs(path string, width, height int, opts Options) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", path}
	if opts.Width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", width, height))
	}
	if n := opts.FrameLimit(); n > 0 {
		args = append(args, "-frames:v", strconv.Itoa(n))
	}
	return append(args, "-an", "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1")
}

// ReadFrames reads packed rgb24 frames of the given size until EOF, or until
// limit frames have been read when limit is positive. A trailing partial
// frame is an error.
func ReadFrames(r io.Reader, height, width, limit int) ([]frame.Frame, error) {
	size := height * width * 3
	if size <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrOptions, width, height)
	}
	var frames []frame.Frame
	buf := make([]byte, size)
	for limit <= 0 || len(frames) < limit {
		_, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame %d", len(frames))
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", len(frames), err)
		}
		fr, err := frame.FromRGB24(height, width, buf)
		if err != nil {
			return nil, err
		}
		frames = append(frames, fr)
	}
	return frames, nil
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
