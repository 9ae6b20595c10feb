package decode

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/framefeatures/internal/frame"
)

// numbered returns n 1x1 frames whose only sample is the frame index.
func numbered(n int) []frame.Frame {
	out := make([]frame.Frame, n)
	for i := range out {
		out[i] = frame.New(1, 1, 1)
		out[i].Pix[0] = float64(i)
	}
	return out
}

func indices(batches []frame.Batch) [][]int {
	out := make([][]int, len(batches))
	for i, b := range batches {
		out[i] = make([]int, len(b))
		for j, fr := range b {
			out[i][j] = int(fr.Pix[0])
		}
	}
	return out
}

func TestBatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frames int
		opts   Options
		want   [][]int
	}{
		{
			name:   "pairs with stride two up to index nine",
			frames: 20,
			opts:   Options{BatchSize: 2, End: 9, Stride: 2},
			want:   [][]int{{0, 1}, {2, 3}, {4, 5}, {6, 7}, {8, 9}},
		},
		{
			name:   "default stride is batch size",
			frames: 7,
			opts:   Options{BatchSize: 3, End: -1},
			want:   [][]int{{0, 1, 2}, {3, 4, 5}, {6}},
		},
		{
			name:   "drop short tail",
			frames: 7,
			opts:   Options{BatchSize: 3, End: -1, DropLast: true},
			want:   [][]int{{0, 1, 2}, {3, 4, 5}},
		},
		{
			name:   "overlapping windows",
			frames: 5,
			opts:   Options{BatchSize: 3, End: -1, Stride: 1, DropLast: true},
			want:   [][]int{{0, 1, 2}, {1, 2, 3}, {2, 3, 4}},
		},
		{
			name:   "sparse sampling",
			frames: 10,
			opts:   Options{BatchSize: 1, Start: 1, End: -1, Stride: 4},
			want:   [][]int{{1}, {5}, {9}},
		},
		{
			name:   "end past the video",
			frames: 3,
			opts:   Options{BatchSize: 2, End: 100},
			want:   [][]int{{0, 1}, {2}},
		},
		{
			name:   "start past the video",
			frames: 3,
			opts:   Options{BatchSize: 2, Start: 5, End: -1},
			want:   [][]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Batch(numbered(tt.frames), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, indices(got))
		})
	}
}

func TestBatch_DoesNotAliasAppend(t *testing.T) {
	t.Parallel()

	frames := numbered(4)
	got, err := Batch(frames, Options{BatchSize: 2, End: -1})
	require.NoError(t, err)
	grown := append(got[0], frame.New(1, 1, 1))
	assert.Len(t, grown, 3)
	assert.Equal(t, 2.0, frames[2].Pix[0])
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultOptions().Validate())

	bad := []Options{
		{BatchSize: 0, End: -1},
		{BatchSize: 1, Start: -1, End: -1},
		{BatchSize: 1, Stride: -2, End: -1},
		{BatchSize: 1, Start: 5, End: 2},
		{BatchSize: 1, End: -1, Width: 64},
		{BatchSize: 1, End: -1, Width: -2, Height: -2},
	}
	for _, o := range bad {
		assert.ErrorIs(t, o.Validate(), ErrOptions, "%+v", o)
		_, err := Batch(numbered(3), o)
		assert.ErrorIs(t, err, ErrOptions)
	}
}

func TestOptions_FrameLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Options{End: -1}.FrameLimit())
	assert.Equal(t, 10, Options{End: 9}.FrameLimit())
}

func TestReadFrames(t *testing.T) {
	t.Parallel()

	raw := []byte{
		1, 2, 3, 4, 5, 6, // frame 0: 1x2 rgb
		7, 8, 9, 10, 11, 12, // frame 1
		13, 14, 15, 16, 17, 18, // frame 2
	}

	frames, err := ReadFrames(bytes.NewReader(raw), 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, []int{1, 2, 3}, frames[1].Shape())
	assert.Equal(t, 7.0, frames[1].At(0, 0, 0))
	assert.Equal(t, 12.0, frames[1].At(0, 1, 2))

	frames, err = ReadFrames(bytes.NewReader(raw), 1, 2, 2)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	_, err = ReadFrames(bytes.NewReader(raw[:8]), 1, 2, 0)
	assert.ErrorContains(t, err, "truncated frame 1")

	frames, err = ReadFrames(bytes.NewReader(nil), 1, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, frames)

	_, err = ReadFrames(bytes.NewReader(raw), 0, 2, 0)
	assert.ErrorIs(t, err, ErrOptions)
}

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()

	args := ffmpegArgs("in.mp4", 64, 48, Options{BatchSize: 2, End: 9, Width: 64, Height: 48})
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-i", "in.mp4",
		"-vf", "scale=64:48",
		"-frames:v", "10",
		"-an", "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1",
	}, args)

	args = ffmpegArgs("in.mp4", 320, 240, Options{BatchSize: 2, End: -1})
	assert.NotContains(t, args, "-vf")
	assert.NotContains(t, args, "-frames:v")
}

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 320, "height": 240,
     "r_frame_rate": "30000/1001", "nb_frames": "300"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "10.010000", "bit_rate": "512000"}
}`

func TestParseProbe(t *testing.T) {
	t.Parallel()

	info, err := parseProbe("clip.mp4", []byte(probeJSON))
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", info.Path)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Equal(t, "h264", info.Codec)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, int64(300), info.Frames)
	assert.Equal(t, int64(512000), info.Bitrate)
	assert.InDelta(t, 10.01, info.Duration.Seconds(), 1e-6)
	assert.True(t, info.HasAudio)

	_, err = parseProbe("clip.mp4", []byte("not json"))
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 25.0, parseFrameRate("25/1"))
	assert.Equal(t, 24.0, parseFrameRate("24"))
	assert.Equal(t, 0.0, parseFrameRate("0/0"))
	assert.Equal(t, 0.0, parseFrameRate("abc"))
}

func TestLimitedBuffer(t *testing.T) {
	t.Parallel()

	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", b.String())
}

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func TestDecoder_Synthetic(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "testsrc.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=32x24:rate=10:duration=2",
		"-pix_fmt", "yuv420p", path)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test video: %v: %s", err, out)
	}

	d, err := New(zerolog.New(os.Stderr).Level(zerolog.WarnLevel))
	require.NoError(t, err)

	info, err := d.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 32, info.Width)
	assert.Equal(t, 24, info.Height)

	batches, err := d.Decode(context.Background(), path, Options{BatchSize: 2, End: 9, Stride: 2})
	require.NoError(t, err)
	require.Len(t, batches, 5)
	for _, b := range batches {
		require.Len(t, b, 2)
		assert.Equal(t, []int{24, 32, 3}, b[0].Shape())
	}

	scaled, err := d.Decode(context.Background(), path, Options{BatchSize: 4, End: 3, Width: 16, Height: 12})
	require.NoError(t, err)
	require.Len(t, scaled, 1)
	assert.Equal(t, []int{12, 16, 3}, scaled[0][0].Shape())
}
