package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reads the duration of a media file.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FrameExtractor renders a single frame of a media file at a position.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, src string, positionSeconds float64, width, height int, dst string) error
}

// FFmpeg probes and extracts frames by shelling out to ffprobe/ffmpeg.
type FFmpeg struct {
	FFprobePath string // defaults to "ffprobe"
	FFmpegPath  string // defaults to "ffmpeg"
}

// NewFFmpeg creates an FFmpeg prober/extractor using binaries on PATH.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{}
}

// Duration probes the container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = bytes.TrimSpace(exitErr.Stderr)
		}
		return 0, fmt.Errorf("ffprobe failed: %v: %s", err, stderr)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned no duration: %w", err)
	}

	return duration, nil
}

// ExtractFrame renders exactly one frame at the given position, scaled to the
// requested resolution, as a JPEG at dst.
func (f *FFmpeg) ExtractFrame(ctx context.Context, src string, positionSeconds float64, width, height int, dst string) error {
	cmd := exec.CommandContext(ctx, f.ffmpeg(),
		"-y",
		"-ss", fmt.Sprintf("%.3f", positionSeconds),
		"-i", src,
		"-frames:v", "1",
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		dst,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg frame extraction failed: %v: %s", err, bytes.TrimSpace(out))
	}

	return nil
}

func (f *FFmpeg) ffprobe() string {
	if f.FFprobePath != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}

func (f *FFmpeg) ffmpeg() string {
	if f.FFmpegPath != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}
