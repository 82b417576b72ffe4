package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// DefaultSampleInterval is the spacing between sampled stills, in seconds
const DefaultSampleInterval = 5

// Decoder is the subset of the FFmpeg helper the extractor needs
type Decoder interface {
	GetVideoDuration(ctx context.Context, videoPath string) (float64, error)
	ExtractFramesAtInterval(ctx context.Context, videoPath string, intervalSeconds int, outputDir string) ([]string, error)
}

// FrameExtractor turns a video into an ordered list of sampled frames
type FrameExtractor struct {
	decoder   Decoder
	framesDir string
	interval  int
}

// NewFrameExtractor creates a new frame extractor writing stills under framesDir
func NewFrameExtractor(decoder Decoder, framesDir string, intervalSeconds int) *FrameExtractor {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultSampleInterval
	}
	return &FrameExtractor{
		decoder:   decoder,
		framesDir: framesDir,
		interval:  intervalSeconds,
	}
}

// OutputDir is the job-scoped directory stills for videoPath are written to
func (fe *FrameExtractor) OutputDir(videoPath string) string {
	base := filepath.Base(videoPath)
	return filepath.Join(fe.framesDir, strings.TrimSuffix(base, filepath.Ext(base)))
}

// ExtractFrames probes the video, samples one still per interval and assigns
// index and timestamp by position. A video shorter than one interval yields no
// frames.
func (fe *FrameExtractor) ExtractFrames(ctx context.Context, videoPath string) ([]models.Frame, error) {
	duration, err := fe.decoder.GetVideoDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "video probed", "video", videoPath, "durationSeconds", duration)

	if duration < float64(fe.interval) {
		return []models.Frame{}, nil
	}

	framePaths, err := fe.decoder.ExtractFramesAtInterval(ctx, videoPath, fe.interval, fe.OutputDir(videoPath))
	if err != nil {
		return nil, fmt.Errorf("frame extraction failed: %w", err)
	}

	frames := make([]models.Frame, len(framePaths))
	for i, path := range framePaths {
		frames[i] = models.Frame{
			Index:     i,
			Timestamp: models.FormatTimestamp(i * fe.interval),
			ImagePath: path,
		}
	}

	slog.InfoContext(ctx, "frames extracted", "video", videoPath, "frames", len(frames), "intervalSeconds", fe.interval)
	return frames, nil
}
