package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DecodeProbeError means the video duration could not be determined
type DecodeProbeError struct {
	VideoPath string
	Err       error
}

func (e *DecodeProbeError) Error() string {
	return fmt.Sprintf("ffprobe could not read duration of %s: %v", e.VideoPath, e.Err)
}

func (e *DecodeProbeError) Unwrap() error { return e.Err }

// DecodeError means ffmpeg ran but exited non-zero
type DecodeError struct {
	ExitCode int
	Stderr   string
}

func (e *DecodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, e.Stderr)
}

// DecodeSpawnError means ffmpeg could not be launched at all
type DecodeSpawnError struct {
	Err error
}

func (e *DecodeSpawnError) Error() string {
	return fmt.Sprintf("failed to launch ffmpeg: %v", e.Err)
}

func (e *DecodeSpawnError) Unwrap() error { return e.Err }

// FFmpegHelper provides utilities for FFmpeg operations
type FFmpegHelper struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegHelper creates a new FFmpeg helper. Empty paths are resolved from PATH.
func NewFFmpegHelper(ffmpegPath, ffprobePath string) (*FFmpegHelper, error) {
	var err error
	if ffmpegPath == "" {
		if ffmpegPath, err = exec.LookPath("ffmpeg"); err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}
	if ffprobePath == "" {
		if ffprobePath, err = exec.LookPath("ffprobe"); err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}

	return &FFmpegHelper{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// GetVideoDuration returns video duration in seconds
func (h *FFmpegHelper) GetVideoDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, h.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &DecodeProbeError{VideoPath: videoPath, Err: err}
	}

	durationStr := strings.TrimSpace(string(output))
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, &DecodeProbeError{VideoPath: videoPath, Err: fmt.Errorf("failed to parse duration %q: %w", durationStr, err)}
	}

	return duration, nil
}

// ExtractFramesAtInterval writes one still every intervalSeconds into a fresh
// outputDir and returns the produced paths in frame order.
func (h *FFmpegHelper) ExtractFramesAtInterval(ctx context.Context, videoPath string, intervalSeconds int, outputDir string) ([]string, error) {
	if intervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid sampling interval: %d", intervalSeconds)
	}
	if err := h.Cleanup(outputDir); err != nil {
		return nil, fmt.Errorf("failed to clear stale frames: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.ffmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSeconds),
		"-frame_pts", "1",
		"-f", "image2",
		filepath.Join(outputDir, "frame_%d.jpg"),
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &DecodeError{ExitCode: exitErr.ExitCode(), Stderr: lastLine(stderr.String())}
		}
		return nil, &DecodeSpawnError{Err: err}
	}

	return collectFramePaths(outputDir)
}

// EncodeFrameToBase64 reads a frame and encodes it to base64
func EncodeFrameToBase64(framePath string) (string, error) {
	data, err := os.ReadFile(framePath)
	if err != nil {
		return "", fmt.Errorf("failed to read frame: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeFrameToDataURI wraps the encoded frame for vision chat requests
func EncodeFrameToDataURI(framePath string) (string, error) {
	encoded, err := EncodeFrameToBase64(framePath)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + encoded, nil
}

// Cleanup removes extracted frames for a job
func (h *FFmpegHelper) Cleanup(outputDir string) error {
	return os.RemoveAll(outputDir)
}

// collectFramePaths lists frame_<n>.jpg files sorted by n
func collectFramePaths(outputDir string) ([]string, error) {
	files, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory: %w", err)
	}

	type numbered struct {
		path string
		n    int
	}
	var frames []numbered
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "frame_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame_"), ".jpg"))
		if err != nil {
			continue
		}
		frames = append(frames, numbered{path: filepath.Join(outputDir, name), n: n})
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].n < frames[j].n })

	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.path
	}
	return paths, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
