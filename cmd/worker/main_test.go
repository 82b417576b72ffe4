package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "BATCH_CONCURRENCY", "BATCH_DELAY_MS", "VISION_MODEL", "DISPATCH_MODE", "VISION_RPS", "MAX_VIDEO_SIZE"} {
		t.Setenv(key, "")
	}

	c := loadConfig()
	if c.Port != 3000 || c.BatchConcurrency != 5 || c.BatchDelay != 700*time.Millisecond {
		t.Errorf("defaults = %+v", c)
	}
	if c.VisionModel != models.DefaultVisionModel || c.DispatchMode != models.DispatchInline {
		t.Errorf("model/dispatch = %s/%s", c.VisionModel, c.DispatchMode)
	}
	if c.VisionRetries != 0 || c.VisionRequestsPerSec != 0 {
		t.Errorf("pacing should be off by default: %+v", c)
	}
	if c.MaxVideoSize != 2*1024*1024*1024 {
		t.Errorf("MaxVideoSize = %d", c.MaxVideoSize)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("BATCH_DELAY_MS", "0")
	t.Setenv("VISION_RPS", "2.5")
	t.Setenv("VISION_TIMEOUT_SECONDS", "30")
	t.Setenv("DISPATCH_MODE", "queue")
	t.Setenv("HTTP_DEBUG", "yes")
	t.Setenv("BATCH_CONCURRENCY", "not-a-number")

	c := loadConfig()
	if c.Port != 8080 || c.BatchDelay != 0 || c.VisionRequestsPerSec != 2.5 {
		t.Errorf("config = %+v", c)
	}
	if c.VisionTimeout != 30*time.Second || c.DispatchMode != models.DispatchQueue || !c.HTTPDebug {
		t.Errorf("config = %+v", c)
	}
	if c.BatchConcurrency != 5 {
		t.Errorf("bad int should fall back to default, got %d", c.BatchConcurrency)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewDispatcherErrors(t *testing.T) {
	ctx := context.Background()

	if _, _, err := newDispatcher(ctx, models.Config{DispatchMode: "carrier-pigeon"}, nil); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, _, err := newDispatcher(ctx, models.Config{DispatchMode: models.DispatchQueue}, nil); err == nil {
		t.Error("queue mode without Redis accepted")
	}
}

func TestRunAnalyzeMissingVideo(t *testing.T) {
	if _, err := runAnalyze(context.Background(), models.Config{UploadDir: t.TempDir()}, "/nonexistent/clip.mp4", ""); err == nil {
		t.Error("expected error for missing video")
	}
}

func TestProgressBarNotifier(t *testing.T) {
	bar := progressbar.NewOptions(-1, progressbar.OptionSetWriter(io.Discard))
	notify := progressBarNotifier(bar)

	notify(context.Background(), models.ProgressUpdate{TotalFrames: 10, ProcessedFrames: 0})
	notify(context.Background(), models.ProgressUpdate{TotalFrames: 10, ProcessedFrames: 4})

	if bar.GetMax() != 10 {
		t.Errorf("max = %d", bar.GetMax())
	}
	if got := bar.State().CurrentNum; got != 4 {
		t.Errorf("current = %d", got)
	}
}

type deadlineRecorder struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineRecorder) HealthCheck(ctx context.Context) error {
	d.deadline, d.ok = ctx.Deadline()
	return nil
}

func TestCheckVisionBoundsStartupProbe(t *testing.T) {
	rec := &deadlineRecorder{}
	start := time.Now()
	if err := checkVision(context.Background(), rec); err != nil {
		t.Fatalf("checkVision: %v", err)
	}
	if !rec.ok {
		t.Fatal("health check ran without a deadline")
	}
	if left := rec.deadline.Sub(start); left > visionHealthTimeout+time.Second {
		t.Errorf("health check deadline %v away, want at most %v", left, visionHealthTimeout)
	}
}
