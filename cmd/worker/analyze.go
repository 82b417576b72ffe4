package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/processor"
)

var analyzeModel string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video>",
	Short: "Analyze a local video and print the finished job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := runAnalyze(cmd.Context(), cfg, args[0], analyzeModel)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if job.Status != models.JobStatusCompleted {
			return fmt.Errorf("analysis %s (%s)", job.Status, job.ErrorKind)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "vision model for this run (default: --vision-model)")
	analyzeCmd.Flags().IntVar(&cfg.SampleIntervalSeconds, "interval", cfg.SampleIntervalSeconds, "seconds between sampled frames")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, config models.Config, videoPath, model string) (models.Job, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return models.Job{}, fmt.Errorf("cannot read video: %w", err)
	}

	p, err := newPipeline(ctx, config)
	if err != nil {
		return models.Job{}, err
	}
	defer p.Close()

	jobID := models.NewJobID(filepath.Base(videoPath))
	if err := p.registry.Create(jobID); err != nil {
		return models.Job{}, err
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Analyzing "+filepath.Base(videoPath)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	p.processor.AddNotifier(progressBarNotifier(bar))

	if err := p.processor.Process(ctx, models.JobPayload{JobID: jobID, VideoPath: videoPath, Model: model}); err != nil {
		slog.Debug("processing returned error", "jobId", jobID, "err", err)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	return p.registry.Snapshot(jobID)
}

// progressBarNotifier advances bar as frames complete
func progressBarNotifier(bar *progressbar.ProgressBar) processor.NotifierFunc {
	return func(ctx context.Context, update models.ProgressUpdate) {
		if update.TotalFrames > 0 && bar.GetMax() != update.TotalFrames {
			bar.ChangeMax(update.TotalFrames)
		}
		bar.Set(update.ProcessedFrames)
	}
}
