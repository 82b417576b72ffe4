package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/storage"
)

var showCmd = &cobra.Command{
	Use:   "show <jobId>",
	Short: "Print an archived job, with reviewer feedback, as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.PostgresURL == "" {
			return errors.New("show needs an archive: set POSTGRES_URL or --db")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		sm, err := storage.NewStorageManager(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer sm.Close()

		return showJob(ctx, sm, args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

// jobLoader reads finished jobs back from the archive
type jobLoader interface {
	LoadJob(ctx context.Context, jobID string) (models.Job, error)
}

func showJob(ctx context.Context, loader jobLoader, jobID string, w io.Writer) error {
	job, err := loader.LoadJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotArchived) {
		return fmt.Errorf("job %s is not in the archive", jobID)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
