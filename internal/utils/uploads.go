package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ClearUploads deletes extracted frames and every stored upload under uploadDir.
// The directory itself is kept.
func ClearUploads(uploadDir string) error {
	framesDir := filepath.Join(uploadDir, "frames")
	if err := os.RemoveAll(framesDir); err != nil {
		return fmt.Errorf("failed to clear frames directory: %w", err)
	}

	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read upload directory: %w", err)
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(uploadDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
