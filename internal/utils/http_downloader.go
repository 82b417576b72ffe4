package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPDownloader fetches remote videos into the upload directory
type HTTPDownloader struct {
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
	maxFileSize  int64 // Maximum file size in bytes
	allowedTypes []string
	destDir      string
}

// HTTPDownloaderConfig holds configuration for HTTP downloader
type HTTPDownloaderConfig struct {
	MaxRetries   int           // Default: 3
	RetryDelay   time.Duration // Default: 2s
	Timeout      time.Duration // Default: 5min
	MaxFileSize  int64         // Default: 2GB
	AllowedTypes []string      // Default: ["video/"]
	DestDir      string        // Default: uploads
}

// NewHTTPDownloader creates a new HTTP downloader with default configuration
func NewHTTPDownloader(config *HTTPDownloaderConfig) *HTTPDownloader {
	if config == nil {
		config = &HTTPDownloaderConfig{}
	}

	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 2 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 2 * 1024 * 1024 * 1024
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = []string{"video/"}
	}
	if config.DestDir == "" {
		config.DestDir = "uploads"
	}

	return &HTTPDownloader{
		client: &http.Client{
			Timeout: config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		maxFileSize:  config.MaxFileSize,
		allowedTypes: config.AllowedTypes,
		destDir:      config.DestDir,
	}
}

// DownloadFile downloads url into the destination directory as fileName
func (d *HTTPDownloader) DownloadFile(ctx context.Context, url, fileName string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		filePath, err := d.downloadAttempt(ctx, url, fileName)
		if err == nil {
			return filePath, nil
		}

		lastErr = err

		// Validation errors and 4xx will not change on retry
		if !d.isRetryableError(err) {
			return "", fmt.Errorf("download failed (non-retryable): %w", err)
		}

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}

	return "", fmt.Errorf("download failed after %d attempts: %w", d.maxRetries, lastErr)
}

func (d *HTTPDownloader) downloadAttempt(ctx context.Context, url, fileName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &ValidationError{Field: "url", Value: url, Message: err.Error()}
	}
	req.Header.Set("User-Agent", "binwatch-worker/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !IsAllowedContentType(contentType, d.allowedTypes) {
		return "", &ValidationError{
			Field:   "Content-Type",
			Value:   contentType,
			Message: "unsupported content type (expected video/*)",
		}
	}

	if resp.ContentLength > d.maxFileSize {
		return "", &ValidationError{
			Field:   "Content-Length",
			Value:   fmt.Sprintf("%d bytes", resp.ContentLength),
			Message: fmt.Sprintf("file too large (max: %d bytes)", d.maxFileSize),
		}
	}

	return WriteFileWithLimit(d.destDir, fileName, resp.Body, d.maxFileSize)
}

// WriteFileWithLimit streams src into dir/fileName, refusing anything over limit bytes.
// The file only appears under its final name once fully written.
func WriteFileWithLimit(dir, fileName string, src io.Reader, limit int64) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := copyWithLimit(tmp, src, limit); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	finalPath := filepath.Join(dir, filepath.Base(fileName))
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move upload into place: %w", err)
	}
	return finalPath, nil
}

func copyWithLimit(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	written, err := io.Copy(dst, io.LimitReader(src, limit+1)) // +1 to detect overflow
	if err != nil {
		return written, fmt.Errorf("copy failed: %w", err)
	}

	if written > limit {
		return written, &ValidationError{
			Field:   "file_size",
			Value:   fmt.Sprintf("%d bytes", written),
			Message: fmt.Sprintf("file exceeded size limit (max: %d bytes)", limit),
		}
	}

	return written, nil
}

// IsAllowedContentType checks a MIME type against allowed prefixes. Empty is allowed
// because some servers don't set it.
func IsAllowedContentType(contentType string, allowed []string) bool {
	if contentType == "" {
		return true
	}

	for _, prefix := range allowed {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}

	return false
}

func (d *HTTPDownloader) isRetryableError(err error) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	return true
}

// HTTPError represents an HTTP error
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %s)", e.Field, e.Message, e.Value)
}
