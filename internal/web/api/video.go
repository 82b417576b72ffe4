package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/registry"
	"github.com/adverant/nexus/binwatch-worker/internal/utils"
)

// RegisterVideo mounts the upload and job status routes
func RegisterVideo(g gin.IRouter, uc *Usecase, handler ...gin.HandlerFunc) {
	group := g.Group("", handler...)
	group.POST("/upload", uc.uploadVideo)
	group.GET("/status/:fileId", uc.getStatus)
	group.GET("/results/:fileId", uc.getResults)
	group.POST("/clear", uc.clearUploads)
}

type uploadOutput struct {
	Message string `json:"message"`
	FileID  string `json:"fileId"`
}

type resultsOutput struct {
	Events []models.Event        `json:"events"`
	Frames []*models.FrameRecord `json:"frames"`
}

func (uc *Usecase) uploadVideo(c *gin.Context) {
	ctx := c.Request.Context()
	model := strings.TrimSpace(c.PostForm("model"))

	jobID, videoPath, status, msg := uc.storeVideo(c)
	if status != http.StatusOK {
		abortWithError(c, status, msg)
		return
	}

	if err := uc.Registry.Create(jobID); err != nil {
		slog.ErrorContext(ctx, "failed to register job", "jobId", jobID, "err", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to process video")
		return
	}

	job := models.JobPayload{JobID: jobID, VideoPath: videoPath, Model: model}
	if err := uc.Dispatcher.Dispatch(ctx, job); err != nil {
		slog.ErrorContext(ctx, "failed to dispatch job", "jobId", jobID, "err", err)
		failed := models.NewJob(jobID)
		failed.Status = models.JobStatusFailed
		failed.Message = models.FailedMessage
		failed.ErrorKind = models.ErrorKindDispatch
		if err := uc.Registry.Publish(jobID, failed); err != nil {
			slog.WarnContext(ctx, "could not record dispatch failure", "jobId", jobID, "err", err)
		}
		abortWithError(c, http.StatusInternalServerError, "Failed to process video")
		return
	}

	slog.InfoContext(ctx, "video uploaded", "jobId", jobID, "model", job.ModelOrDefault(""))
	c.JSON(http.StatusOK, uploadOutput{Message: "Video uploaded successfully", FileID: jobID})
}

// storeVideo saves the multipart upload or downloads videoUrl. It returns the
// job id, the stored path, and an HTTP status with a message on failure.
func (uc *Usecase) storeVideo(c *gin.Context) (jobID, videoPath string, status int, msg string) {
	ctx := c.Request.Context()

	file, header, err := c.Request.FormFile("video")
	if err == nil {
		defer file.Close()
		if !strings.HasPrefix(header.Header.Get("Content-Type"), "video/") {
			return "", "", http.StatusBadRequest, "Not a video file"
		}

		jobID = models.NewJobID(header.Filename)
		videoPath, err = utils.WriteFileWithLimit(uc.Conf.UploadDir, jobID, file, uc.Conf.MaxVideoSize)
		if err != nil {
			var validationErr *utils.ValidationError
			if errors.As(err, &validationErr) {
				return "", "", http.StatusRequestEntityTooLarge, "Video file too large"
			}
			slog.ErrorContext(ctx, "failed to store upload", "err", err)
			return "", "", http.StatusInternalServerError, "Failed to process video"
		}
		return jobID, videoPath, http.StatusOK, ""
	}

	videoURL := strings.TrimSpace(c.PostForm("videoUrl"))
	if videoURL == "" || uc.Downloader == nil {
		return "", "", http.StatusBadRequest, "No video file uploaded"
	}

	jobID = models.NewJobID(remoteFileName(videoURL))
	videoPath, err = uc.Downloader.DownloadFile(ctx, videoURL, jobID)
	if err != nil {
		slog.WarnContext(ctx, "failed to download video", "url", videoURL, "err", err)
		var validationErr *utils.ValidationError
		if errors.As(err, &validationErr) && validationErr.Field == "Content-Type" {
			return "", "", http.StatusBadRequest, "Not a video file"
		}
		return "", "", http.StatusBadRequest, "Failed to download video"
	}
	return jobID, videoPath, http.StatusOK, ""
}

func remoteFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "video"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "video"
	}
	return name
}

func (uc *Usecase) getStatus(c *gin.Context) {
	job, err := uc.Registry.Snapshot(c.Param("fileId"))
	if err != nil {
		abortWithError(c, http.StatusNotFound, "File not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

func (uc *Usecase) getResults(c *gin.Context) {
	job, err := uc.Registry.Snapshot(c.Param("fileId"))
	if errors.Is(err, registry.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "File not found")
		return
	}
	if err != nil || job.Status != models.JobStatusCompleted {
		abortWithError(c, http.StatusBadRequest, "Processing not complete")
		return
	}
	c.JSON(http.StatusOK, resultsOutput{Events: job.Events, Frames: job.Frames})
}

func (uc *Usecase) clearUploads(c *gin.Context) {
	if err := utils.ClearUploads(uc.Conf.UploadDir); err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to clear uploads", "err", err)
		abortWithError(c, http.StatusInternalServerError, "Failed to clear uploads")
		return
	}
	uc.Registry.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Uploads cleared successfully"})
}
