package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adverant/nexus/binwatch-worker/internal/storage"
)

// RegisterFeedback mounts the reviewer feedback routes
func RegisterFeedback(g gin.IRouter, uc *Usecase, handler ...gin.HandlerFunc) {
	group := g.Group("", handler...)
	group.POST("/feedback/:fileId/:frameId", uc.saveFrameFeedback)
	group.POST("/event-feedback/:fileId/:eventId", uc.saveEventFeedback)
}

type feedbackInput struct {
	HumanFeedback *string `json:"humanFeedback"`
}

func bindFeedback(c *gin.Context) (string, bool) {
	var in feedbackInput
	if err := c.ShouldBindJSON(&in); err != nil || in.HumanFeedback == nil {
		abortWithError(c, http.StatusBadRequest, "humanFeedback is required")
		return "", false
	}
	return *in.HumanFeedback, true
}

func (uc *Usecase) saveFrameFeedback(c *gin.Context) {
	feedback, ok := bindFeedback(c)
	if !ok {
		return
	}
	jobID, frameID := c.Param("fileId"), c.Param("frameId")

	frame, err := uc.Registry.SetFrameFeedback(jobID, frameID, feedback)
	if err != nil {
		abortWithError(c, http.StatusNotFound, "Frame not found")
		return
	}

	uc.mirrorFeedback(c.Request.Context(), jobID, func(ctx context.Context) error {
		return uc.Archive.UpdateFrameFeedback(ctx, jobID, frameID, feedback)
	})
	c.JSON(http.StatusOK, gin.H{"message": "Feedback saved", "frame": frame})
}

func (uc *Usecase) saveEventFeedback(c *gin.Context) {
	feedback, ok := bindFeedback(c)
	if !ok {
		return
	}
	jobID, eventID := c.Param("fileId"), c.Param("eventId")

	event, err := uc.Registry.SetEventFeedback(jobID, eventID, feedback)
	if err != nil {
		abortWithError(c, http.StatusNotFound, "Event not found")
		return
	}

	uc.mirrorFeedback(c.Request.Context(), jobID, func(ctx context.Context) error {
		return uc.Archive.UpdateEventFeedback(ctx, jobID, eventID, feedback)
	})
	c.JSON(http.StatusOK, gin.H{"message": "Event feedback saved", "event": event})
}

// mirrorFeedback copies feedback into the archive. Jobs still processing have
// no archived rows yet, so ErrNotArchived is expected and ignored.
func (uc *Usecase) mirrorFeedback(ctx context.Context, jobID string, update func(context.Context) error) {
	if uc.Archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := update(ctx); err != nil && !errors.Is(err, storage.ErrNotArchived) {
		slog.WarnContext(ctx, "failed to archive feedback", "jobId", jobID, "err", err)
	}
}
