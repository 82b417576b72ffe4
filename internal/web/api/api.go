package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/registry"
)

var startRuntime = time.Now()

// Dispatcher starts a job without waiting for it
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.JobPayload) error
}

// FeedbackArchive mirrors reviewer feedback into the result archive
type FeedbackArchive interface {
	UpdateFrameFeedback(ctx context.Context, jobID, frameID, feedback string) error
	UpdateEventFeedback(ctx context.Context, jobID, eventID, feedback string) error
}

// VideoDownloader fetches a remote video into the upload directory
type VideoDownloader interface {
	DownloadFile(ctx context.Context, url, fileName string) (string, error)
}

// Config is the HTTP layer's slice of the worker configuration
type Config struct {
	UploadDir    string
	MaxVideoSize int64
	DispatchMode string
	Debug        bool
}

// Usecase bundles what the handlers need
type Usecase struct {
	Conf       Config
	Registry   *registry.JobRegistry
	Dispatcher Dispatcher
	Archive    FeedbackArchive // optional
	Downloader VideoDownloader // optional; nil disables videoUrl uploads
}

// NewHTTPHandler builds the gin engine serving the upload, status and feedback routes
func NewHTTPHandler(uc *Usecase) http.Handler {
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	setupRouter(g, uc)
	return g
}

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		requestLogger(),
	)

	r.Use(cors.New(cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
		AllowOriginFunc: func(_ string) bool {
			return true
		},
	}))

	r.Static("/uploads", uc.Conf.UploadDir)
	r.GET("/health", uc.getHealth)

	RegisterVideo(r, uc)
	RegisterFeedback(r, uc)
}

// requestLogger logs one line per request, skipping static thumbnails
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.Method == http.MethodOptions || c.FullPath() == "/uploads/*filepath" {
			return
		}
		slog.InfoContext(c.Request.Context(), "http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

type getHealthOutput struct {
	Status       string    `json:"status"`
	Jobs         int       `json:"jobs"`
	DispatchMode string    `json:"dispatchMode"`
	StartAt      time.Time `json:"startAt"`
	Uptime       string    `json:"uptime"`
}

func (uc *Usecase) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, getHealthOutput{
		Status:       "ok",
		Jobs:         uc.Registry.Len(),
		DispatchMode: uc.Conf.DispatchMode,
		StartAt:      startRuntime,
		Uptime:       time.Since(startRuntime).Truncate(time.Second).String(),
	})
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
