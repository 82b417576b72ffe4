package classifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/utils"
)

// VisionAnalyzer answers a text prompt about one image
type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, model, prompt, imageURL string) (string, error)
}

// FrameClassifier runs the presence check and, when bins are visible, the issue check
type FrameClassifier struct {
	vision       VisionAnalyzer
	defaultModel string
	encode       func(path string) (string, error)
}

// NewFrameClassifier creates a classifier. An empty defaultModel means o4-mini.
func NewFrameClassifier(vision VisionAnalyzer, defaultModel string) *FrameClassifier {
	if defaultModel == "" {
		defaultModel = models.DefaultVisionModel
	}
	return &FrameClassifier{
		vision:       vision,
		defaultModel: defaultModel,
		encode:       utils.EncodeFrameToDataURI,
	}
}

// Classify returns the event seen in frame, or nil. Failures are logged and
// reported as nil so one bad frame never stops a job.
func (fc *FrameClassifier) Classify(ctx context.Context, frame models.Frame, model string) *models.ClassificationResult {
	if model == "" {
		model = fc.defaultModel
	}
	log := slog.With("frame", frame.Index, "timestamp", frame.Timestamp)

	image, err := fc.encode(frame.ImagePath)
	if err != nil {
		log.WarnContext(ctx, "frame unreadable, skipping", "err", err)
		return nil
	}

	reply, err := fc.vision.AnalyzeImage(ctx, model, presencePrompt(frame.Timestamp), image)
	if err != nil {
		log.WarnContext(ctx, "presence check failed", "err", err)
		return nil
	}
	presence := parsePresence(reply)
	log.DebugContext(ctx, "presence check", "binsPresent", presence.BinsPresent, "reason", presence.Reason)
	if !presence.BinsPresent {
		return nil
	}

	reply, err = fc.vision.AnalyzeImage(ctx, model, issuePrompt, image)
	if err != nil {
		log.WarnContext(ctx, "issue check failed", "err", err)
		return nil
	}
	issue := parseIssue(reply)
	var raw string
	if issue.EventFound != nil {
		raw = strings.ToLower(strings.TrimSpace(*issue.EventFound))
	}
	if raw == "" || raw == "null" || raw == "none" {
		log.DebugContext(ctx, "issue check: nothing to flag", "reason", issue.Reason)
		return nil
	}

	label := models.EventType(raw)
	if !label.Valid() {
		log.InfoContext(ctx, "unknown label recorded as other", "label", *issue.EventFound)
		label = models.EventTypeOther
	}
	log.InfoContext(ctx, "event found", "eventType", label, "reason", issue.Reason)

	return &models.ClassificationResult{
		EventType: label,
		Reason:    issue.Reason,
		Location:  models.LocationPlaceholder,
	}
}
