package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
)

// scriptedVision answers the presence prompt and the issue prompt with fixed replies
type scriptedVision struct {
	mu          sync.Mutex
	presence    string
	presenceErr error
	issue       string
	issueErr    error
	calls       int
	models      []string
}

func (s *scriptedVision) AnalyzeImage(ctx context.Context, model, prompt, imageURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.models = append(s.models, model)
	if strings.Contains(prompt, "binsPresent") {
		return s.presence, s.presenceErr
	}
	return s.issue, s.issueErr
}

func newTestClassifier(v VisionAnalyzer) *FrameClassifier {
	fc := NewFrameClassifier(v, "")
	fc.encode = func(string) (string, error) { return "data:image/jpeg;base64,AAAA", nil }
	return fc
}

var frame = models.Frame{Index: 1, Timestamp: "00:00:05", ImagePath: "uploads/frames/clip/frame_2.jpg"}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		vision    *scriptedVision
		wantType  models.EventType
		wantNil   bool
		wantCalls int
	}{
		{
			name:      "no bins skips issue check",
			vision:    &scriptedVision{presence: `{"binsPresent": false, "reason": "empty street"}`},
			wantNil:   true,
			wantCalls: 1,
		},
		{
			name: "fenced json with label",
			vision: &scriptedVision{
				presence: "```json\n{\"binsPresent\": true, \"reason\": \"bin on right\"}\n```",
				issue:    "```json\n{\"eventFound\": \"overflowing\", \"reason\": \"lid propped open\"}\n```",
			},
			wantType:  models.EventTypeOverflowing,
			wantCalls: 2,
		},
		{
			name: "null label is absent",
			vision: &scriptedVision{
				presence: `{"binsPresent": true, "reason": "bin"}`,
				issue:    `{"eventFound": null, "reason": "all fine"}`,
			},
			wantNil:   true,
			wantCalls: 2,
		},
		{
			name:      "prose presence reply is absent",
			vision:    &scriptedVision{presence: "I can see a quiet residential street with parked cars."},
			wantNil:   true,
			wantCalls: 1,
		},
		{
			name:      "wrong shape is absent",
			vision:    &scriptedVision{presence: `{"binsPresent": "maybe"}`},
			wantNil:   true,
			wantCalls: 1,
		},
		{
			name: "json inside prose still parses",
			vision: &scriptedVision{
				presence: `Sure! {"binsPresent": true, "reason": "two bins"} Hope that helps.`,
				issue:    `{"eventFound": "Inaccessible", "reason": "blocked by car"}`,
			},
			wantType:  models.EventTypeInaccessible,
			wantCalls: 2,
		},
		{
			name: "unknown label becomes other",
			vision: &scriptedVision{
				presence: `{"binsPresent": true, "reason": "bin"}`,
				issue:    `{"eventFound": "graffiti", "reason": "tagged bin"}`,
			},
			wantType:  models.EventTypeOther,
			wantCalls: 2,
		},
		{
			name:      "transport error in stage 1",
			vision:    &scriptedVision{presenceErr: errors.New("status 503")},
			wantNil:   true,
			wantCalls: 1,
		},
		{
			name: "transport error in stage 2",
			vision: &scriptedVision{
				presence: `{"binsPresent": true, "reason": "bin"}`,
				issueErr: errors.New("timeout"),
			},
			wantNil:   true,
			wantCalls: 2,
		},
		{
			name: "malformed stage 2 reply",
			vision: &scriptedVision{
				presence: `{"binsPresent": true, "reason": "bin"}`,
				issue:    `eventFound: overflowing`,
			},
			wantNil:   true,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestClassifier(tt.vision).Classify(context.Background(), frame, "")

			if tt.vision.calls != tt.wantCalls {
				t.Errorf("vision calls = %d, want %d", tt.vision.calls, tt.wantCalls)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("expected no event, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected an event, got none")
			}
			if got.EventType != tt.wantType {
				t.Errorf("eventType = %q, want %q", got.EventType, tt.wantType)
			}
			if got.Location != models.LocationPlaceholder {
				t.Errorf("location = %q", got.Location)
			}
		})
	}
}

func TestClassifyUnreadableFrame(t *testing.T) {
	v := &scriptedVision{presence: `{"binsPresent": true}`}
	fc := NewFrameClassifier(v, "")

	if got := fc.Classify(context.Background(), models.Frame{ImagePath: "/does/not/exist.jpg"}, ""); got != nil {
		t.Errorf("expected nil for unreadable frame, got %+v", got)
	}
	if v.calls != 0 {
		t.Errorf("vision called %d times for unreadable frame", v.calls)
	}
}

func TestClassifyModelSelection(t *testing.T) {
	v := &scriptedVision{presence: `{"binsPresent": false}`}
	fc := newTestClassifier(v)

	fc.Classify(context.Background(), frame, "")
	fc.Classify(context.Background(), frame, "gpt-4o")

	if v.models[0] != models.DefaultVisionModel || v.models[1] != "gpt-4o" {
		t.Errorf("models used = %v", v.models)
	}
}

func TestParseReplyStripsFences(t *testing.T) {
	var r presenceReply
	if err := parseReply("```json\n{\"binsPresent\": true, \"reason\": \"x\"}\n```", &r); err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if !r.BinsPresent || r.Reason != "x" {
		t.Errorf("got %+v", r)
	}

	if err := parseReply("```\n```", &r); err == nil {
		t.Error("expected error for empty fenced reply")
	}
}
