package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/adverant/nexus/binwatch-worker/internal/models"
	"github.com/adverant/nexus/binwatch-worker/internal/registry"
	"github.com/adverant/nexus/binwatch-worker/internal/storage"
	"github.com/adverant/nexus/binwatch-worker/internal/utils"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []models.JobPayload
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job models.JobPayload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return d.err
}

type fakeArchive struct {
	frames []string
	events []string
}

func (a *fakeArchive) UpdateFrameFeedback(ctx context.Context, jobID, frameID, feedback string) error {
	a.frames = append(a.frames, frameID+"="+feedback)
	return nil
}

func (a *fakeArchive) UpdateEventFeedback(ctx context.Context, jobID, eventID, feedback string) error {
	a.events = append(a.events, eventID+"="+feedback)
	return storage.ErrNotArchived
}

type fakeDownloader struct {
	dir string
	err error
}

func (d fakeDownloader) DownloadFile(ctx context.Context, url, fileName string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	p := filepath.Join(d.dir, fileName)
	return p, os.WriteFile(p, []byte("remote"), 0644)
}

type testServer struct {
	handler    http.Handler
	uc         *Usecase
	dispatcher *fakeDispatcher
	archive    *fakeArchive
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	ts := &testServer{dispatcher: &fakeDispatcher{}, archive: &fakeArchive{}}
	ts.uc = &Usecase{
		Conf:       Config{UploadDir: dir, MaxVideoSize: 1 << 20, DispatchMode: models.DispatchInline},
		Registry:   registry.New(),
		Dispatcher: ts.dispatcher,
		Archive:    ts.archive,
		Downloader: fakeDownloader{dir: dir},
	}
	ts.handler = NewHTTPHandler(ts.uc)
	return ts
}

func (ts *testServer) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func uploadRequest(t *testing.T, contentType string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if contentType != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="video"; filename="bins.mp4"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte("fake mp4 bytes"))
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// seedCompleted stores a finished job with two frames and one event
func (ts *testServer) seedCompleted(t *testing.T, id string) {
	t.Helper()
	if err := ts.uc.Registry.Create(id); err != nil {
		t.Fatal(err)
	}
	job := models.NewJob(id)
	job.Status = models.JobStatusCompleted
	job.TotalFrames, job.ProcessedFrames = 2, 2
	job.Frames = []*models.FrameRecord{
		{ID: models.FrameRecordID(id, 0), Timestamp: "00:00:00", EventType: models.NotFlagged},
		{ID: models.FrameRecordID(id, 1), Timestamp: "00:00:05", EventType: "safety"},
	}
	job.Events = []models.Event{{ID: "ev-1", FrameID: models.FrameRecordID(id, 1), EventType: "safety"}}
	if err := ts.uc.Registry.Publish(id, job); err != nil {
		t.Fatal(err)
	}
}

func TestUploadVideo(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(uploadRequest(t, "video/mp4", map[string]string{"model": "gpt-4o"}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if body["message"] != "Video uploaded successfully" {
		t.Errorf("message = %v", body["message"])
	}
	fileID, _ := body["fileId"].(string)
	if !strings.HasSuffix(fileID, "-bins.mp4") {
		t.Errorf("fileId = %q", fileID)
	}

	job, err := ts.uc.Registry.Snapshot(fileID)
	if err != nil || job.Status != models.JobStatusProcessing {
		t.Errorf("registry job = %+v, %v", job, err)
	}

	if len(ts.dispatcher.jobs) != 1 {
		t.Fatalf("dispatched %d jobs", len(ts.dispatcher.jobs))
	}
	dispatched := ts.dispatcher.jobs[0]
	if dispatched.JobID != fileID || dispatched.Model != "gpt-4o" {
		t.Errorf("dispatched = %+v", dispatched)
	}
	data, err := os.ReadFile(dispatched.VideoPath)
	if err != nil || string(data) != "fake mp4 bytes" {
		t.Errorf("stored file = %q, %v", data, err)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		fields      map[string]string
		wantStatus  int
		wantError   string
	}{
		{"no file", "", nil, http.StatusBadRequest, "No video file uploaded"},
		{"not a video", "image/png", nil, http.StatusBadRequest, "Not a video file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w, body := ts.do(uploadRequest(t, tt.contentType, tt.fields))
			if w.Code != tt.wantStatus || body["error"] != tt.wantError {
				t.Errorf("got %d %v, want %d %q", w.Code, body["error"], tt.wantStatus, tt.wantError)
			}
			if ts.uc.Registry.Len() != 0 || len(ts.dispatcher.jobs) != 0 {
				t.Errorf("rejected upload created a job")
			}
		})
	}
}

func TestUploadDispatchFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.dispatcher.err = errors.New("redis down")

	w, body := ts.do(uploadRequest(t, "video/mp4", nil))
	if w.Code != http.StatusInternalServerError || body["error"] != "Failed to process video" {
		t.Fatalf("got %d %v", w.Code, body)
	}

	jobID := ts.dispatcher.jobs[0].JobID
	job, _ := ts.uc.Registry.Snapshot(jobID)
	if job.Status != models.JobStatusFailed || job.ErrorKind != models.ErrorKindDispatch {
		t.Errorf("job = %+v", job)
	}
}

func TestUploadVideoURL(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(uploadRequest(t, "", map[string]string{"videoUrl": "https://example.com/clips/route-7.mp4"}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if id, _ := body["fileId"].(string); !strings.HasSuffix(id, "-route-7.mp4") {
		t.Errorf("fileId = %q", id)
	}

	ts.uc.Downloader = fakeDownloader{err: &utils.ValidationError{Field: "Content-Type", Value: "text/html", Message: "unsupported"}}
	w, body = ts.do(uploadRequest(t, "", map[string]string{"videoUrl": "https://example.com/page"}))
	if w.Code != http.StatusBadRequest || body["error"] != "Not a video file" {
		t.Errorf("got %d %v", w.Code, body)
	}
}

func TestStatusAndResults(t *testing.T) {
	ts := newTestServer(t)
	ts.uc.Registry.Create("running")
	ts.seedCompleted(t, "done")

	tests := []struct {
		target     string
		wantStatus int
		wantError  string
	}{
		{"/status/missing", http.StatusNotFound, "File not found"},
		{"/status/running", http.StatusOK, ""},
		{"/results/missing", http.StatusNotFound, "File not found"},
		{"/results/running", http.StatusBadRequest, "Processing not complete"},
		{"/results/done", http.StatusOK, ""},
	}
	for _, tt := range tests {
		w, body := ts.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
		if w.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.target, w.Code, tt.wantStatus)
		}
		if tt.wantError != "" && body["error"] != tt.wantError {
			t.Errorf("%s: error = %v", tt.target, body["error"])
		}
	}

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results/done", nil))
	var results resultsOutput
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatal(err)
	}
	if len(results.Events) != 1 || len(results.Frames) != 2 {
		t.Errorf("results = %+v", results)
	}
}

func TestClearUploads(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCompleted(t, "done")
	dir := ts.uc.Conf.UploadDir
	os.MkdirAll(filepath.Join(dir, "frames", "done"), 0755)
	os.WriteFile(filepath.Join(dir, "frames", "done", "frame_1.jpg"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "done"), []byte("video"), 0644)

	w, body := ts.do(httptest.NewRequest(http.MethodPost, "/clear", nil))
	if w.Code != http.StatusOK || body["message"] != "Uploads cleared successfully" {
		t.Fatalf("got %d %v", w.Code, body)
	}
	if ts.uc.Registry.Len() != 0 {
		t.Errorf("registry not cleared")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("upload dir still has %d entries", len(entries))
	}
}

func TestFrameFeedback(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCompleted(t, "done")
	frameID := models.FrameRecordID("done", 1)

	w, body := ts.do(jsonRequest(http.MethodPost, "/feedback/done/"+frameID, `{"humanFeedback":"not a hazard"}`))
	if w.Code != http.StatusOK || body["message"] != "Feedback saved" {
		t.Fatalf("got %d %v", w.Code, body)
	}
	frame, _ := body["frame"].(map[string]any)
	if frame["humanFeedback"] != "not a hazard" || frame["id"] != frameID {
		t.Errorf("frame = %v", frame)
	}
	if len(ts.archive.frames) != 1 {
		t.Errorf("archive not updated")
	}

	w, body = ts.do(jsonRequest(http.MethodPost, "/feedback/done/bogus", `{"humanFeedback":"x"}`))
	if w.Code != http.StatusNotFound || body["error"] != "Frame not found" {
		t.Errorf("bogus frame: got %d %v", w.Code, body)
	}

	w, _ = ts.do(jsonRequest(http.MethodPost, "/feedback/done/"+frameID, `{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing body: got %d", w.Code)
	}

	job, _ := ts.uc.Registry.Snapshot("done")
	if job.Frames[0].HumanFeedback != nil {
		t.Errorf("feedback leaked to frame 0")
	}
}

func TestEventFeedback(t *testing.T) {
	ts := newTestServer(t)
	ts.seedCompleted(t, "done")

	w, body := ts.do(jsonRequest(http.MethodPost, "/event-feedback/done/ev-1", `{"humanFeedback":"confirmed"}`))
	if w.Code != http.StatusOK || body["message"] != "Event feedback saved" {
		t.Fatalf("got %d %v", w.Code, body)
	}
	event, _ := body["event"].(map[string]any)
	if event["humanFeedback"] != "confirmed" {
		t.Errorf("event = %v", event)
	}

	w, body = ts.do(jsonRequest(http.MethodPost, "/event-feedback/missing/ev-1", `{"humanFeedback":"x"}`))
	if w.Code != http.StatusNotFound || body["error"] != "Event not found" {
		t.Errorf("missing job: got %d %v", w.Code, body)
	}
}

func TestHealthAndStatic(t *testing.T) {
	ts := newTestServer(t)
	ts.uc.Registry.Create("a")
	os.WriteFile(filepath.Join(ts.uc.Conf.UploadDir, "thumb.jpg"), []byte("jpeg"), 0644)

	w, body := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || body["jobs"] != float64(1) || body["dispatchMode"] != "inline" {
		t.Errorf("health = %d %v", w.Code, body)
	}

	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/uploads/thumb.jpg", nil))
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Errorf("static = %d %q", w.Code, w.Body)
	}
}

func TestRemoteFileName(t *testing.T) {
	tests := map[string]string{
		"https://example.com/a/b/clip.mov": "clip.mov",
		"https://example.com/":             "video",
		"https://example.com":              "video",
	}
	for in, want := range tests {
		if got := remoteFileName(in); got != want {
			t.Errorf("remoteFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
