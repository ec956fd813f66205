package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/resspec/resspec/orchestrator"
	"github.com/resspec/resspec/segments"
	"github.com/resspec/resspec/store"
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type stubAnalyzer struct {
	got    orchestrator.Request
	staged []byte
	err    error
}

func (s *stubAnalyzer) Run(_ context.Context, req orchestrator.Request) (*orchestrator.Report, error) {
	s.got = req
	s.staged, _ = os.ReadFile(req.AudioPath)
	if s.err != nil {
		return nil, s.err
	}
	segs := []segments.Segment{{StartTime: 0, EndTime: 1, Crackles: true, CracklesConfidence: 0.9}}
	rep := orchestrator.BuildReport("analysis-1", req.UserID, req.Patient, segs, nil, time.Now())
	rep.AudioName = req.AudioName
	return rep, nil
}

type stubHistory struct {
	records map[string]store.Record
	listErr error
	deleted []string
	limit   int
}

func (s *stubHistory) Get(_ context.Context, id string) (store.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return store.Record{}, store.ErrRecordNotFound
	}
	return rec, nil
}

func (s *stubHistory) ListByUser(_ context.Context, userID string, limit int) ([]store.Record, error) {
	s.limit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []store.Record
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubHistory) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func uploadRequest(t *testing.T, filename, contentType string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write([]byte("RIFF-audio"))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestCreateAnalysis_Success(t *testing.T) {
	a := &stubAnalyzer{}
	srv := New(a, nil, nil, newLogger(), 50)

	req := uploadRequest(t, "lungs.wav", "audio/wav", map[string]string{
		"user_id":      "user-1",
		"patient_name": "Jose Rizal",
		"age":          "35",
		"civil_status": "Single",
	})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if a.got.UserID != "user-1" || a.got.Patient.Name != "Jose Rizal" || a.got.Patient.Age != 35 {
		t.Fatalf("unexpected request: %+v", a.got)
	}
	if a.got.AudioName != "lungs.wav" || !strings.HasSuffix(a.got.AudioPath, ".wav") {
		t.Fatalf("unexpected audio: %+v", a.got)
	}
	if string(a.staged) != "RIFF-audio" {
		t.Fatalf("unexpected staged upload: %q", a.staged)
	}
	if _, err := os.Stat(a.got.AudioPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged upload to be removed, got %v", err)
	}

	var rep orchestrator.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rep.Summary.Detection != segments.DetectedCrackles || rep.AudioName != "lungs.wav" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.Regions[segments.Crackles]) != 1 {
		t.Fatalf("unexpected regions: %+v", rep.Regions)
	}
}

func TestCreateAnalysis_BadInput(t *testing.T) {
	cases := map[string]*http.Request{
		"missing file": uploadRequest(t, "", "", map[string]string{"user_id": "u"}),
		"not audio":    uploadRequest(t, "notes.txt", "text/plain", nil),
		"bad age":      uploadRequest(t, "a.wav", "audio/wav", map[string]string{"age": "old"}),
		"not multipart": func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader("{}"))
			r.Header.Set("Content-Type", "application/json")
			return r
		}(),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			a := &stubAnalyzer{}
			rr := httptest.NewRecorder()
			New(a, nil, nil, newLogger(), 50).Handler().ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if a.got.AudioPath != "" {
				t.Fatal("analyzer should not run")
			}
		})
	}
}

func TestCreateAnalysis_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"inference", errors.New("inference: timestamp 500"), http.StatusBadGateway},
		{"unsupported", orchestrator.ErrUnsupportedAudio, http.StatusUnsupportedMediaType},
		{"duplicate", store.ErrRecordExists, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &stubAnalyzer{err: tc.err}
			rr := httptest.NewRecorder()
			New(a, nil, nil, newLogger(), 50).Handler().ServeHTTP(rr, uploadRequest(t, "a.wav", "audio/wav", nil))
			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rr.Code)
			}
			var payload map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
				t.Fatalf("expected JSON error body, got %s", rr.Body.String())
			}
		})
	}
}

func historyFixture() *stubHistory {
	results := json.RawMessage(`[
		{"start_time":0,"end_time":1,"crackles":true,"crackles_confidence":0.8,"wheezes":false,"wheezes_confidence":0.1},
		{"start_time":1,"end_time":2,"crackles":true,"crackles_confidence":0.6,"wheezes":false,"wheezes_confidence":0.3}
	]`)
	return &stubHistory{records: map[string]store.Record{
		"a1": {ID: "a1", UserID: "user-1", Patient: store.Patient{Name: "Ana"}, AudioName: "ana-left.wav", Results: results, CreatedAt: time.Now()},
		"a2": {ID: "a2", UserID: "user-2", Patient: store.Patient{Name: "Ben"}, Results: json.RawMessage(`{"oops":1}`), CreatedAt: time.Now()},
	}}
}

func TestListAnalyses(t *testing.T) {
	h := historyFixture()
	srv := New(&stubAnalyzer{}, h, nil, newLogger(), 25)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses?user_id=user-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var items []historyItem
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a1" || items[0].Patient.Name != "Ana" || items[0].AudioName != "ana-left.wav" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if h.limit != 25 {
		t.Fatalf("expected default limit 25, got %d", h.limit)
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses?user_id=user-1&limit=5", nil))
	if rr.Code != http.StatusOK || h.limit != 5 {
		t.Fatalf("expected limit 5, got %d (status %d)", h.limit, rr.Code)
	}
}

func TestListAnalyses_BadRequest(t *testing.T) {
	srv := New(&stubAnalyzer{}, historyFixture(), nil, newLogger(), 25)
	for _, target := range []string{"/api/analyses", "/api/analyses?user_id=u&limit=0", "/api/analyses?user_id=u&limit=x"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
	}
}

func TestListAnalyses_StoreError(t *testing.T) {
	h := historyFixture()
	h.listErr = errors.New("db down")
	rr := httptest.NewRecorder()
	New(&stubAnalyzer{}, h, nil, newLogger(), 25).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses?user_id=u", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestGetAnalysis(t *testing.T) {
	srv := New(&stubAnalyzer{}, historyFixture(), nil, newLogger(), 25)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses/a1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rep orchestrator.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	crackles := rep.Regions[segments.Crackles]
	if len(crackles) != 1 || crackles[0].EndTime != 2 {
		t.Fatalf("expected merged crackle region, got %+v", crackles)
	}
	if rep.Summary.TotalSegments != 2 {
		t.Fatalf("unexpected summary: %+v", rep.Summary)
	}
	if rep.AudioName != "ana-left.wav" {
		t.Fatalf("recording name lost: %q", rep.AudioName)
	}
}

func TestGetAnalysis_NotFoundAndUnreadable(t *testing.T) {
	srv := New(&stubAnalyzer{}, historyFixture(), nil, newLogger(), 25)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses/a2", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestDeleteAnalysis(t *testing.T) {
	h := historyFixture()
	rr := httptest.NewRecorder()
	New(&stubAnalyzer{}, h, nil, newLogger(), 25).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/analyses/a1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if len(h.deleted) != 1 || h.deleted[0] != "a1" {
		t.Fatalf("unexpected deletes: %v", h.deleted)
	}
}

func TestHistoryWithoutDatabase(t *testing.T) {
	srv := New(&stubAnalyzer{}, nil, nil, newLogger(), 25)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analyses?user_id=u", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	New(&stubAnalyzer{}, nil, nil, newLogger(), 25).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	New(&stubAnalyzer{}, nil, nil, newLogger(), 25).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

var acceptedAudio = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"}

func TestAudioExt(t *testing.T) {
	if ext, err := audioExt("Rec.MP3", "audio/mpeg", acceptedAudio); err != nil || ext != ".mp3" {
		t.Fatalf("unexpected ext %q, %v", ext, err)
	}
	if _, err := audioExt("a.wav", "video/mp4", acceptedAudio); err == nil {
		t.Fatal("expected error for non-audio type")
	}

	// recordings posted as "blob" carry only a media type
	for _, mediaType := range []string{
		"audio/ogg",
		"audio/mp4",
		"audio/mpeg",
		"audio/wav",
		"audio/x-wav",
		"audio/webm;codecs=opus",
		"audio/flac",
	} {
		for _, accepted := range [][]string{acceptedAudio, nil} {
			ext, err := audioExt("blob", mediaType, accepted)
			if err != nil {
				t.Fatalf("%s: %v", mediaType, err)
			}
			if !orchestrator.SupportedAudio(ext, acceptedAudio) {
				t.Errorf("%s staged as %q, which is not an accepted extension", mediaType, ext)
			}
		}
	}
}

func TestCreateAnalysis_BlobUpload(t *testing.T) {
	a := &stubAnalyzer{}
	srv := New(a, nil, nil, newLogger(), 50, WithAudioExtensions(acceptedAudio))

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, uploadRequest(t, "blob", "audio/ogg", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.HasSuffix(a.got.AudioPath, ".ogg") || a.got.AudioName != "blob" {
		t.Fatalf("unexpected audio: %+v", a.got)
	}
}

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishToSubscribers(t *testing.T) {
	hub := NewHub(newLogger())
	ts := httptest.NewServer(New(&stubAnalyzer{}, nil, hub, newLogger(), 25).Handler())
	defer ts.Close()

	all := dialEvents(t, ts, "")
	defer all.Close()
	mine := dialEvents(t, ts, "?user_id=user-2")
	defer mine.Close()
	waitForSubscribers(t, hub, 2)

	hub.Publish(orchestrator.Event{Kind: orchestrator.AnalysisCompleted, AnalysisID: "a1", UserID: "user-1", AudioName: "a.wav"})
	hub.Publish(orchestrator.Event{Kind: orchestrator.AnalysisFailed, UserID: "user-2", AudioName: "b.wav", Error: "boom"})

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e orchestrator.Event
	if err := all.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.AnalysisID != "a1" || e.Kind != orchestrator.AnalysisCompleted {
		t.Fatalf("unexpected first event: %+v", e)
	}
	if err := all.ReadJSON(&e); err != nil || e.AudioName != "b.wav" {
		t.Fatalf("unexpected second event: %+v (%v)", e, err)
	}

	_ = mine.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := mine.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.UserID != "user-2" || e.Error != "boom" {
		t.Fatalf("filtered subscriber got %+v", e)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(newLogger())
	ts := httptest.NewServer(New(&stubAnalyzer{}, nil, hub, newLogger(), 25).Handler())
	defer ts.Close()

	conn := dialEvents(t, ts, "")
	defer conn.Close()
	waitForSubscribers(t, hub, 1)

	hub.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if hub.Len() != 0 {
		t.Fatalf("expected no subscribers, have %d", hub.Len())
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	srv := New(&stubAnalyzer{}, nil, NewHub(newLogger()), newLogger(), 25)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
