package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"classroom-capture/pkg/analytics"
	"classroom-capture/pkg/api"
	"classroom-capture/pkg/config"
	"classroom-capture/pkg/events"
	"classroom-capture/pkg/mockserver"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/storage"
)

type harness struct {
	ctrl    *Controller
	backend *mockserver.Server
	disk    storage.DiskStore
	rec     *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := mockserver.New()
	backend.SetStreamBase("http://media:8888")
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, api.Options{RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	disk, err := storage.NewInMemoryDiskStore()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { disk.Close() })

	cfg := config.Default()
	cfg.Pipeline.TokenDelay = time.Millisecond
	cfg.Pipeline.StatisticsDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rec := &events.Recorder{}
	h := &harness{
		ctrl:    New(ctx, cfg, client, disk, rec),
		backend: backend,
		disk:    disk,
		rec:     rec,
	}
	t.Cleanup(func() { h.ctrl.Cancel() })
	return h
}

func (h *harness) poll(t *testing.T, n int) models.HealthState {
	t.Helper()
	var s models.HealthState
	for i := 0; i < n; i++ {
		s = h.ctrl.Health.Poll(context.Background())
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var cameras = []models.PipelineSpec{
	{Name: models.CameraFront, Source: "videos/front.mp4"},
	{Name: models.CameraBack, Source: "videos/back.mp4"},
	{Name: models.CameraContent, Source: "videos/board.mp4"},
}

func TestUploadFlow(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(mockserver.Script{Tokens: []string{"Good", " morning"}, SessionAfter: 0})
	h.backend.FailPipeline(models.CameraBack, "camera offline")
	h.backend.SetStatistics(models.ClassStatistics{StudentCount: 28, RaiseUpCount: 6})

	if s := h.poll(t, 1); s.Status != models.BackendAvailable {
		t.Fatalf("health = %+v", s)
	}
	if h.rec.Count(events.SettingsLoaded) != 1 {
		t.Fatal("settings should load once the backend is available")
	}

	handle, err := h.ctrl.StartUpload(context.Background(), "lecture.wav", strings.NewReader("RIFF0000WAVE"), cameras)
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	run := handle.Run()
	// closing the upload dialog after hand-off must not stop the run
	handle.Release()
	run.Wait()
	if run.Cancelled() {
		t.Fatal("run was cancelled by releasing the handle")
	}

	s := h.ctrl.Snapshot()
	if s.Transcript.Text != "Good morning" || !s.Transcript.Terminal {
		t.Fatalf("transcript = %+v", s.Transcript)
	}
	if s.Run.Stage != models.StageSummaryEnabled || s.Run.UploadedAudioPath != "uploads/lecture.wav" {
		t.Fatalf("run = %+v", s.Run)
	}
	if !s.Session.Valid() {
		t.Fatal("session should be adopted from the stream")
	}
	if h.backend.Calls("create_session") != 0 {
		t.Fatal("upload flow takes its session from the stream")
	}
	sid := s.Session.ID
	want := models.CameraStreamSet{
		Front:   "http://media:8888/" + sid + "/front/index.m3u8",
		Content: "http://media:8888/" + sid + "/content/index.m3u8",
	}
	if s.Analytics.Streams != want || s.Analytics.View != models.ViewAll {
		t.Fatalf("analytics = %+v", s.Analytics)
	}
	if len(s.Analytics.Failures) != 1 {
		t.Fatalf("failures = %+v", s.Analytics.Failures)
	}
	if last, err := h.disk.LoadLastSession(); err != nil || last != sid {
		t.Fatalf("last session = %q, %v", last, err)
	}

	eventually(t, "statistics", func() bool { return h.ctrl.Snapshot().Analytics.Statistics != nil })
	if st := h.ctrl.Snapshot().Analytics.Statistics; st.StudentCount != 28 {
		t.Fatalf("statistics = %+v", st)
	}
}

func TestUploadFlowSessionAfterTokens(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(mockserver.Script{Tokens: []string{"Good", " morning"}, SessionAfter: 1})
	h.poll(t, 1)

	handle, err := h.ctrl.StartUpload(context.Background(), "lecture.wav", strings.NewReader("RIFF0000WAVE"), cameras)
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	handle.Release()
	handle.Run().Wait()

	s := h.ctrl.Snapshot()
	if s.Transcript.Text != "Good morning" || s.Run.Stage != models.StageSummaryEnabled {
		t.Fatalf("transcript = %+v, run = %+v", s.Transcript, s.Run)
	}
	if !s.Session.Valid() || s.Transcript.SessionID != s.Session.ID {
		t.Fatalf("session = %+v, transcript session = %q", s.Session, s.Transcript.SessionID)
	}
	if h.backend.Calls("create_session") != 0 || h.backend.Calls("start_analytics") != 1 {
		t.Fatalf("calls: session=%d analytics=%d", h.backend.Calls("create_session"), h.backend.Calls("start_analytics"))
	}
	sid := s.Session.ID
	want := models.CameraStreamSet{
		Front:   "http://media:8888/" + sid + "/front/index.m3u8",
		Back:    "http://media:8888/" + sid + "/back/index.m3u8",
		Content: "http://media:8888/" + sid + "/content/index.m3u8",
	}
	if s.Analytics.Streams != want || s.Analytics.View != models.ViewAll {
		t.Fatalf("analytics = %+v", s.Analytics)
	}
}

func TestUnreachableUploadRechecksHealth(t *testing.T) {
	h := newHarness(t)
	h.poll(t, 1)
	before := h.backend.Calls("health")

	h.backend.SetHealthy(false)
	_, err := h.ctrl.StartUpload(context.Background(), "a.wav", strings.NewReader("RIFF"), nil)
	if !api.IsUnavailable(err) {
		t.Fatalf("upload err = %v, want an unavailable error", err)
	}
	if got := h.backend.Calls("health"); got != before+1 {
		t.Fatalf("health checks = %d, want %d", got, before+1)
	}
	hs := h.ctrl.Snapshot().Health
	if hs.ConsecutiveFailures != 1 || hs.Status != models.BackendAvailable {
		t.Fatalf("health = %+v", hs)
	}

	// a rejected request is not an outage
	h.backend.SetHealthy(true)
	h.poll(t, 1)
	before = h.backend.Calls("health")
	if _, err := h.ctrl.StartUpload(context.Background(), "empty.wav", strings.NewReader(""), nil); err == nil {
		t.Fatal("expected upload error")
	}
	if got := h.backend.Calls("health"); got != before {
		t.Fatalf("bad request triggered a health check")
	}
}

func TestBackendGate(t *testing.T) {
	h := newHarness(t)
	h.backend.SetHealthy(false)

	if _, err := h.ctrl.StartUpload(context.Background(), "a.wav", strings.NewReader("x"), nil); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("upload while checking err = %v", err)
	}
	if s := h.poll(t, 3); s.Status != models.BackendUnavailable {
		t.Fatalf("health = %+v", s)
	}
	if _, err := h.ctrl.StartLive(context.Background(), cameras); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("live while unavailable err = %v", err)
	}
	if h.backend.Calls("upload_audio") != 0 || h.backend.Calls("create_session") != 0 {
		t.Fatal("gated calls must not reach the backend")
	}
}

func TestOutageDuringRun(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(mockserver.Script{Tokens: []string{"a"}, SessionAfter: -1, Hang: true})
	h.poll(t, 1)

	handle, err := h.ctrl.StartUpload(context.Background(), "a.wav", strings.NewReader("RIFF"), nil)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "first token", func() bool { return h.rec.Count(events.TranscriptDelta) > 0 })

	h.backend.SetHealthy(false)
	h.poll(t, 5)
	if n := h.rec.Count(events.RunInterrupted); n != 1 {
		t.Fatalf("interrupted events = %d", n)
	}

	h.backend.SetHealthy(true)
	h.poll(t, 1)
	if n := h.rec.Count(events.SettingsLoaded); n != 2 {
		t.Fatalf("settings loads = %d, want reload on resume", n)
	}
	if !h.ctrl.Snapshot().Health.EverUnavailable {
		t.Fatal("EverUnavailable should be latched")
	}

	handle.Abort()
	if !handle.Run().Cancelled() {
		t.Fatal("abort should cancel the run")
	}
}

func TestLiveFlow(t *testing.T) {
	h := newHarness(t)
	h.poll(t, 1)

	handle, err := h.ctrl.StartLive(context.Background(), cameras[:1])
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	handle.Run().Wait()

	if h.backend.Calls("create_session") != 1 || h.backend.Calls("start_analytics") != 1 {
		t.Fatalf("calls: session=%d analytics=%d", h.backend.Calls("create_session"), h.backend.Calls("start_analytics"))
	}
	s := h.ctrl.Snapshot()
	if !s.Session.Valid() || s.Analytics.Streams.Front == "" {
		t.Fatalf("snapshot = %+v", s)
	}
	if err := h.ctrl.SelectView(models.ViewFront); err != nil {
		t.Fatalf("SelectView: %v", err)
	}
	if err := h.ctrl.SelectView(models.ViewBack); err == nil {
		t.Fatal("back camera has no stream")
	}
}

func TestNewRunSupersedesPrevious(t *testing.T) {
	h := newHarness(t)
	h.backend.SetScript(mockserver.Script{Tokens: []string{"x"}, SessionAfter: 0, Hang: true})
	h.poll(t, 1)

	first, err := h.ctrl.StartUpload(context.Background(), "one.wav", strings.NewReader("1"), cameras)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "first session", func() bool { return h.ctrl.Sessions.ID() != "" })

	second, err := h.ctrl.StartUpload(context.Background(), "two.wav", strings.NewReader("2"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Run().Cancelled() {
		t.Fatal("first run should be cancelled")
	}
	s := h.ctrl.Snapshot()
	if s.Run.ID != second.Run().ID() || s.Run.UploadedAudioPath != "uploads/two.wav" {
		t.Fatalf("run = %+v", s.Run)
	}
	if s.Analytics.Streams != (models.CameraStreamSet{}) || s.Analytics.View != models.ViewNone {
		t.Fatalf("camera state leaked into the new run: %+v", s.Analytics)
	}
	first.Run().Wait()
	if _, err := h.ctrl.transcripts.Get(first.Run().ID()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("superseded transcript still stored: %v", err)
	}
	second.Abort()
}

func TestUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.poll(t, 1)

	_, err := h.ctrl.StartUpload(context.Background(), "empty.wav", strings.NewReader(""), nil)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if s := h.ctrl.Snapshot().Run; s.Stage != models.StageFailed || s.AIProcessing {
		t.Fatalf("run = %+v", s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.ctrl.StartUpload(ctx, "a.wav", strings.NewReader("RIFF"), nil); err == nil {
		t.Fatal("a cancelled caller must not get a handle")
	}
	if h.ctrl.Snapshot().Run.Stage != models.StageFailed {
		t.Fatal("cancelled upload should fail the run")
	}
}

func TestStatisticsForLastSession(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.Statistics(context.Background()); !errors.Is(err, analytics.ErrNoSession) {
		t.Fatalf("statistics without any session err = %v", err)
	}

	h.disk.SaveLastSession("old-session")
	h.backend.SetStatistics(models.ClassStatistics{StandCount: 4})
	stats, err := h.ctrl.Statistics(context.Background())
	if err != nil || stats.StandCount != 4 {
		t.Fatalf("statistics = %+v, %v", stats, err)
	}
	if h.backend.Calls("class_statistics") != 1 {
		t.Fatalf("class_statistics calls = %d", h.backend.Calls("class_statistics"))
	}
}
