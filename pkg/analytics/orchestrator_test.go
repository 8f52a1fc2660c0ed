package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/storage"
)

type fakeTransport struct {
	mu          sync.Mutex
	results     []models.PipelineResult
	launchErr   error
	stats       models.ClassStatistics
	statsErr    error
	statsCalls  int
	duringCall  func()
	lastSession string
}

func (f *fakeTransport) StartVideoAnalyticsPipeline(ctx context.Context, pipelines []models.PipelineSpec, sessionID string) (models.AnalyticsResponse, error) {
	f.mu.Lock()
	f.lastSession = sessionID
	hook := f.duringCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return models.AnalyticsResponse{Results: f.results}, f.launchErr
}

func (f *fakeTransport) GetClassStatistics(ctx context.Context, sessionID string) (models.ClassStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return f.stats, f.statsErr
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

func newStore(t *testing.T) storage.DiskStore {
	t.Helper()
	store, err := storage.NewInMemoryDiskStore()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var pipelines = []models.PipelineSpec{
	{Name: models.CameraFront, Source: "front.mp4"},
	{Name: models.CameraBack, Source: "back.mp4"},
	{Name: models.CameraContent, Source: "content.mp4"},
}

func TestLaunchPartialSuccess(t *testing.T) {
	ft := &fakeTransport{results: []models.PipelineResult{
		{PipelineName: models.CameraFront, Status: models.PipelineSuccess, StreamEndpoint: "http://media/a.m3u8"},
		{PipelineName: models.CameraBack, Status: models.PipelineError, Error: "camera offline"},
		{PipelineName: models.CameraContent, Status: models.PipelineSuccess, StreamEndpoint: "http://media/c.m3u8"},
	}}
	rec := &events.Recorder{}
	o := NewOrchestrator(ft, nil, rec, time.Hour)

	var loadingDuringCall bool
	ft.duringCall = func() { loadingDuringCall = o.Snapshot().Loading }

	if _, err := o.Launch(context.Background(), "run", pipelines, "sess-1"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	s := o.Snapshot()
	want := models.CameraStreamSet{Front: "http://media/a.m3u8", Content: "http://media/c.m3u8"}
	if s.Streams != want {
		t.Fatalf("streams = %+v", s.Streams)
	}
	if s.View != models.ViewAll {
		t.Fatalf("view = %q", s.View)
	}
	if !loadingDuringCall || s.Loading {
		t.Fatalf("loading during=%v after=%v", loadingDuringCall, s.Loading)
	}
	if len(s.Failures) != 1 || s.Failures[0].PipelineName != models.CameraBack {
		t.Fatalf("failures = %+v", s.Failures)
	}
	if rec.Count(events.CameraStreamUpdated) != 2 || rec.Count(events.AnalyticsLoading) != 2 {
		t.Fatalf("events = %+v", rec.Events())
	}
}

func TestViewRequiresValidStream(t *testing.T) {
	tests := []struct {
		name    string
		results []models.PipelineResult
		view    models.ActiveView
	}{
		{"all failed", []models.PipelineResult{{PipelineName: models.CameraFront, Status: models.PipelineError}}, models.ViewNone},
		{"empty endpoint", []models.PipelineResult{{PipelineName: models.CameraFront, Status: models.PipelineSuccess}}, models.ViewNone},
		{"bad scheme", []models.PipelineResult{{PipelineName: models.CameraFront, Status: models.PipelineSuccess, StreamEndpoint: "a.m3u8"}}, models.ViewNone},
		{"rtsp", []models.PipelineResult{{PipelineName: models.CameraBack, Status: models.PipelineSuccess, StreamEndpoint: "rtsp://cam/1"}}, models.ViewAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(&fakeTransport{results: tt.results}, nil, nil, time.Hour)
			if _, err := o.Launch(context.Background(), "run", pipelines, "s"); err != nil {
				t.Fatal(err)
			}
			if got := o.Snapshot().View; got != tt.view {
				t.Fatalf("view = %q, want %q", got, tt.view)
			}
		})
	}
}

func TestLaunchRequiresSession(t *testing.T) {
	ft := &fakeTransport{}
	o := NewOrchestrator(ft, nil, nil, time.Hour)
	if _, err := o.Launch(context.Background(), "run", pipelines, ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
	if ft.lastSession != "" || o.Snapshot().Loading {
		t.Fatal("launch without session must not touch the transport")
	}
}

func TestLaunchTransportErrorClearsLoading(t *testing.T) {
	ft := &fakeTransport{launchErr: errors.New("connection refused")}
	o := NewOrchestrator(ft, nil, nil, time.Millisecond)
	if _, err := o.Launch(context.Background(), "run", pipelines, "s"); err == nil {
		t.Fatal("expected error")
	}
	if o.Snapshot().Loading {
		t.Fatal("loading should be cleared")
	}
	time.Sleep(20 * time.Millisecond)
	if ft.calls() != 0 {
		t.Fatal("statistics must not be fetched after a failed launch")
	}
}

func waitForStatistics(t *testing.T, o *Orchestrator) models.ClassStatistics {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := o.Snapshot().Statistics; s != nil {
			return *s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("statistics never arrived")
	return models.ClassStatistics{}
}

func TestDeferredStatisticsPersisted(t *testing.T) {
	ft := &fakeTransport{
		results: []models.PipelineResult{{PipelineName: models.CameraFront, Status: models.PipelineSuccess, StreamEndpoint: "http://m/a"}},
		stats:   models.ClassStatistics{StudentCount: 25, StandCount: 3, StandReID: []models.StandReID{{StudentID: 7, Count: 2}}},
	}
	store := newStore(t)
	rec := &events.Recorder{}
	o := NewOrchestrator(ft, store, rec, 5*time.Millisecond)

	if _, err := o.Launch(context.Background(), "run", pipelines, "sess-9"); err != nil {
		t.Fatal(err)
	}
	stats := waitForStatistics(t, o)
	if stats.StudentCount != 25 || len(stats.StandReID) != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if ft.calls() != 1 {
		t.Fatalf("statistics calls = %d", ft.calls())
	}
	saved, err := store.LoadStatistics("sess-9")
	if err != nil || saved.StudentCount != 25 {
		t.Fatalf("persisted = %+v, %v", saved, err)
	}
	if rec.Count(events.StatisticsUpdated) != 1 {
		t.Fatalf("statistics events = %d", rec.Count(events.StatisticsUpdated))
	}
}

func TestDeferredStatisticsDroppedOnCancelAndReset(t *testing.T) {
	ft := &fakeTransport{
		results: []models.PipelineResult{{PipelineName: models.CameraFront, Status: models.PipelineSuccess, StreamEndpoint: "http://m/a"}},
	}
	o := NewOrchestrator(ft, nil, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	o.Launch(ctx, "run", pipelines, "s")
	cancel()

	o.Launch(context.Background(), "run", pipelines, "s")
	o.Reset()

	time.Sleep(50 * time.Millisecond)
	if ft.calls() != 0 {
		t.Fatalf("statistics calls = %d", ft.calls())
	}
	s := o.Snapshot()
	if s.Streams != (models.CameraStreamSet{}) || s.View != models.ViewNone || s.Statistics != nil {
		t.Fatalf("state after reset = %+v", s)
	}
}

func TestFetchStatisticsFallsBackToLastKnown(t *testing.T) {
	store := newStore(t)
	last := models.ClassStatistics{StudentCount: 12, RaiseUpCount: 5}
	if err := store.SaveStatistics("sess", last); err != nil {
		t.Fatal(err)
	}
	ft := &fakeTransport{statsErr: errors.New("503")}
	o := NewOrchestrator(ft, store, nil, time.Hour)

	got, err := o.FetchStatistics(context.Background(), "run", "sess")
	if err != nil {
		t.Fatalf("FetchStatistics: %v", err)
	}
	if got.StudentCount != 12 || o.Snapshot().Statistics == nil {
		t.Fatalf("got %+v", got)
	}

	if _, err := o.FetchStatistics(context.Background(), "run", "unknown"); err == nil {
		t.Fatal("expected error without a last known copy")
	}
	if _, err := o.FetchStatistics(context.Background(), "run", ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("empty session err = %v", err)
	}
}

func TestSelectView(t *testing.T) {
	ft := &fakeTransport{results: []models.PipelineResult{
		{PipelineName: models.CameraBack, Status: models.PipelineSuccess, StreamEndpoint: "https://m/b.m3u8"},
	}}
	o := NewOrchestrator(ft, nil, nil, time.Hour)

	if err := o.SelectView(models.ViewAll); !errors.Is(err, ErrViewUnavailable) {
		t.Fatalf("all without streams err = %v", err)
	}

	var lockedErr error
	ft.duringCall = func() { lockedErr = o.SelectView(models.ViewNone) }
	o.Launch(context.Background(), "run", pipelines, "s")
	if !errors.Is(lockedErr, ErrViewLocked) {
		t.Fatalf("select while loading err = %v", lockedErr)
	}

	if err := o.SelectView(models.ViewBack); err != nil {
		t.Fatalf("SelectView(back): %v", err)
	}
	if err := o.SelectView(models.ViewFront); !errors.Is(err, ErrViewUnavailable) {
		t.Fatalf("SelectView(front) err = %v", err)
	}
	if got := o.Snapshot().View; got != models.ViewBack {
		t.Fatalf("view = %q", got)
	}
}

func TestPipelinesFromSources(t *testing.T) {
	src := Sources{
		models.CameraContent: "board.mp4",
		models.CameraFront:   "/abs/front.mp4",
		models.CameraBack:    "rtsp://cam/back",
	}
	got := src.Pipelines("videos")
	want := []models.PipelineSpec{
		{Name: models.CameraFront, Source: "/abs/front.mp4"},
		{Name: models.CameraBack, Source: "rtsp://cam/back"},
		{Name: models.CameraContent, Source: filepath.Join("videos", "board.mp4")},
	}
	if len(got) != len(want) {
		t.Fatalf("pipelines = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pipeline %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(Sources{models.CameraBack: " "}.Pipelines("")) != 0 {
		t.Fatal("blank sources should be skipped")
	}
}
