package settings

import (
	"context"
	"errors"
	"testing"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/storage"
)

type fakeRemote struct {
	settings models.Settings
	getErr   error
	saveErr  error
	saved    []models.Settings
}

func (f *fakeRemote) GetSettings(ctx context.Context) (models.Settings, error) {
	return f.settings, f.getErr
}

func (f *fakeRemote) SaveSettings(ctx context.Context, s models.Settings) error {
	f.saved = append(f.saved, s)
	return f.saveErr
}

func newLocal(t *testing.T) storage.DiskStore {
	t.Helper()
	store, err := storage.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadMergesLocalCopy(t *testing.T) {
	local := newLocal(t)
	local.SaveSettings(models.Settings{FrontCamera: "local-front", BoardCamera: "local-board", ProjectName: "old"})

	remote := &fakeRemote{settings: models.Settings{ProjectName: "Room 12", FrontCamera: "cam-0"}}
	rec := &events.Recorder{}
	svc := NewService(remote, local, rec)

	got := svc.Load(context.Background())
	want := models.Settings{ProjectName: "Room 12", FrontCamera: "cam-0", BoardCamera: "local-board"}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
	if svc.Current() != want {
		t.Fatalf("current = %+v", svc.Current())
	}
	evs := rec.Events()
	if len(evs) != 1 || evs[0].Kind != events.SettingsLoaded || *evs[0].Settings != want {
		t.Fatalf("events = %+v", evs)
	}
}

func TestLoadFallsBackWhenRemoteFails(t *testing.T) {
	local := newLocal(t)
	local.SaveSettings(models.Settings{Microphone: "usb-mic"})
	svc := NewService(&fakeRemote{getErr: errors.New("503")}, local, nil)

	if got := svc.Load(context.Background()); got.Microphone != "usb-mic" {
		t.Fatalf("settings = %+v", got)
	}
	if got := NewService(&fakeRemote{getErr: errors.New("503")}, nil, nil).Load(context.Background()); got != (models.Settings{}) {
		t.Fatalf("settings without local = %+v", got)
	}
}

func TestSaveKeepsLocalCopyOnRemoteFailure(t *testing.T) {
	local := newLocal(t)
	remote := &fakeRemote{saveErr: errors.New("connection refused")}
	svc := NewService(remote, local, nil)

	want := models.Settings{ProjectName: "Lab", BackCamera: "cam-2"}
	if err := svc.Save(context.Background(), want); err == nil {
		t.Fatal("expected remote error")
	}
	saved, err := local.LoadSettings()
	if err != nil || saved != want {
		t.Fatalf("local = %+v, %v", saved, err)
	}
	if len(remote.saved) != 1 || svc.Current() != want {
		t.Fatalf("remote saves = %d, current = %+v", len(remote.saved), svc.Current())
	}
}
