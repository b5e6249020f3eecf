package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Config{Dir: t.TempDir()})
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	m.RegisterTask("clip-42", "transcode", []string{"s1", "s2", "s3"})
	if err := m.UpdateProgress("clip-42", 0.33, "transcode", "s1"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := m.SetMetadata("clip-42", "source", "a.mp4"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := m.SaveCheckpoint("clip-42"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := m.LoadCheckpoint("clip-42")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.TaskID != "clip-42" || loaded.Stage != "transcode" {
		t.Fatalf("unexpected checkpoint: %+v", loaded)
	}
	if loaded.Progress != 0.33 {
		t.Fatalf("Progress = %v, want 0.33", loaded.Progress)
	}
	if len(loaded.Completed) != 1 || loaded.Completed[0] != "s1" {
		t.Fatalf("Completed = %v, want [s1]", loaded.Completed)
	}
	if len(loaded.Pending) != 2 {
		t.Fatalf("Pending = %v, want [s2 s3]", loaded.Pending)
	}
	if loaded.Metadata["source"] != "a.mp4" {
		t.Fatalf("Metadata = %v", loaded.Metadata)
	}
}

func TestRecordFilesPersist(t *testing.T) {
	m := newTestManager(t)
	m.RegisterTask("clip-7", "export", []string{"s1"})
	if err := m.RecordSourceFile("clip-7", "s1", "/in/a.mp4"); err != nil {
		t.Fatalf("RecordSourceFile: %v", err)
	}
	if err := m.RecordOutputFile("clip-7", "s1", "/out/a.clip.mp4"); err != nil {
		t.Fatalf("RecordOutputFile: %v", err)
	}
	if err := m.SaveCheckpoint("clip-7"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	loaded, err := m.LoadCheckpoint("clip-7")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.SourceFiles["s1"] != "/in/a.mp4" {
		t.Fatalf("SourceFiles = %v", loaded.SourceFiles)
	}
	if loaded.OutputFiles["s1"] != "/out/a.clip.mp4" {
		t.Fatalf("OutputFiles = %v", loaded.OutputFiles)
	}
	if err := m.RecordSourceFile("ghost", "s1", "/in/b.mp4"); !IsUnknownTask(err) {
		t.Fatalf("RecordSourceFile on unknown task: err = %v", err)
	}
}

func TestUpdateProgressDedupesCompleted(t *testing.T) {
	m := newTestManager(t)
	m.RegisterTask("t", "cut", []string{"s1", "s2"})
	for i := 0; i < 3; i++ {
		if err := m.UpdateProgress("t", 0.5, "", "s1"); err != nil {
			t.Fatalf("UpdateProgress: %v", err)
		}
	}
	cp, err := m.Get("t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(cp.Completed) != 1 {
		t.Fatalf("Completed = %v, want single s1", cp.Completed)
	}
	if got := cp.RemainingSegments(); len(got) != 1 || got[0] != "s2" {
		t.Fatalf("RemainingSegments = %v, want [s2]", got)
	}
}

func TestUpdateProgressUnknownTask(t *testing.T) {
	m := newTestManager(t)
	err := m.UpdateProgress("ghost", 0.5, "", "")
	if !IsUnknownTask(err) {
		t.Fatalf("err = %v, want unknown task", err)
	}
}

func TestRemainingSegmentsDupSafe(t *testing.T) {
	cp := &Checkpoint{
		Completed: []string{"a", "a", "b"},
		Pending:   []string{"a", "b", "c", "c", "d"},
	}
	got := cp.RemainingSegments()
	want := []string{"c", "d"}
	if len(got) != len(want) {
		t.Fatalf("RemainingSegments = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RemainingSegments = %v, want %v", got, want)
		}
	}
}

func TestLoadCheckpointCorruption(t *testing.T) {
	m := newTestManager(t)
	m.RegisterTask("t", "cut", nil)
	if err := m.SaveCheckpoint("t"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	path := filepath.Join(m.cfg.Dir, "t.json")

	// Truncated JSON.
	if err := os.WriteFile(path, []byte("{\"task_id\": \"t\""), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	if _, err := m.LoadCheckpoint("t"); !IsCorruptCheckpoint(err) {
		t.Fatalf("err = %v, want corrupt checkpoint", err)
	}

	// Wrong task id inside the file.
	if err := os.WriteFile(path, []byte(`{"task_id":"other","version":1}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := m.LoadCheckpoint("t"); !IsCorruptCheckpoint(err) {
		t.Fatalf("err = %v, want corrupt checkpoint", err)
	}

	// Wrong format version.
	if err := os.WriteFile(path, []byte(`{"task_id":"t","version":99}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := m.LoadCheckpoint("t"); !IsCorruptCheckpoint(err) {
		t.Fatalf("err = %v, want corrupt checkpoint", err)
	}
}

func TestResumeRestoresInMemoryState(t *testing.T) {
	dir := t.TempDir()
	m1 := NewManager(Config{Dir: dir})
	m1.RegisterTask("t", "render", []string{"s1", "s2", "s3"})
	if err := m1.UpdateProgress("t", 0.66, "", "s1"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := m1.SaveAll(context.Background()); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	// Fresh manager over the same dir, as after a restart.
	m2 := NewManager(Config{Dir: dir})
	remaining, err := m2.Resume("t")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(remaining) != 2 || remaining[0] != "s2" || remaining[1] != "s3" {
		t.Fatalf("remaining = %v, want [s2 s3]", remaining)
	}
	if got := m2.Summaries(); len(got) != 1 || got[0].TaskID != "t" {
		t.Fatalf("Summaries = %+v", got)
	}
}

func TestFinalizeRemovesFile(t *testing.T) {
	m := newTestManager(t)
	m.RegisterTask("t", "cut", nil)
	if err := m.SaveCheckpoint("t"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if err := m.Finalize("t"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.cfg.Dir, "t.json")); !os.IsNotExist(err) {
		t.Fatalf("checkpoint file still present after finalize")
	}
	if err := m.Finalize("t"); !IsUnknownTask(err) {
		t.Fatalf("err = %v, want unknown task", err)
	}
}

func TestSaveAllHonorsContext(t *testing.T) {
	m := newTestManager(t)
	m.RegisterTask("t1", "cut", nil)
	m.RegisterTask("t2", "cut", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.SaveAll(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestStopFlushesDirtyTasks(t *testing.T) {
	m := NewManager(Config{Dir: t.TempDir(), Interval: time.Hour})
	m.Start()
	m.RegisterTask("t", "cut", []string{"s1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := m.LoadCheckpoint("t"); err != nil {
		t.Fatalf("LoadCheckpoint after Stop: %v", err)
	}
}
