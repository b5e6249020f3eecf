package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipsd/pkg/types"
)

func TestClassifyThresholds(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		percent float64
		want    Level
	}{
		{0, LevelNormal},
		{60, LevelNormal},
		{74.9, LevelNormal},
		{75, LevelWarning},
		{80, LevelWarning},
		{90, LevelCritical},
		{91, LevelCritical},
		{98, LevelEmergency},
		{99, LevelEmergency},
		{100, LevelEmergency},
	}
	for _, tc := range cases {
		if got := th.Classify(tc.percent); got != tc.want {
			t.Fatalf("Classify(%v) = %v, want %v", tc.percent, got, tc.want)
		}
	}
}

func TestDefaultsApplied(t *testing.T) {
	m := New(&StaticSampler{}, nil, Config{})
	if m.cfg.Interval != time.Second {
		t.Fatalf("Interval = %v, want 1s", m.cfg.Interval)
	}
	if m.cfg.CalmSamples != 3 {
		t.Fatalf("CalmSamples = %d, want 3", m.cfg.CalmSamples)
	}
}

// UsedPercent rounds to one decimal so a reading sitting a fraction of an
// MB under a threshold still classifies at it. 410MB free of 4096 must be
// critical, not warning.
func TestUsedPercentBoundary(t *testing.T) {
	cases := []struct {
		usedMB, totalMB int
		want            float64
	}{
		{3686, 4096, 90},
		{2048, 4096, 50},
		{4096, 4096, 100},
		{0, 4096, 0},
		{100, 0, 0},
	}
	for _, tc := range cases {
		if got := UsedPercent(tc.usedMB, tc.totalMB); got != tc.want {
			t.Fatalf("UsedPercent(%d, %d) = %v, want %v", tc.usedMB, tc.totalMB, got, tc.want)
		}
	}
	if got := DefaultThresholds().Classify(UsedPercent(3686, 4096)); got != LevelCritical {
		t.Fatalf("410MB free of 4096 classified %v, want %v", got, LevelCritical)
	}
}

// stepSampler replays a fixed sequence of usage percentages.
type stepSampler struct {
	percents []float64
	i        int
}

func (s *stepSampler) Sample() (types.MemoryReading, error) {
	p := s.percents[s.i]
	if s.i < len(s.percents)-1 {
		s.i++
	}
	used := int(4096 * p / 100)
	return types.MemoryReading{
		TotalMB:     4096,
		UsedMB:      used,
		AvailableMB: 4096 - used,
		Percent:     p,
	}, nil
}

type levelRecorder struct {
	levels []Level
}

func (r *levelRecorder) OnLevel(level Level, _ types.MemoryReading) {
	r.levels = append(r.levels, level)
}

func driveMonitor(t *testing.T, percents []float64, calm int) []Level {
	t.Helper()
	rec := &levelRecorder{}
	m := New(&stepSampler{percents: percents}, rec, Config{CalmSamples: calm})
	for range percents {
		m.Tick()
	}
	return rec.levels
}

func TestEscalationIsImmediate(t *testing.T) {
	levels := driveMonitor(t, []float64{60, 99}, 3)
	want := []Level{LevelNormal, LevelEmergency}
	for i, w := range want {
		if levels[i] != w {
			t.Fatalf("tick %d: level = %v, want %v", i, levels[i], w)
		}
	}
}

func TestSingleDipDoesNotDeescalate(t *testing.T) {
	// One calm sample among hot ones must not lower the level.
	levels := driveMonitor(t, []float64{92, 70, 92, 92}, 3)
	for i, l := range levels {
		if l != LevelCritical {
			t.Fatalf("tick %d: level = %v, want critical throughout", i, l)
		}
	}
}

func TestDeescalationStepsOneLevel(t *testing.T) {
	// Emergency, then sustained calm: steps to critical after 3 calm
	// samples, not straight to normal.
	levels := driveMonitor(t, []float64{99, 60, 60, 60, 60, 60, 60}, 3)
	if levels[0] != LevelEmergency {
		t.Fatalf("tick 0: %v, want emergency", levels[0])
	}
	if levels[3] != LevelCritical {
		t.Fatalf("tick 3: %v, want critical (one step down)", levels[3])
	}
	if levels[6] != LevelWarning {
		t.Fatalf("tick 6: %v, want warning (second step down)", levels[6])
	}
}

func TestSamplerErrorKeepsLevel(t *testing.T) {
	rec := &levelRecorder{}
	m := New(&failingSampler{}, rec, Config{})
	m.Tick()
	if len(rec.levels) != 0 {
		t.Fatalf("sink called on sample failure")
	}
	if m.Level() != LevelNormal {
		t.Fatalf("level changed on sample failure")
	}
}

type failingSampler struct{}

func (s *failingSampler) Sample() (types.MemoryReading, error) {
	return types.MemoryReading{}, os.ErrNotExist
}

func TestProcSamplerParsesMeminfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	content := "MemTotal:        8388608 kB\nMemFree:          512000 kB\nMemAvailable:    2097152 kB\nBuffers:          100000 kB\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}

	s := &ProcSampler{Path: path}
	r, err := s.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if r.TotalMB != 8192 {
		t.Fatalf("TotalMB = %d, want 8192", r.TotalMB)
	}
	if r.AvailableMB != 2048 {
		t.Fatalf("AvailableMB = %d, want 2048", r.AvailableMB)
	}
	if r.UsedMB != 6144 {
		t.Fatalf("UsedMB = %d, want 6144", r.UsedMB)
	}
	if r.Percent < 74.9 || r.Percent > 75.1 {
		t.Fatalf("Percent = %v, want ~75", r.Percent)
	}
}

func TestProcSamplerTotalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	// 8GB host with 6GB available; a 4GB budget sees the same 2GB of use.
	content := "MemTotal:        8388608 kB\nMemAvailable:    6291456 kB\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write meminfo: %v", err)
	}

	s := &ProcSampler{Path: path, TotalOverrideMB: 4096}
	r, err := s.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if r.TotalMB != 4096 {
		t.Fatalf("TotalMB = %d, want 4096", r.TotalMB)
	}
	if r.UsedMB != 2048 {
		t.Fatalf("UsedMB = %d, want 2048", r.UsedMB)
	}
	if r.AvailableMB != 2048 {
		t.Fatalf("AvailableMB = %d, want 2048", r.AvailableMB)
	}
	if r.Percent != 50 {
		t.Fatalf("Percent = %v, want 50", r.Percent)
	}
}

func TestProcSamplerMissingFile(t *testing.T) {
	s := &ProcSampler{Path: filepath.Join(t.TempDir(), "absent")}
	if _, err := s.Sample(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
