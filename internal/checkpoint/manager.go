package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clipsd/internal/common/fsutil"
	"clipsd/pkg/types"
)

// Config controls where checkpoints live and how often the auto-save loop
// flushes them.
type Config struct {
	// Dir is the checkpoint directory; created on first save.
	Dir string
	// Interval between automatic flushes. Zero disables the loop.
	Interval time.Duration
}

// Manager keeps per-task progress in memory and persists it as one JSON
// file per task. Updates are cheap in-memory writes; persistence happens on
// explicit save, on the auto-save interval, and during shutdown.
type Manager struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*Checkpoint
	dirty map[string]bool
	saves int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager builds a manager over cfg.Dir.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: log.With().Str("component", "checkpoint").Logger(),
		tasks:  make(map[string]*Checkpoint),
		dirty:  make(map[string]bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// RegisterTask creates the in-memory record for a task. Pending is the full
// segment worklist. An empty taskID gets a generated one. Registering an
// existing id replaces its record.
func (m *Manager) RegisterTask(taskID, stage string, pending []string) *Checkpoint {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	now := time.Now().UTC()
	cp := &Checkpoint{
		TaskID:    taskID,
		Version:   formatVersion,
		Stage:     stage,
		Pending:   append([]string(nil), pending...),
		Completed: []string{},
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.tasks[taskID] = cp
	m.dirty[taskID] = true
	m.mu.Unlock()
	m.logger.Info().Str("task", taskID).Str("stage", stage).Int("segments", len(pending)).Msg("task registered")
	return cp
}

// UpdateProgress records progress for a task. completedSegment, when
// non-empty, moves that segment from pending to completed; duplicates are
// ignored. The update touches memory only.
func (m *Manager) UpdateProgress(taskID string, progress float64, stage, completedSegment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.tasks[taskID]
	if !ok {
		return ErrUnknownTask(taskID)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	cp.Progress = progress
	if stage != "" {
		cp.Stage = stage
	}
	if completedSegment != "" {
		already := false
		for _, id := range cp.Completed {
			if id == completedSegment {
				already = true
				break
			}
		}
		if !already {
			cp.Completed = append(cp.Completed, completedSegment)
		}
		kept := cp.Pending[:0]
		for _, id := range cp.Pending {
			if id != completedSegment {
				kept = append(kept, id)
			}
		}
		cp.Pending = kept
	}
	cp.UpdatedAt = time.Now().UTC()
	m.dirty[taskID] = true
	return nil
}

// SetMetadata attaches a key/value pair to a task's checkpoint.
func (m *Manager) SetMetadata(taskID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.tasks[taskID]
	if !ok {
		return ErrUnknownTask(taskID)
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]string{}
	}
	cp.Metadata[key] = value
	cp.UpdatedAt = time.Now().UTC()
	m.dirty[taskID] = true
	return nil
}

// RecordSourceFile maps a logical name to a source path on the task's
// checkpoint.
func (m *Manager) RecordSourceFile(taskID, name, path string) error {
	return m.recordFile(taskID, name, path, false)
}

// RecordOutputFile maps a logical name to a produced output path.
func (m *Manager) RecordOutputFile(taskID, name, path string) error {
	return m.recordFile(taskID, name, path, true)
}

func (m *Manager) recordFile(taskID, name, path string, output bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.tasks[taskID]
	if !ok {
		return ErrUnknownTask(taskID)
	}
	if output {
		if cp.OutputFiles == nil {
			cp.OutputFiles = map[string]string{}
		}
		cp.OutputFiles[name] = path
	} else {
		if cp.SourceFiles == nil {
			cp.SourceFiles = map[string]string{}
		}
		cp.SourceFiles[name] = path
	}
	cp.UpdatedAt = time.Now().UTC()
	m.dirty[taskID] = true
	return nil
}

// Get returns a copy of a task's checkpoint.
func (m *Manager) Get(taskID string) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.tasks[taskID]
	if !ok {
		return Checkpoint{}, ErrUnknownTask(taskID)
	}
	return copyCheckpoint(cp), nil
}

// Summaries lists all registered tasks, sorted by task id.
func (m *Manager) Summaries() []types.CheckpointSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.CheckpointSummary, 0, len(m.tasks))
	for _, cp := range m.tasks {
		out = append(out, types.CheckpointSummary{
			TaskID:    cp.TaskID,
			Stage:     cp.Stage,
			Progress:  cp.Progress,
			Completed: len(cp.Completed),
			Pending:   len(cp.Pending),
			UpdatedAt: cp.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// SaveCheckpoint persists one task to disk atomically.
func (m *Manager) SaveCheckpoint(taskID string) error {
	m.mu.Lock()
	cp, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownTask(taskID)
	}
	snap := copyCheckpoint(cp)
	m.dirty[taskID] = false
	m.mu.Unlock()
	return m.write(&snap)
}

// SaveAll flushes every dirty task, stopping early if ctx expires. It
// returns the first write error but keeps flushing the remaining tasks.
func (m *Manager) SaveAll(ctx context.Context) error {
	m.mu.Lock()
	snaps := make([]Checkpoint, 0, len(m.tasks))
	for id, cp := range m.tasks {
		if m.dirty[id] {
			snaps = append(snaps, copyCheckpoint(cp))
			m.dirty[id] = false
		}
	}
	m.mu.Unlock()

	var firstErr error
	for i := range snaps {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if err := m.write(&snaps[i]); err != nil {
			m.logger.Error().Err(err).Str("task", snaps[i].TaskID).Msg("checkpoint save failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoadCheckpoint reads a task's checkpoint file from disk. A file that does
// not parse, carries the wrong version, or names a different task id is
// reported corrupt, never returned as an empty-but-valid record.
func (m *Manager) LoadCheckpoint(taskID string) (Checkpoint, error) {
	path := m.pathFor(taskID)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, ErrCorruptCheckpoint(path, err.Error())
	}
	if cp.Version != formatVersion {
		return Checkpoint{}, ErrCorruptCheckpoint(path, fmt.Sprintf("version %d, want %d", cp.Version, formatVersion))
	}
	if cp.TaskID != taskID {
		return Checkpoint{}, ErrCorruptCheckpoint(path, fmt.Sprintf("task id %q, want %q", cp.TaskID, taskID))
	}
	return cp, nil
}

// Resume loads a checkpoint from disk and registers it in memory, returning
// the segments still to process.
func (m *Manager) Resume(taskID string) ([]string, error) {
	cp, err := m.LoadCheckpoint(taskID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.tasks[taskID] = &cp
	m.mu.Unlock()
	m.logger.Info().Str("task", taskID).Float64("progress", cp.Progress).Msg("task resumed from checkpoint")
	return cp.RemainingSegments(), nil
}

// Finalize marks a task complete and removes its checkpoint file.
func (m *Manager) Finalize(taskID string) error {
	m.mu.Lock()
	_, ok := m.tasks[taskID]
	delete(m.tasks, taskID)
	delete(m.dirty, taskID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownTask(taskID)
	}
	if err := os.Remove(m.pathFor(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	m.logger.Info().Str("task", taskID).Msg("task finalized")
	return nil
}

// Start launches the auto-save loop when an interval is configured.
func (m *Manager) Start() {
	if m.cfg.Interval <= 0 {
		close(m.doneCh)
		return
	}
	go m.loop()
}

// Stop ends the auto-save loop and performs a final flush.
func (m *Manager) Stop(ctx context.Context) error {
	close(m.stopCh)
	<-m.doneCh
	return m.SaveAll(ctx)
}

func (m *Manager) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.SaveAll(context.Background()); err != nil {
				m.logger.Error().Err(err).Msg("periodic checkpoint flush failed")
			}
		}
	}
}

func (m *Manager) pathFor(taskID string) string {
	// Task ids come from callers; keep the filename flat.
	safe := strings.ReplaceAll(taskID, string(os.PathSeparator), "_")
	return filepath.Join(m.cfg.Dir, safe+".json")
}

func (m *Manager) write(cp *Checkpoint) error {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(m.pathFor(cp.TaskID), raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	return nil
}

// SavesTotal reports how many checkpoint files have been written since
// startup.
func (m *Manager) SavesTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func copyCheckpoint(cp *Checkpoint) Checkpoint {
	out := *cp
	out.Completed = append([]string(nil), cp.Completed...)
	out.Pending = append([]string(nil), cp.Pending...)
	out.SourceFiles = copyStringMap(cp.SourceFiles)
	out.OutputFiles = copyStringMap(cp.OutputFiles)
	out.Metadata = copyStringMap(cp.Metadata)
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
