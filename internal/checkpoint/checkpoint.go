package checkpoint

import (
	"time"
)

// formatVersion guards against loading checkpoints written by an
// incompatible daemon.
const formatVersion = 1

// Checkpoint is the durable progress record of one long-running task. It
// contains everything needed to resume after a crash or a fatal shutdown.
type Checkpoint struct {
	TaskID   string  `json:"task_id"`
	Version  int     `json:"version"`
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
	// Completed lists segment ids already processed.
	Completed []string `json:"completed"`
	// Pending lists segment ids still to process.
	Pending []string `json:"pending"`
	// SourceFiles and OutputFiles map logical names (e.g. a segment id) to
	// paths on disk.
	SourceFiles map[string]string `json:"source_files,omitempty"`
	OutputFiles map[string]string `json:"output_files,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RemainingSegments returns pending segments not already completed. Safe
// against duplicates in either list.
func (c *Checkpoint) RemainingSegments() []string {
	done := make(map[string]struct{}, len(c.Completed))
	for _, id := range c.Completed {
		done[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.Pending))
	out := make([]string, 0, len(c.Pending))
	for _, id := range c.Pending {
		if _, ok := done[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
