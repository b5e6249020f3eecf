package types

import "time"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid request
	Error string `json:"error" example:"invalid request"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelStatus summarizes one governed model for /status.
type ModelStatus struct {
	// Model name.
	// example: qwen2.5-7b
	Name string `json:"name" example:"qwen2.5-7b"`
	// Currently loaded quantization level; empty when unloaded.
	// example: Q4_K_M
	CurrentLevel string `json:"current_level,omitempty" example:"Q4_K_M"`
	// Ordered fallback chain, highest quality first.
	Chain []string `json:"fallback_chain"`
}

// ResourceCounts aggregates tracked resources by lifecycle state.
type ResourceCounts struct {
	Active        int `json:"active"`
	Expired       int `json:"expired"`
	Released      int `json:"released"`
	ReleaseFailed int `json:"release_failed"`
	// Estimated size of active resources in MB.
	// example: 512
	ActiveMB int `json:"active_mb" example:"512"`
}

// ResourceStatus is a read-only view of one tracked resource.
type ResourceStatus struct {
	Key         string    `json:"key"`
	Type        string    `json:"type"`
	SizeMB      int       `json:"size_mb"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	LastTouched time.Time `json:"last_touched_at"`
}

// ReleaseStats summarizes release and rollback activity.
type ReleaseStats struct {
	ReleasesTotal      int            `json:"releases_total"`
	ReleasedMB         int            `json:"released_mb"`
	ByType             map[string]int `json:"by_type"`
	ValidationFailures int            `json:"validation_failures"`
	RollbackAttempts   int            `json:"rollback_attempts"`
	RollbackSuccesses  int            `json:"rollback_successes"`
	// Rollback success rate in [0,1]; 0 when no attempts.
	RollbackRate float64 `json:"rollback_rate"`
}

// CounterTotals carries monotonic activity counters for the metrics
// endpoint.
type CounterTotals struct {
	Switches           int `json:"switches"`
	ProtocolExecutions int `json:"protocol_executions"`
	CheckpointSaves    int `json:"checkpoint_saves"`
}

// SwitchRecord is one entry of the quantization switch history.
type SwitchRecord struct {
	FromLevel string        `json:"from_level,omitempty"`
	ToLevel   string        `json:"to_level"`
	Model     string        `json:"model"`
	Duration  time.Duration `json:"duration_ns"`
	// Memory usage percentage before and after the switch.
	MemoryBefore float64   `json:"memory_before"`
	MemoryAfter  float64   `json:"memory_after"`
	Timestamp    time.Time `json:"timestamp"`
	Reason       string    `json:"reason"`
	Success      bool      `json:"success"`
}

// ProtocolExecution records one fallback entry-action run.
type ProtocolExecution struct {
	ID           string        `json:"id"`
	Level        string        `json:"level"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Outcome      string        `json:"outcome"`
	MemoryBefore float64       `json:"memory_before"`
	MemoryAfter  float64       `json:"memory_after"`
}

// CheckpointSummary describes one persisted task checkpoint.
type CheckpointSummary struct {
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Progress  float64   `json:"progress"`
	Completed int       `json:"completed_segments"`
	Pending   int       `json:"pending_segments"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Current emergency level (normal, warning, critical, emergency, fatal).
	// example: normal
	Level string `json:"level" example:"normal"`
	// Most recent memory reading.
	Memory MemoryReading `json:"memory"`
	// Governed models and their current quantization levels.
	Models []ModelStatus `json:"models"`
	// Tracked resource counts by state.
	Resources ResourceCounts `json:"resources"`
	// Persisted task checkpoints.
	Checkpoints []CheckpointSummary `json:"checkpoints"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
