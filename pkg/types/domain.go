package types

import "time"

// Model represents a discoverable model on disk, one entry per GGUF variant.
type Model struct {
	// Stable identifier for the model family.
	// example: qwen2.5-7b
	ID string `json:"id" example:"qwen2.5-7b"`
	// Human-friendly name.
	// example: Qwen 2.5 7B
	Name string `json:"name" example:"Qwen 2.5 7B"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/qwen2.5-7b-Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/qwen2.5-7b-Q4_K_M.gguf"`
	// Quantization level string parsed from the filename.
	// example: Q4_K_M
	Quant string `json:"quant" example:"Q4_K_M"`
	// Optional family (e.g., llama, qwen, mistral).
	// example: qwen
	Family string `json:"family,omitempty" example:"qwen"`
}

// MemoryReading is a single sample of system memory usage.
type MemoryReading struct {
	// Total physical memory in MB.
	// example: 4096
	TotalMB int `json:"total_mb" example:"4096"`
	// Used memory in MB.
	// example: 3072
	UsedMB int `json:"used_mb" example:"3072"`
	// Available memory in MB.
	// example: 1024
	AvailableMB int `json:"available_mb" example:"1024"`
	// Used memory as a percentage of total.
	// example: 75.0
	Percent float64 `json:"percent" example:"75.0"`
	// Sample time.
	Timestamp time.Time `json:"timestamp"`
}
