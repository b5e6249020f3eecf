//go:build llama

package quant

import (
	"fmt"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// GGUFBackend loads GGUF weight files in-process via llama.cpp. One backend
// governs one model; Paths maps quantization level names to weight files.
type GGUFBackend struct {
	Paths   map[string]string
	Context int
	Threads int

	mu    sync.Mutex
	model *llama.LLama
}

// NewGGUFBackend constructs a backend over a level->path map.
func NewGGUFBackend(paths map[string]string, ctxSize, threads int) *GGUFBackend {
	if ctxSize <= 0 {
		ctxSize = 2048
	}
	return &GGUFBackend{Paths: paths, Context: ctxSize, Threads: threads}
}

func (b *GGUFBackend) Load(level string) error {
	path, ok := b.Paths[level]
	if !ok {
		return fmt.Errorf("no weight file for level %s", level)
	}
	m, err := llama.New(path, llama.SetContext(b.Context))
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model != nil {
		b.model.Free()
	}
	b.model = m
	return nil
}

func (b *GGUFBackend) Unload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	return nil
}
