//go:build !llama

package quant

import (
	"fmt"
	"os"
	"sync"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

// GGUFBackend is the no-cgo variant: it validates the weight file exists and
// tracks which level is "loaded" without touching llama.cpp. Build with
// -tags=llama for real in-process loading.
type GGUFBackend struct {
	Paths   map[string]string
	Context int
	Threads int

	mu     sync.Mutex
	loaded string
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
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return fmt.Errorf("weight file unavailable: %s", path)
	}
	b.mu.Lock()
	b.loaded = level
	b.mu.Unlock()
	return nil
}

func (b *GGUFBackend) Unload() error {
	b.mu.Lock()
	b.loaded = ""
	b.mu.Unlock()
	return nil
}
