package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clipsd/internal/common/fsutil"
	"clipsd/internal/quant"
	"clipsd/pkg/types"
)

// Entry groups the GGUF variants of one model found on disk.
type Entry struct {
	// Name is the model portion of the filename, e.g. "qwen2.5-7b".
	Name string
	// Paths maps quantization level names to weight files.
	Paths map[string]string
	// Chain lists the available levels, highest quality first.
	Chain []string
}

// LoadDir scans a directory for `<model>-<LEVEL>.gguf` files and groups them
// into per-model entries with their fallback chains. Files whose suffix is
// not a known quantization level are ignored.
func LoadDir(dir string) ([]Entry, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	byModel := make(map[string]*Entry)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		model, level, ok := parseName(name)
		if !ok {
			continue
		}
		ent, exists := byModel[model]
		if !exists {
			ent = &Entry{Name: model, Paths: make(map[string]string)}
			byModel[model] = ent
		}
		ent.Paths[level] = filepath.Join(abs, name)
	}

	out := make([]Entry, 0, len(byModel))
	for _, ent := range byModel {
		levels := make([]quant.Level, 0, len(ent.Paths))
		for ln := range ent.Paths {
			lv, _ := quant.KnownLevel(ln)
			levels = append(levels, lv)
		}
		sorted := quant.SortChain(levels)
		ent.Chain = make([]string, len(sorted))
		for i, lv := range sorted {
			ent.Chain[i] = lv.Name
		}
		out = append(out, *ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Models flattens entries into the wire representation, one per variant.
func Models(entries []Entry) []types.Model {
	var models []types.Model
	for _, ent := range entries {
		for _, level := range ent.Chain {
			models = append(models, types.Model{
				ID:    ent.Name + "-" + level,
				Name:  ent.Name,
				Path:  ent.Paths[level],
				Quant: level,
			})
		}
	}
	return models
}

// parseName splits "<model>-<LEVEL>.gguf". The level match is
// case-insensitive and tolerates dashes inside the level ("Q4-K-M"); the
// canonical spelling is returned. Dash positions are tried right to left so
// the shortest valid level suffix wins.
func parseName(filename string) (model, level string, ok bool) {
	stem := filename[:len(filename)-len(".gguf")]
	for i := len(stem) - 2; i > 0; i-- {
		if stem[i] != '-' {
			continue
		}
		candidate := strings.ToUpper(strings.ReplaceAll(stem[i+1:], "-", "_"))
		if _, known := quant.KnownLevel(candidate); known {
			return stem[:i], candidate, true
		}
	}
	return "", "", false
}
