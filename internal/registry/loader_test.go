package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDirGroupsVariantsByModel(t *testing.T) {
	d := t.TempDir()
	touch(t, d, "qwen2.5-7b-Q4_K_M.gguf")
	touch(t, d, "qwen2.5-7b-Q2_K.gguf")
	touch(t, d, "qwen2.5-7b-Q8_0.gguf")
	touch(t, d, "mistral-7b-Q5_K.gguf")
	touch(t, d, "notes.txt")
	touch(t, d, "unversioned.gguf")

	entries, err := LoadDir(d)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (%+v)", len(entries), entries)
	}

	// Sorted by name: mistral first.
	if entries[0].Name != "mistral-7b" || len(entries[0].Chain) != 1 || entries[0].Chain[0] != "Q5_K" {
		t.Fatalf("mistral entry: %+v", entries[0])
	}

	qwen := entries[1]
	if qwen.Name != "qwen2.5-7b" {
		t.Fatalf("qwen entry: %+v", qwen)
	}
	want := []string{"Q8_0", "Q4_K_M", "Q2_K"}
	if len(qwen.Chain) != len(want) {
		t.Fatalf("chain = %v, want %v", qwen.Chain, want)
	}
	for i, lv := range want {
		if qwen.Chain[i] != lv {
			t.Fatalf("chain = %v, want %v", qwen.Chain, want)
		}
	}
	if qwen.Paths["Q4_K_M"] != filepath.Join(d, "qwen2.5-7b-Q4_K_M.gguf") {
		t.Fatalf("paths = %v", qwen.Paths)
	}
}

func TestLoadDirLowercaseLevels(t *testing.T) {
	d := t.TempDir()
	touch(t, d, "llama-3.1-8b-q4_k_m.gguf")
	entries, err := LoadDir(d)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "llama-3.1-8b" || entries[0].Chain[0] != "Q4_K_M" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestModelsFlatten(t *testing.T) {
	d := t.TempDir()
	touch(t, d, "clip-7b-Q5_K.gguf")
	touch(t, d, "clip-7b-Q2_K.gguf")
	entries, err := LoadDir(d)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	models := Models(entries)
	if len(models) != 2 {
		t.Fatalf("models = %+v", models)
	}
	if models[0].ID != "clip-7b-Q5_K" || models[0].Quant != "Q5_K" {
		t.Fatalf("models[0] = %+v", models[0])
	}
}

func TestParseName(t *testing.T) {
	cases := []struct {
		in    string
		model string
		level string
		ok    bool
	}{
		{"qwen2.5-7b-Q4_K_M.gguf", "qwen2.5-7b", "Q4_K_M", true},
		{"m-Q2_K.gguf", "m", "Q2_K", true},
		{"m-q8_0.gguf", "m", "Q8_0", true},
		{"model-Q4-K-M.gguf", "model", "Q4_K_M", true},
		{"plain.gguf", "", "", false},
		{"model-Q9_X.gguf", "", "", false},
	}
	for _, tc := range cases {
		model, level, ok := parseName(tc.in)
		if ok != tc.ok || model != tc.model || level != tc.level {
			t.Fatalf("parseName(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.in, model, level, ok, tc.model, tc.level, tc.ok)
		}
	}
}
