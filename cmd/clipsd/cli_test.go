package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"clipsd/internal/checkpoint"
	"clipsd/internal/config"
)

func TestMergeConfigFlagWins(t *testing.T) {
	file := config.Config{Addr: ":9000", ModelsDir: "/file", QualityFloor: 70, TotalMemoryMB: 4096}
	flags := config.Config{Addr: ":8081", QualityFloor: 0}
	out := mergeConfig(file, flags)
	if out.Addr != ":8081" {
		t.Fatalf("Addr = %q, want flag value", out.Addr)
	}
	if out.ModelsDir != "/file" {
		t.Fatalf("ModelsDir = %q, want file value", out.ModelsDir)
	}
	if out.QualityFloor != 70 {
		t.Fatalf("QualityFloor = %d, want file value kept for unset flag", out.QualityFloor)
	}
	if out.TotalMemoryMB != 4096 {
		t.Fatalf("TotalMemoryMB = %d", out.TotalMemoryMB)
	}
}

func TestCheckpointShowExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CLIPSD_CHECKPOINT_DIR", "")

	mgr := checkpoint.NewManager(checkpoint.Config{Dir: filepath.Join(home, ".clipsd", "checkpoints")})
	mgr.RegisterTask("job-1", "export", []string{"seg-0"})
	if err := mgr.SaveCheckpoint("job-1"); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cmd := buildCheckpointCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"show", "job-1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("checkpoint show with default dir: %v", err)
	}
	if !strings.Contains(out.String(), `"job-1"`) {
		t.Fatalf("output missing task id: %s", out.String())
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CLIPSD_TEST_STR", "x")
	if got := envStr("CLIPSD_TEST_STR", "y"); got != "x" {
		t.Fatalf("envStr = %q", got)
	}
	if got := envStr("CLIPSD_TEST_STR_MISSING", "y"); got != "y" {
		t.Fatalf("envStr fallback = %q", got)
	}
	t.Setenv("CLIPSD_TEST_INT", "42")
	if got := envInt("CLIPSD_TEST_INT", 7); got != 42 {
		t.Fatalf("envInt = %d", got)
	}
	t.Setenv("CLIPSD_TEST_INT", "not-a-number")
	if got := envInt("CLIPSD_TEST_INT", 7); got != 7 {
		t.Fatalf("envInt fallback = %d", got)
	}
}
