package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"clipsd/internal/checkpoint"
	"clipsd/internal/common/fsutil"
	"clipsd/internal/config"
)

// envStr returns an environment default or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// serveOptions collects every flag of the serve command. Flag defaults come
// from CLIPSD_* environment variables; a config file, when given, fills
// anything the flags left at zero.
type serveOptions struct {
	configPath string
	cfg        config.Config
	logLevel   string
	corsOn     bool
}

func buildRootCmd() *cobra.Command {
	opts := &serveOptions{}

	root := &cobra.Command{
		Use:           "clipsd",
		Short:         "Adaptive degradation daemon for quantized models on small hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envStr("CLIPSD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	f := root.Flags()
	f.StringVar(&opts.configPath, "config", envStr("CLIPSD_CONFIG", ""), "Path to config file (.yaml/.json/.toml)")
	f.StringVar(&opts.cfg.Addr, "addr", envStr("CLIPSD_ADDR", ""), "HTTP listen address, e.g. :8080")
	f.StringVar(&opts.cfg.ModelsDir, "models-dir", envStr("CLIPSD_MODELS_DIR", ""), "Directory to scan for *.gguf model files")
	f.IntVar(&opts.cfg.TotalMemoryMB, "total-memory-mb", envInt("CLIPSD_TOTAL_MEMORY_MB", 0), "Memory budget in MB (0=physical RAM)")
	f.Float64Var(&opts.cfg.WarningPct, "warning-pct", 0, "Warning threshold as used-memory percent")
	f.Float64Var(&opts.cfg.CriticalPct, "critical-pct", 0, "Critical threshold as used-memory percent")
	f.Float64Var(&opts.cfg.EmergencyPct, "emergency-pct", 0, "Emergency threshold as used-memory percent")
	f.IntVar(&opts.cfg.CalmSamples, "calm-samples", envInt("CLIPSD_CALM_SAMPLES", 0), "Consecutive calm samples before stepping pressure down")
	f.IntVar(&opts.cfg.SampleIntervalMS, "sample-interval-ms", envInt("CLIPSD_SAMPLE_INTERVAL_MS", 0), "Memory sampling interval in milliseconds")
	f.IntVar(&opts.cfg.DefaultTTLSec, "default-ttl-sec", envInt("CLIPSD_DEFAULT_TTL_SEC", 0), "Default resource TTL in seconds")
	f.IntVar(&opts.cfg.GraceWindowSec, "grace-window-sec", envInt("CLIPSD_GRACE_WINDOW_SEC", 0), "Grace window protecting recently touched resources, seconds")
	f.StringVar(&opts.cfg.CheckpointDir, "checkpoint-dir", envStr("CLIPSD_CHECKPOINT_DIR", ""), "Directory for task checkpoints")
	f.IntVar(&opts.cfg.CheckpointIntervalSec, "checkpoint-interval-sec", envInt("CLIPSD_CHECKPOINT_INTERVAL_SEC", 0), "Checkpoint auto-save interval in seconds")
	f.IntVar(&opts.cfg.QualityFloor, "quality-floor", envInt("CLIPSD_QUALITY_FLOOR", 0), "Minimum quality score kept while merely degraded")
	f.IntVar(&opts.cfg.ContextSize, "context-size", envInt("CLIPSD_CONTEXT_SIZE", 0), "Model context size")
	f.IntVar(&opts.cfg.Threads, "threads", envInt("CLIPSD_THREADS", 0), "Inference threads")
	f.BoolVar(&opts.corsOn, "cors", os.Getenv("CLIPSD_CORS") == "1", "Enable permissive CORS")

	root.AddCommand(buildCheckpointCmd())
	return root
}

func buildCheckpointCmd() *cobra.Command {
	var dir string
	ckptCmd := &cobra.Command{Use: "checkpoint", Short: "Inspect task checkpoints"}
	ckptCmd.PersistentFlags().StringVar(&dir, "checkpoint-dir", envStr("CLIPSD_CHECKPOINT_DIR", "~/.clipsd/checkpoints"), "Directory for task checkpoints")

	show := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print a persisted checkpoint as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ckptDir, err := fsutil.ExpandHome(dir)
			if err != nil {
				return err
			}
			mgr := checkpoint.NewManager(checkpoint.Config{Dir: ckptDir})
			cp, err := mgr.LoadCheckpoint(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	ckptCmd.AddCommand(show)
	return ckptCmd
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
