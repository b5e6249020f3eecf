package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"clipsd/internal/checkpoint"
	"clipsd/internal/common/fsutil"
	"clipsd/internal/config"
	"clipsd/internal/httpapi"
	"clipsd/internal/monitor"
	"clipsd/internal/protocol"
	"clipsd/internal/quant"
	"clipsd/internal/registry"
	"clipsd/internal/tracker"
)

const (
	defaultAddr          = ":8080"
	defaultModelsDir     = "~/models/llm"
	defaultCheckpointDir = "~/.clipsd/checkpoints"
)

func runServe(opts *serveOptions) error {
	cfg := opts.cfg
	if opts.configPath != "" {
		fileCfg, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = mergeConfig(fileCfg, opts.cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = defaultModelsDir
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = defaultCheckpointDir
	}
	if cfg.CheckpointIntervalSec <= 0 {
		cfg.CheckpointIntervalSec = 60
	}

	d, err := buildDaemon(cfg)
	if err != nil {
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log.Logger)
	httpapi.SetCORSOptions(opts.corsOn, []string{"*"}, []string{"GET", "POST"}, []string{"*"})

	mux := httpapi.NewMux(d)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	d.Start()

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Bool("llama", quant.LlamaBuilt()).Msg("clipsd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	d.Stop(ctx)
	return nil
}

// mergeConfig overlays non-zero flag values onto the file config.
func mergeConfig(file, flags config.Config) config.Config {
	out := file
	if flags.Addr != "" {
		out.Addr = flags.Addr
	}
	if flags.ModelsDir != "" {
		out.ModelsDir = flags.ModelsDir
	}
	if flags.TotalMemoryMB != 0 {
		out.TotalMemoryMB = flags.TotalMemoryMB
	}
	if flags.WarningPct != 0 {
		out.WarningPct = flags.WarningPct
	}
	if flags.CriticalPct != 0 {
		out.CriticalPct = flags.CriticalPct
	}
	if flags.EmergencyPct != 0 {
		out.EmergencyPct = flags.EmergencyPct
	}
	if flags.CalmSamples != 0 {
		out.CalmSamples = flags.CalmSamples
	}
	if flags.SampleIntervalMS != 0 {
		out.SampleIntervalMS = flags.SampleIntervalMS
	}
	if flags.DefaultTTLSec != 0 {
		out.DefaultTTLSec = flags.DefaultTTLSec
	}
	if flags.GraceWindowSec != 0 {
		out.GraceWindowSec = flags.GraceWindowSec
	}
	if flags.CheckpointDir != "" {
		out.CheckpointDir = flags.CheckpointDir
	}
	if flags.CheckpointIntervalSec != 0 {
		out.CheckpointIntervalSec = flags.CheckpointIntervalSec
	}
	if flags.QualityFloor != 0 {
		out.QualityFloor = flags.QualityFloor
	}
	if flags.ContextSize != 0 {
		out.ContextSize = flags.ContextSize
	}
	if flags.Threads != 0 {
		out.Threads = flags.Threads
	}
	return out
}

// buildDaemon wires the full component graph from a resolved config.
func buildDaemon(cfg config.Config) (*daemon, error) {
	ttlByType := make(map[string]time.Duration, len(cfg.TTLByTypeSec))
	for typ, sec := range cfg.TTLByTypeSec {
		ttlByType[typ] = time.Duration(sec) * time.Second
	}
	tr := tracker.New(tracker.Config{
		TTLByType:   ttlByType,
		DefaultTTL:  time.Duration(cfg.DefaultTTLSec) * time.Second,
		GraceWindow: time.Duration(cfg.GraceWindowSec) * time.Second,
	}, log.With().Str("component", "tracker").Logger())
	validator := tracker.NewValidator(tr, log.With().Str("component", "validator").Logger())

	sampler := &monitor.ProcSampler{TotalOverrideMB: cfg.TotalMemoryMB}
	ctrl := quant.NewController(sampler)

	ckptDir, err := fsutil.ExpandHome(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	ckpt := checkpoint.NewManager(checkpoint.Config{
		Dir:      ckptDir,
		Interval: time.Duration(cfg.CheckpointIntervalSec) * time.Second,
	})

	proto := protocol.New(ctrl, tr, ckpt, sampler, protocol.Config{
		QualityFloor: cfg.QualityFloor,
		CalmTicks:    cfg.CalmSamples,
	})

	thresholds := monitor.Thresholds{
		WarningPct:   cfg.WarningPct,
		CriticalPct:  cfg.CriticalPct,
		EmergencyPct: cfg.EmergencyPct,
	}
	mon := monitor.New(sampler, proto, monitor.Config{
		Thresholds:  thresholds,
		Interval:    time.Duration(cfg.SampleIntervalMS) * time.Millisecond,
		CalmSamples: cfg.CalmSamples,
	})

	d := &daemon{
		startedAt: time.Now(),
		cfg:       cfg,
		tracker:   tr,
		validator: validator,
		ctrl:      ctrl,
		mon:       mon,
		proto:     proto,
		ckpt:      ckpt,
	}
	if err := d.loadModels(); err != nil {
		return nil, err
	}
	return d, nil
}

// loadModels scans the models directory and registers every discovered
// model with a GGUF backend and its on-disk fallback chain. A missing
// directory is not fatal; the daemon can run as a pure resource governor.
func (d *daemon) loadModels() error {
	entries, err := registry.LoadDir(d.cfg.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", d.cfg.ModelsDir).Msg("model scan failed, serving without models")
		return nil
	}
	for _, ent := range entries {
		backend := quant.NewGGUFBackend(ent.Paths, d.cfg.ContextSize, d.cfg.Threads)
		if err := d.ctrl.RegisterModel(ent.Name, ent.Chain, backend); err != nil {
			return err
		}
		log.Info().Str("model", ent.Name).Strs("chain", ent.Chain).Msg("model discovered")
	}
	return nil
}
