package monitor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clipsd/pkg/types"
)

// LevelSink receives the classified pressure level on every sample. Sinks
// are called from the monitor goroutine and must not block for long.
type LevelSink interface {
	OnLevel(level Level, reading types.MemoryReading)
}

// LevelSinkFunc adapts a function to LevelSink.
type LevelSinkFunc func(level Level, reading types.MemoryReading)

func (f LevelSinkFunc) OnLevel(level Level, reading types.MemoryReading) { f(level, reading) }

// Config controls sampling cadence and de-escalation damping.
type Config struct {
	Thresholds Thresholds
	// Interval between samples.
	Interval time.Duration
	// CalmSamples is how many consecutive samples must classify below the
	// current level before the monitor steps down one level. Escalation is
	// immediate.
	CalmSamples int
}

// DefaultConfig samples every second and steps down after 3 calm samples.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), Interval: time.Second, CalmSamples: 3}
}

// Monitor periodically samples memory, classifies pressure with hysteresis
// and reports every sample to the sink.
type Monitor struct {
	sampler Sampler
	sink    LevelSink
	cfg     Config
	logger  zerolog.Logger

	mu        sync.Mutex
	level     Level
	calmCount int
	last      types.MemoryReading

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a monitor. Zero-value config fields fall back to defaults.
func New(sampler Sampler, sink LevelSink, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CalmSamples <= 0 {
		cfg.CalmSamples = def.CalmSamples
	}
	var zero Thresholds
	if cfg.Thresholds == zero {
		cfg.Thresholds = def.Thresholds
	}
	return &Monitor{
		sampler: sampler,
		sink:    sink,
		cfg:     cfg,
		logger:  log.With().Str("component", "monitor").Logger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the sampling loop. Call Stop to end it.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop ends the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.Tick()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick takes one sample, updates the level and notifies the sink. Exported
// so callers can drive the monitor manually instead of via Start.
func (m *Monitor) Tick() {
	reading, err := m.sampler.Sample()
	if err != nil {
		// Fail open: keep the current level rather than inventing pressure.
		m.logger.Warn().Err(err).Msg("memory sample failed")
		return
	}
	level := m.observe(reading)
	if m.sink != nil {
		m.sink.OnLevel(level, reading)
	}
}

// observe applies hysteresis: escalation is immediate, de-escalation steps
// down one level at a time after CalmSamples consecutive calmer samples.
func (m *Monitor) observe(reading types.MemoryReading) Level {
	classified := m.cfg.Thresholds.Classify(reading.Percent)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = reading
	switch {
	case classified > m.level:
		m.logger.Warn().
			Str("from", m.level.String()).
			Str("to", classified.String()).
			Float64("percent", reading.Percent).
			Msg("memory pressure escalated")
		m.level = classified
		m.calmCount = 0
	case classified < m.level:
		m.calmCount++
		if m.calmCount >= m.cfg.CalmSamples {
			m.level--
			m.calmCount = 0
			m.logger.Info().
				Str("to", m.level.String()).
				Float64("percent", reading.Percent).
				Msg("memory pressure eased")
		}
	default:
		m.calmCount = 0
	}
	return m.level
}

// Level returns the current pressure level.
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// LastReading returns the most recent sample.
func (m *Monitor) LastReading() types.MemoryReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
