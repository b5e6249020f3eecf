package protocol

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clipsd/internal/monitor"
	"clipsd/internal/quant"
	"clipsd/pkg/types"
)

// ExitCodeFatal is the process exit status after a fatal shutdown.
const ExitCodeFatal = 17

const (
	historyCap = 50
	// defaultQualityFloor is the lowest quality accepted while merely
	// degraded (warning). Deeper levels ignore the floor.
	defaultQualityFloor = 60
	// defaultSavedExpiry bounds how long a pre-degradation level stays
	// eligible for recovery.
	defaultSavedExpiry = 5 * time.Minute
	// defaultCalmTicks is how many consecutive normal reports precede one
	// recovery step.
	defaultCalmTicks = 3
	// defaultFatalTimeout boxes checkpoint flushing during fatal shutdown.
	defaultFatalTimeout = 5 * time.Second
)

// QuantController is the slice of the quantization controller the protocol
// drives.
type QuantController interface {
	Models() []types.ModelStatus
	CurrentLevel(name string) string
	FallbackChain(name string) []quant.Level
	Switch(name, target string) (bool, error)
	AutoSwitchFloor(name string, minQuality int) (bool, error)
}

// ResourceReleaser frees tracked resources under pressure.
type ResourceReleaser interface {
	ReleaseExpired(partial, force bool) int
	ForceReleaseAll() int
}

// CheckpointSaver persists task progress before the process dies.
type CheckpointSaver interface {
	SaveAll(ctx context.Context) error
}

// savedLevel remembers where a model ran before degradation started.
type savedLevel struct {
	level   string
	savedAt time.Time
}

// Config tunes the protocol's entry actions.
type Config struct {
	// QualityFloor for warning-level degradation.
	QualityFloor int
	// SavedExpiry bounds recovery eligibility after degradation.
	SavedExpiry time.Duration
	// CalmTicks is consecutive normal reports required per recovery step.
	CalmTicks int
	// FatalTimeout boxes checkpoint flushing during fatal shutdown.
	FatalTimeout time.Duration
}

// Protocol reacts to memory pressure levels with staged entry actions:
// degrade quantization, shed expired resources, and as a last resort
// checkpoint everything and exit. Each action runs at most once per level
// report; re-entry while an action is in flight is skipped.
type Protocol struct {
	quan    QuantController
	tracker ResourceReleaser
	ckpt    CheckpointSaver
	sampler monitor.Sampler
	cfg     Config
	logger  zerolog.Logger

	mu         sync.Mutex
	inflight   map[monitor.Level]bool
	history    []types.ProtocolExecution
	executions int
	saved      map[string]savedLevel
	calmCount  int

	// test seams
	exit func(int)
	gcFn func()
}

// New builds a protocol over the given collaborators. sampler may be nil;
// execution records then carry only the triggering reading.
func New(quan QuantController, tr ResourceReleaser, ckpt CheckpointSaver, sampler monitor.Sampler, cfg Config) *Protocol {
	if cfg.QualityFloor <= 0 {
		cfg.QualityFloor = defaultQualityFloor
	}
	if cfg.SavedExpiry <= 0 {
		cfg.SavedExpiry = defaultSavedExpiry
	}
	if cfg.CalmTicks <= 0 {
		cfg.CalmTicks = defaultCalmTicks
	}
	if cfg.FatalTimeout <= 0 {
		cfg.FatalTimeout = defaultFatalTimeout
	}
	return &Protocol{
		quan:     quan,
		tracker:  tr,
		ckpt:     ckpt,
		sampler:  sampler,
		cfg:      cfg,
		logger:   log.With().Str("component", "protocol").Logger(),
		inflight: make(map[monitor.Level]bool),
		saved:    make(map[string]savedLevel),
		exit:     os.Exit,
		gcFn:     runtime.GC,
	}
}

// OnLevel implements monitor.LevelSink.
func (p *Protocol) OnLevel(level monitor.Level, reading types.MemoryReading) {
	switch level {
	case monitor.LevelNormal:
		p.onNormal(reading)
	case monitor.LevelWarning, monitor.LevelCritical, monitor.LevelEmergency, monitor.LevelFatal:
		p.execute(level, reading)
	}
}

// execute runs the entry action for a level, at most once concurrently per
// level, and records the run.
func (p *Protocol) execute(level monitor.Level, reading types.MemoryReading) {
	p.mu.Lock()
	if p.inflight[level] {
		p.mu.Unlock()
		return
	}
	p.inflight[level] = true
	p.calmCount = 0
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inflight[level] = false
		p.mu.Unlock()
	}()

	rec := types.ProtocolExecution{
		ID:           uuid.NewString(),
		Level:        level.String(),
		StartedAt:    time.Now().UTC(),
		MemoryBefore: reading.Percent,
	}
	p.logger.Warn().Str("level", level.String()).Float64("percent", reading.Percent).Msg("pressure response started")

	var outcome string
	switch level {
	case monitor.LevelWarning:
		outcome = p.onWarning()
	case monitor.LevelCritical:
		outcome = p.onCritical()
	case monitor.LevelEmergency:
		outcome = p.onEmergency()
	case monitor.LevelFatal:
		outcome = p.onFatal()
	}

	rec.Duration = time.Since(rec.StartedAt)
	rec.Outcome = outcome
	rec.MemoryAfter = p.samplePercent(reading.Percent)
	p.record(rec)
	p.logger.Info().Str("level", level.String()).Str("outcome", outcome).Dur("took", rec.Duration).Msg("pressure response finished")
}

// onWarning degrades each model to the best level fitting available memory
// while keeping quality at or above the floor, then nudges the runtime to
// return freed memory.
func (p *Protocol) onWarning() string {
	ok := true
	for _, m := range p.quan.Models() {
		p.rememberLevel(m.Name, m.CurrentLevel)
		if _, err := p.quan.AutoSwitchFloor(m.Name, p.cfg.QualityFloor); err != nil {
			p.logger.Error().Err(err).Str("model", m.Name).Msg("warning degradation failed")
			ok = false
		}
	}
	p.gcFn()
	if !ok {
		return "partial"
	}
	return "completed"
}

// onCritical sheds expired low-priority resources first, then drops the
// quality floor entirely so the picker sees the freed memory.
func (p *Protocol) onCritical() string {
	released := p.tracker.ReleaseExpired(true, false)
	p.logger.Info().Int("released", released).Msg("expired low-priority resources shed")
	ok := true
	for _, m := range p.quan.Models() {
		p.rememberLevel(m.Name, m.CurrentLevel)
		if _, err := p.quan.AutoSwitchFloor(m.Name, 0); err != nil {
			p.logger.Error().Err(err).Str("model", m.Name).Msg("critical degradation failed")
			ok = false
		}
	}
	p.gcFn()
	if !ok {
		return "partial"
	}
	return "completed"
}

// onEmergency forces every model to the cheapest chain level. A failed
// switch triggers a forced release of all expired resources and one retry,
// then a walk up the chain. If no level loads for some model, the protocol
// escalates to fatal.
func (p *Protocol) onEmergency() string {
	p.tracker.ReleaseExpired(false, true)
	for _, m := range p.quan.Models() {
		p.rememberLevel(m.Name, m.CurrentLevel)
		if !p.emergencySwitch(m.Name) {
			p.logger.Error().Str("model", m.Name).Msg("emergency degradation exhausted, escalating")
			p.onFatal()
			return "escalated"
		}
	}
	p.gcFn()
	return "completed"
}

// emergencySwitch walks the model's chain cheapest-first until a level
// loads. Before giving up on the cheapest level it force-releases everything
// expired and retries once.
func (p *Protocol) emergencySwitch(name string) bool {
	chain := p.quan.FallbackChain(name)
	for i := len(chain) - 1; i >= 0; i-- {
		target := chain[i].Name
		if ok, err := p.quan.Switch(name, target); ok && err == nil {
			return true
		}
		if i == len(chain)-1 {
			p.tracker.ForceReleaseAll()
			p.gcFn()
			if ok, err := p.quan.Switch(name, target); ok && err == nil {
				return true
			}
		}
	}
	return false
}

// onFatal persists all task checkpoints within a deadline, releases every
// tracked resource, and terminates the process.
func (p *Protocol) onFatal() string {
	p.logger.Error().Msg("fatal memory pressure, checkpointing and shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FatalTimeout)
	defer cancel()
	if err := p.ckpt.SaveAll(ctx); err != nil {
		p.logger.Error().Err(err).Msg("checkpoint flush incomplete before shutdown")
	}
	p.tracker.ForceReleaseAll()
	p.exit(ExitCodeFatal)
	return "fatal"
}

// onNormal counts calm reports and, once sustained, steps each degraded
// model one level back toward where it ran before degradation. Saved levels
// older than the expiry are dropped rather than restored.
func (p *Protocol) onNormal(reading types.MemoryReading) {
	p.mu.Lock()
	p.calmCount++
	if p.calmCount < p.cfg.CalmTicks {
		p.mu.Unlock()
		return
	}
	p.calmCount = 0
	saved := make(map[string]savedLevel, len(p.saved))
	for k, v := range p.saved {
		saved[k] = v
	}
	p.mu.Unlock()

	for name, sv := range saved {
		if time.Since(sv.savedAt) > p.cfg.SavedExpiry {
			p.forget(name)
			continue
		}
		target, done := p.stepToward(name, sv.level)
		if done {
			p.forget(name)
			continue
		}
		if target == "" {
			continue
		}
		if ok, err := p.quan.Switch(name, target); !ok || err != nil {
			p.logger.Warn().Err(err).Str("model", name).Str("to", target).Msg("recovery step failed")
			continue
		}
		p.logger.Info().Str("model", name).Str("to", target).Float64("percent", reading.Percent).Msg("recovered one quantization level")
		if target == sv.level {
			p.forget(name)
		}
	}
}

// stepToward returns the next level one rank above current on the way to
// target, or done=true when current already matches target.
func (p *Protocol) stepToward(name, target string) (next string, done bool) {
	current := p.quan.CurrentLevel(name)
	if current == target {
		return "", true
	}
	chain := p.quan.FallbackChain(name)
	idx := -1
	for i, lv := range chain {
		if lv.Name == current {
			idx = i
			break
		}
	}
	if idx <= 0 {
		// Unloaded or already at the head of the chain.
		if idx == 0 {
			return "", true
		}
		return target, false
	}
	return chain[idx-1].Name, false
}

// rememberLevel saves a model's pre-degradation level once per episode.
func (p *Protocol) rememberLevel(name, level string) {
	if level == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.saved[name]; !ok {
		p.saved[name] = savedLevel{level: level, savedAt: time.Now()}
	}
}

func (p *Protocol) forget(name string) {
	p.mu.Lock()
	delete(p.saved, name)
	p.mu.Unlock()
}

func (p *Protocol) samplePercent(fallback float64) float64 {
	if p.sampler == nil {
		return fallback
	}
	r, err := p.sampler.Sample()
	if err != nil {
		return fallback
	}
	return r.Percent
}

func (p *Protocol) record(rec types.ProtocolExecution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executions++
	p.history = append(p.history, rec)
	if len(p.history) > historyCap {
		p.history = p.history[len(p.history)-historyCap:]
	}
}

// ExecutionsTotal reports how many protocol actions have run since startup,
// unbounded unlike the history ring.
func (p *Protocol) ExecutionsTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executions
}

// Executions returns a copy of the protocol run history, oldest first.
func (p *Protocol) Executions() []types.ProtocolExecution {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ProtocolExecution, len(p.history))
	copy(out, p.history)
	return out
}
