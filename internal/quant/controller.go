package quant

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clipsd/pkg/types"
)

// MemorySampler reports current host memory. The controller records a
// reading around each switch for the history log.
type MemorySampler interface {
	Sample() (types.MemoryReading, error)
}

const historyCap = 100

type pairTiming struct {
	count int
	total time.Duration
}

type modelState struct {
	backend   Backend
	chain     []Level
	current   string
	switching bool
}

// Controller owns per-model quantization state: which level each model is
// running at, the fallback chain it may move along, and a bounded history of
// completed switches.
type Controller struct {
	mu     sync.Mutex
	models map[string]*modelState
	// history keeps the most recent switches, oldest first.
	history []types.SwitchRecord
	timing  map[string]*pairTiming
	// switches counts every recorded attempt, unlike the bounded history.
	switches int
	mem      MemorySampler
	logger   zerolog.Logger
}

// NewController builds an empty controller. mem may be nil, in which case
// switch records carry zero memory readings.
func NewController(mem MemorySampler) *Controller {
	return &Controller{
		models: make(map[string]*modelState),
		timing: make(map[string]*pairTiming),
		mem:    mem,
		logger: log.With().Str("component", "quant").Logger(),
	}
}

// RegisterModel adds a model with its fallback chain and backend. The chain
// is normalized to canonical order (highest quality first); at least one
// known level is required. The model starts unloaded.
func (c *Controller) RegisterModel(name string, chain []string, backend Backend) error {
	if name == "" {
		return fmt.Errorf("model name required")
	}
	levels := make([]Level, 0, len(chain))
	for _, ln := range chain {
		lv, ok := KnownLevel(ln)
		if !ok {
			return ErrUnknownLevel(ln)
		}
		levels = append(levels, lv)
	}
	if len(levels) == 0 {
		return fmt.Errorf("model %s: empty fallback chain", name)
	}
	levels = SortChain(levels)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.models[name]; exists {
		return fmt.Errorf("model %s already registered", name)
	}
	c.models[name] = &modelState{backend: backend, chain: levels}
	c.logger.Info().Str("model", name).Int("chain_len", len(levels)).Msg("model registered")
	return nil
}

// CurrentLevel returns the level a model is running at, or "" when the model
// is unknown or unloaded.
func (c *Controller) CurrentLevel(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.models[name]
	if !ok {
		return ""
	}
	return st.current
}

// FallbackChain returns a copy of the model's chain, highest quality first.
func (c *Controller) FallbackChain(name string) []Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.models[name]
	if !ok {
		return nil
	}
	out := make([]Level, len(st.chain))
	copy(out, st.chain)
	return out
}

// Models lists registered model names with their current level and chain.
func (c *Controller) Models() []types.ModelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ModelStatus, 0, len(c.models))
	for name, st := range c.models {
		chain := make([]string, len(st.chain))
		for i, lv := range st.chain {
			chain[i] = lv.Name
		}
		out = append(out, types.ModelStatus{Name: name, CurrentLevel: st.current, Chain: chain})
	}
	return out
}

// Switch moves a model to the target level. Switching to the current level
// is a successful no-op and is not recorded. The target must belong to the
// model's chain. On backend failure the model is left unloaded and the
// failed attempt is still recorded in history.
func (c *Controller) Switch(name, target string) (bool, error) {
	c.mu.Lock()
	st, ok := c.models[name]
	if !ok {
		c.mu.Unlock()
		return false, ErrUnknownModel(name)
	}
	if st.current == target {
		c.mu.Unlock()
		return true, nil
	}
	inChain := false
	for _, lv := range st.chain {
		if lv.Name == target {
			inChain = true
			break
		}
	}
	if !inChain {
		c.mu.Unlock()
		return false, ErrLevelNotInChain(name, target)
	}
	if st.switching {
		c.mu.Unlock()
		return false, ErrSwitchInProgress(name)
	}
	st.switching = true
	from := st.current
	backend := st.backend
	c.mu.Unlock()

	memBefore := c.sample()
	start := time.Now()

	var switchErr error
	if from != "" {
		if err := backend.Unload(); err != nil {
			switchErr = fmt.Errorf("unload %s: %w", from, err)
		}
	}
	if switchErr == nil {
		if err := backend.Load(target); err != nil {
			switchErr = fmt.Errorf("load %s: %w", target, err)
		}
	}

	dur := time.Since(start)
	memAfter := c.sample()

	c.mu.Lock()
	st.switching = false
	if switchErr != nil {
		st.current = ""
	} else {
		st.current = target
	}
	c.record(types.SwitchRecord{
		FromLevel:    from,
		ToLevel:      target,
		Model:        name,
		Duration:     dur,
		MemoryBefore: memBefore.Percent,
		MemoryAfter:  memAfter.Percent,
		Timestamp:    time.Now().UTC(),
		Reason:       "manual",
		Success:      switchErr == nil,
	})
	c.mu.Unlock()

	if switchErr != nil {
		c.logger.Error().Err(switchErr).Str("model", name).Str("from", from).Str("to", target).Msg("quantization switch failed")
		return false, switchErr
	}
	c.logger.Info().Str("model", name).Str("from", from).Str("to", target).Dur("took", dur).Msg("quantization switched")
	return true, nil
}

// AutoSwitch picks the highest-quality level fitting in currently available
// memory and switches to it, with no quality floor.
func (c *Controller) AutoSwitch(name string) (bool, error) {
	return c.AutoSwitchFloor(name, 0)
}

// AutoSwitchFloor is AutoSwitch with a minimum acceptable quality score.
// When no chain level at or above the floor fits, the cheapest level at or
// above the floor is chosen anyway; degrading beats failing outright.
func (c *Controller) AutoSwitchFloor(name string, minQuality int) (bool, error) {
	chain := c.FallbackChain(name)
	if chain == nil {
		return false, ErrUnknownModel(name)
	}
	reading := c.sample()
	var target string
	if lv, ok := PickLevel(reading.AvailableMB, chain, minQuality); ok {
		target = lv.Name
	} else {
		// Nothing fits: take the cheapest admissible level.
		for i := len(chain) - 1; i >= 0; i-- {
			if chain[i].Quality >= minQuality {
				target = chain[i].Name
				break
			}
		}
	}
	if target == "" {
		return false, fmt.Errorf("model %s: no chain level satisfies quality floor %d", name, minQuality)
	}
	if c.CurrentLevel(name) == target {
		return true, nil
	}
	sw, err := c.Switch(name, target)
	if err != nil {
		return false, err
	}
	c.annotateLast("auto")
	return sw, nil
}

// SwitchResult reports the outcome of EvaluateAndSwitch.
type SwitchResult struct {
	Success    bool
	From       string
	To         string
	SwitchTime time.Duration
	Evaluation Evaluation
}

// EvaluateAndSwitch performs a switch and scores the transition between the
// two levels' nominal footprints and quality.
func (c *Controller) EvaluateAndSwitch(name, target string) (SwitchResult, error) {
	from := c.CurrentLevel(name)
	start := time.Now()
	ok, err := c.Switch(name, target)
	res := SwitchResult{
		Success:    ok && err == nil,
		From:       from,
		To:         target,
		SwitchTime: time.Since(start),
	}
	if err != nil {
		return res, err
	}
	if fromLv, okF := KnownLevel(from); okF {
		if toLv, okT := KnownLevel(target); okT {
			res.Evaluation = Evaluate(fromLv, toLv)
		}
	}
	return res, nil
}

// History returns a copy of the switch log, oldest first.
func (c *Controller) History() []types.SwitchRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.SwitchRecord, len(c.history))
	copy(out, c.history)
	return out
}

// AverageSwitchTime reports the mean duration for a from->to pair. Zero when
// the pair has never completed.
func (c *Controller) AverageSwitchTime(from, to string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt, ok := c.timing[from+"->"+to]
	if !ok || pt.count == 0 {
		return 0
	}
	return pt.total / time.Duration(pt.count)
}

// OverallAverageSwitchTime reports the mean duration across all recorded
// switches.
func (c *Controller) OverallAverageSwitchTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var count int
	var total time.Duration
	for _, pt := range c.timing {
		count += pt.count
		total += pt.total
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

func (c *Controller) sample() types.MemoryReading {
	if c.mem == nil {
		return types.MemoryReading{}
	}
	r, err := c.mem.Sample()
	if err != nil {
		c.logger.Warn().Err(err).Msg("memory sample failed")
		return types.MemoryReading{}
	}
	return r
}

// record appends under c.mu.
func (c *Controller) record(rec types.SwitchRecord) {
	c.switches++
	c.history = append(c.history, rec)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
	if rec.Success {
		key := rec.FromLevel + "->" + rec.ToLevel
		pt, ok := c.timing[key]
		if !ok {
			pt = &pairTiming{}
			c.timing[key] = pt
		}
		pt.count++
		pt.total += rec.Duration
	}
}

// SwitchesTotal reports how many switch attempts have been recorded since
// startup.
func (c *Controller) SwitchesTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switches
}

// annotateLast rewrites the reason of the most recent history entry.
func (c *Controller) annotateLast(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.history); n > 0 {
		c.history[n-1].Reason = reason
	}
}
