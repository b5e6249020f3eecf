package tracker

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clipsd/pkg/types"
)

// RestoreFunc attempts to bring a released resource back from its snapshot
// (e.g., ask the model loader to reload weights into the previous slot).
type RestoreFunc func(Snapshot) error

// ProbeFunc reports whether a strong reference to the released resource is
// still discoverable. Registered per resource type.
type ProbeFunc func(Snapshot) bool

// Validator verifies, after the fact, that a released resource is actually
// gone: no outstanding strong reference and no backing file. On failure it
// attempts a bounded rollback from the pre-release snapshot.
type Validator struct {
	tracker *Tracker
	log     zerolog.Logger

	// delay before validation, letting release effects land.
	delay       time.Duration
	maxRollback int

	mu        sync.Mutex
	restorers map[string]RestoreFunc
	probes    map[string]ProbeFunc

	validated         int
	failures          int
	rollbackAttempts  int
	rollbackSuccesses int

	// pending tracks in-flight async validations so tests can wait.
	pending sync.WaitGroup
}

const (
	defaultValidationDelay = 50 * time.Millisecond
	defaultMaxRollback     = 3
)

// NewValidator constructs a Validator and subscribes it to the tracker's
// release events.
func NewValidator(t *Tracker, log zerolog.Logger) *Validator {
	v := &Validator{
		tracker:     t,
		log:         log,
		delay:       defaultValidationDelay,
		maxRollback: defaultMaxRollback,
		restorers:   make(map[string]RestoreFunc),
		probes:      make(map[string]ProbeFunc),
	}
	t.Subscribe(v)
	return v
}

// SetDelay overrides the pre-validation delay (tests shorten it).
func (v *Validator) SetDelay(d time.Duration) {
	if d >= 0 {
		v.delay = d
	}
}

// RegisterRestorer installs a rollback strategy for a resource type.
func (v *Validator) RegisterRestorer(typ string, fn RestoreFunc) {
	v.mu.Lock()
	v.restorers[typ] = fn
	v.mu.Unlock()
}

// RegisterProbe installs a strong-reference check for a resource type.
func (v *Validator) RegisterProbe(typ string, fn ProbeFunc) {
	v.mu.Lock()
	v.probes[typ] = fn
	v.mu.Unlock()
}

// Publish receives a release event and schedules asynchronous validation.
func (v *Validator) Publish(e ReleaseEvent) {
	v.pending.Add(1)
	go func() {
		defer v.pending.Done()
		time.Sleep(v.delay)
		v.validate(e)
	}()
}

// Wait blocks until all scheduled validations complete. Test hook.
func (v *Validator) Wait() { v.pending.Wait() }

// validate runs the two checks and drives rollback on failure.
func (v *Validator) validate(e ReleaseEvent) {
	ok := v.checkReleased(e.Snapshot)

	v.mu.Lock()
	v.validated++
	if !ok {
		v.failures++
	}
	restorer := v.restorers[e.Type]
	v.mu.Unlock()

	if ok {
		return
	}
	v.log.Warn().Str("key", e.Key).Str("type", e.Type).Msg("release validation failed")

	if restorer == nil {
		// No restore strategy; surface the failure and move on.
		v.tracker.MarkReleaseFailed(e.Key)
		return
	}

	if v.rollback(e.Snapshot, restorer) {
		return
	}
	v.tracker.MarkReleaseFailed(e.Key)
}

// checkReleased returns true when no strong reference remains and any
// backing file is gone.
func (v *Validator) checkReleased(s Snapshot) bool {
	v.mu.Lock()
	probe := v.probes[s.Type]
	v.mu.Unlock()
	if probe != nil && probe(s) {
		return false
	}
	if path := s.Metadata["path"]; path != "" {
		if _, err := os.Stat(path); err == nil {
			return false
		}
	}
	return true
}

// rollback retries the restore strategy up to maxRollback times, then
// re-registers the resource so its lifecycle is observable again.
func (v *Validator) rollback(s Snapshot, restorer RestoreFunc) bool {
	for attempt := 1; attempt <= v.maxRollback; attempt++ {
		v.mu.Lock()
		v.rollbackAttempts++
		v.mu.Unlock()

		if err := restorer(s); err != nil {
			v.log.Warn().Str("key", s.Key).Int("attempt", attempt).Err(err).
				Msg("rollback attempt failed")
			continue
		}
		if err := v.tracker.Restore(s); err != nil && !IsDuplicateKey(err) {
			v.log.Warn().Str("key", s.Key).Err(err).Msg("re-register after rollback failed")
			continue
		}
		v.mu.Lock()
		v.rollbackSuccesses++
		v.mu.Unlock()
		v.log.Info().Str("key", s.Key).Int("attempt", attempt).Msg("release rolled back")
		return true
	}
	return false
}

// Stats merges validator counters with the tracker's release totals.
func (v *Validator) Stats() types.ReleaseStats {
	total, mb, byType := v.tracker.ReleaseTotals()
	v.mu.Lock()
	defer v.mu.Unlock()
	s := types.ReleaseStats{
		ReleasesTotal:      total,
		ReleasedMB:         mb,
		ByType:             byType,
		ValidationFailures: v.failures,
		RollbackAttempts:   v.rollbackAttempts,
		RollbackSuccesses:  v.rollbackSuccesses,
	}
	if v.rollbackAttempts > 0 {
		s.RollbackRate = float64(v.rollbackSuccesses) / float64(v.rollbackAttempts)
	}
	return s
}
