package tracker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clipsd/pkg/types"
)

// State is the lifecycle state of a tracked resource.
type State string

const (
	StateActive        State = "active"
	StateExpired       State = "expired"
	StateReleased      State = "released"
	StateReleaseFailed State = "release_failed"
)

// ReleaseFunc frees the underlying payload of a resource. It runs outside
// the tracker lock and may be retried on transient failure.
type ReleaseFunc func() error

// Resource is the tracked metadata for one registered resource. The tracker
// never owns the payload; the handle stays with the registering subsystem.
type Resource struct {
	Key         string
	Type        string
	ID          string
	SizeMB      int
	CreatedAt   time.Time
	LastTouched time.Time
	State       State
	Metadata    map[string]string

	release   ReleaseFunc
	releasing bool
}

// lowPriority reports whether the resource was registered as reclaim-first.
func (r *Resource) lowPriority() bool {
	return r.Metadata["priority"] == "low"
}

// Defaults applied when corresponding Config fields are unset.
const (
	defaultTTL            = 5 * time.Minute
	defaultGraceWindow    = 2 * time.Second
	defaultReleaseRetries = 2
)

// Config encapsulates tracker tunables.
type Config struct {
	// TTLByType maps a resource type to its idle expiry; types without an
	// entry use DefaultTTL.
	TTLByType map[string]time.Duration
	// DefaultTTL is the fallback idle expiry.
	DefaultTTL time.Duration
	// GraceWindow protects recently touched resources from non-forced release.
	GraceWindow time.Duration
	// ReleaseRetries bounds retries of a transient release failure within one
	// ReleaseExpired batch.
	ReleaseRetries int
}

// Tracker is the in-process registry of large allocations. It maps resource
// keys to metadata and drives expiry-based reclamation.
type Tracker struct {
	mu        sync.Mutex
	resources map[string]*Resource
	cfg       Config
	pub       *fanoutPublisher
	log       zerolog.Logger

	releasesTotal int
	releasedMB    int
	byType        map[string]int
}

// New constructs a Tracker with defaults applied for unset config fields.
func New(cfg Config, log zerolog.Logger) *Tracker {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.ReleaseRetries <= 0 {
		cfg.ReleaseRetries = defaultReleaseRetries
	}
	return &Tracker{
		resources: make(map[string]*Resource),
		cfg:       cfg,
		pub:       &fanoutPublisher{},
		log:       log,
		byType:    make(map[string]int),
	}
}

// Subscribe registers a publisher for release events.
func (t *Tracker) Subscribe(p EventPublisher) {
	if p == nil {
		return
	}
	t.pub.add(p)
}

// Key builds the registry key for a (type,id) pair.
func Key(typ, id string) string { return typ + ":" + id }

// Register adds a resource to the registry. It never blocks and fails with a
// duplicate-key error if (type,id) is already tracked.
func (t *Tracker) Register(typ, id string, sizeMB int, metadata map[string]string, release ReleaseFunc) (string, error) {
	key := Key(typ, id)
	now := time.Now()
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.resources[key]; ok && existing.State != StateReleased {
		return "", ErrDuplicateKey(key)
	}
	t.resources[key] = &Resource{
		Key:         key,
		Type:        typ,
		ID:          id,
		SizeMB:      sizeMB,
		CreatedAt:   now,
		LastTouched: now,
		State:       StateActive,
		Metadata:    meta,
		release:     release,
	}
	return key, nil
}

// Touch updates last-touched-at and revives an expired-but-unreleased entry.
// A missing key reports ErrNotTracked.
func (t *Tracker) Touch(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.resources[key]
	if !ok {
		t.log.Debug().Str("key", key).Msg("touch on untracked resource")
		return ErrNotTracked(key)
	}
	r.LastTouched = time.Now()
	if r.State == StateExpired {
		r.State = StateActive
	}
	return nil
}

// ttlFor returns the configured TTL for a resource type.
func (t *Tracker) ttlFor(typ string) time.Duration {
	if d, ok := t.cfg.TTLByType[typ]; ok && d > 0 {
		return d
	}
	return t.cfg.DefaultTTL
}

// Expired returns the keys of resources whose idle time exceeds their type
// TTL at the given instant. Pure query; no state changes.
func (t *Tracker) Expired(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var keys []string
	for key, r := range t.resources {
		if r.State != StateActive && r.State != StateExpired {
			continue
		}
		if now.Sub(r.LastTouched) > t.ttlFor(r.Type) {
			keys = append(keys, key)
		}
	}
	return keys
}

// snapshotLocked copies the resource metadata; caller holds the lock.
func snapshotLocked(r *Resource) Snapshot {
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return Snapshot{
		Key:      r.Key,
		Type:     r.Type,
		ID:       r.ID,
		SizeMB:   r.SizeMB,
		Metadata: meta,
		TakenAt:  time.Now(),
	}
}

// Release invokes the stored release callback for key. Without force, a
// resource touched within the grace window is skipped. Returns true only when
// the callback ran and succeeded; a second call on a released key returns
// false without re-invoking the callback.
func (t *Tracker) Release(key string, force bool) bool {
	ok, _ := t.releaseAttempt(key, force)
	return ok
}

// releaseAttempt performs one release attempt and returns (released, err)
// where err is non-nil only for a transient callback failure.
func (t *Tracker) releaseAttempt(key string, force bool) (bool, error) {
	now := time.Now()

	t.mu.Lock()
	r, ok := t.resources[key]
	if !ok {
		t.mu.Unlock()
		t.log.Debug().Str("key", key).Msg("release on untracked resource")
		return false, nil
	}
	if r.State == StateReleased || r.State == StateReleaseFailed || r.releasing {
		t.mu.Unlock()
		return false, nil
	}
	if !force && now.Sub(r.LastTouched) < t.cfg.GraceWindow {
		t.mu.Unlock()
		t.log.Debug().Str("key", key).Msg("release skipped: inside grace window")
		return false, nil
	}
	r.releasing = true
	snap := snapshotLocked(r)
	cb := r.release
	t.mu.Unlock()

	start := time.Now()
	var cbErr error
	if cb != nil {
		cbErr = cb()
	}
	end := time.Now()

	t.mu.Lock()
	r.releasing = false
	if cbErr != nil {
		t.mu.Unlock()
		t.log.Warn().Str("key", key).Err(cbErr).Msg("release callback failed")
		return false, ErrTransientRelease(key, cbErr)
	}
	r.State = StateReleased
	t.releasesTotal++
	t.releasedMB += r.SizeMB
	t.byType[r.Type]++
	t.mu.Unlock()

	t.pub.Publish(ReleaseEvent{
		Key:      key,
		Type:     snap.Type,
		SizeMB:   snap.SizeMB,
		Start:    start,
		End:      end,
		Snapshot: snap,
	})
	return true, nil
}

// ReleaseExpired releases all currently expired resources and returns the
// count released. With partial, only low-priority resources are considered.
// Transient callback failures are retried a bounded number of times, then
// logged and left for the next tick; a single failure never aborts the batch.
func (t *Tracker) ReleaseExpired(partial, force bool) int {
	now := time.Now()
	keys := t.Expired(now)

	released := 0
	for _, key := range keys {
		t.mu.Lock()
		r, ok := t.resources[key]
		if !ok {
			t.mu.Unlock()
			continue
		}
		if partial && !r.lowPriority() {
			t.mu.Unlock()
			continue
		}
		if r.State == StateActive {
			r.State = StateExpired
		}
		t.mu.Unlock()

		for attempt := 0; attempt <= t.cfg.ReleaseRetries; attempt++ {
			ok, err := t.releaseAttempt(key, force)
			if ok {
				released++
				break
			}
			if err == nil || !IsTransientRelease(err) {
				break
			}
			if attempt == t.cfg.ReleaseRetries {
				t.log.Warn().Str("key", key).Int("attempts", attempt+1).
					Msg("expired resource left for next tick after transient failures")
			}
		}
	}
	return released
}

// ForceReleaseAll force-releases every resource still holding memory.
// Used on the fatal path; individual failures are logged and skipped.
func (t *Tracker) ForceReleaseAll() int {
	t.mu.Lock()
	var keys []string
	for key, r := range t.resources {
		if r.State == StateActive || r.State == StateExpired {
			keys = append(keys, key)
		}
	}
	t.mu.Unlock()

	released := 0
	for _, key := range keys {
		if ok, _ := t.releaseAttempt(key, true); ok {
			released++
		}
	}
	return released
}

// Restore re-registers a resource from a pre-release snapshot. The restored
// entry carries no release callback; the owning subsystem re-attaches one on
// next use.
func (t *Tracker) Restore(s Snapshot) error {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.resources[s.Key]; ok && existing.State == StateActive {
		return ErrDuplicateKey(s.Key)
	}
	meta := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	t.resources[s.Key] = &Resource{
		Key:         s.Key,
		Type:        s.Type,
		ID:          s.ID,
		SizeMB:      s.SizeMB,
		CreatedAt:   now,
		LastTouched: now,
		State:       StateActive,
		Metadata:    meta,
	}
	return nil
}

// MarkReleaseFailed transitions an in-flight released resource to the
// release-failed state after validation (and rollback, if any) gave up.
func (t *Tracker) MarkReleaseFailed(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.resources[key]; ok && r.State == StateReleased {
		r.State = StateReleaseFailed
	}
}

// Get returns a copy of one resource's status.
func (t *Tracker) Get(key string) (types.ResourceStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.resources[key]
	if !ok {
		return types.ResourceStatus{}, false
	}
	return statusOf(r), true
}

// List returns a copy of every tracked resource's status.
func (t *Tracker) List() []types.ResourceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.ResourceStatus, 0, len(t.resources))
	for _, r := range t.resources {
		out = append(out, statusOf(r))
	}
	return out
}

func statusOf(r *Resource) types.ResourceStatus {
	return types.ResourceStatus{
		Key:         r.Key,
		Type:        r.Type,
		SizeMB:      r.SizeMB,
		State:       string(r.State),
		CreatedAt:   r.CreatedAt,
		LastTouched: r.LastTouched,
	}
}

// Counts aggregates resources by state.
func (t *Tracker) Counts() types.ResourceCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	var c types.ResourceCounts
	for _, r := range t.resources {
		switch r.State {
		case StateActive:
			c.Active++
			c.ActiveMB += r.SizeMB
		case StateExpired:
			c.Expired++
			c.ActiveMB += r.SizeMB
		case StateReleased:
			c.Released++
		case StateReleaseFailed:
			c.ReleaseFailed++
		}
	}
	return c
}

// ReleaseTotals reports cumulative successful releases.
func (t *Tracker) ReleaseTotals() (total, totalMB int, byType map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.byType))
	for k, v := range t.byType {
		out[k] = v
	}
	return t.releasesTotal, t.releasedMB, out
}
