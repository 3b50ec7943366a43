package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentplatform/core/pkg/models"
)

// HotTierOptions configures the bounded, TTL-refreshing cache.
type HotTierOptions struct {
	// MaxMessages is the number of most-recent messages retained per
	// session; older messages are trimmed on every append.
	MaxMessages int
	// TTL is refreshed on every read and write; a session untouched for
	// longer than TTL is evicted by the sweep loop.
	TTL time.Duration
}

// DefaultHotTierOptions returns the hot tier's operating defaults.
func DefaultHotTierOptions() HotTierOptions {
	return HotTierOptions{MaxMessages: 200, TTL: time.Hour}
}

type hotEntry struct {
	session    *models.Session
	messages   []*models.SessionEnvelope
	lastTouch  time.Time
	dirtyCount int
}

// HotTier is the in-process cache half of the tiered session memory. It
// implements Tier directly; Memory composes it with a cold Tier to get the
// checkpoint/resume policy. The append+trim+refresh-TTL pipeline mirrors
// the timestamp-and-prune idiom of internal/cache.DedupeCache, generalized
// from a dedup timestamp map into a per-session message list.
type HotTier struct {
	mu      sync.Mutex
	opts    HotTierOptions
	entries map[string]*hotEntry
}

// NewHotTier constructs an empty hot tier. Call Sweep periodically (or via
// StartSweeper) to evict TTL-expired sessions.
func NewHotTier(opts HotTierOptions) *HotTier {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultHotTierOptions().MaxMessages
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultHotTierOptions().TTL
	}
	return &HotTier{opts: opts, entries: map[string]*hotEntry{}}
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (h *HotTier) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				h.Sweep(time.Now())
			}
		}
	}()
}

// Sweep removes sessions whose TTL has elapsed as of now.
func (h *HotTier) Sweep(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.entries {
		if now.Sub(e.lastTouch) > h.opts.TTL {
			delete(h.entries, id)
		}
	}
}

// Contains reports whether a session is currently resident in the hot
// tier, without refreshing its TTL.
func (h *HotTier) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[id]
	return ok
}

// DirtyCount returns the number of messages appended since the last
// checkpoint reset it, or 0 if the session is not resident.
func (h *HotTier) DirtyCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[id]; ok {
		return e.dirtyCount
	}
	return 0
}

// ResetDirty zeroes the dirty counter, called after a successful checkpoint.
func (h *HotTier) ResetDirty(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[id]; ok {
		e.dirtyCount = 0
	}
}

// Evict drops a session from the hot tier without touching the cold tier,
// used to model the "hot tier eviction" scenario in an end-to-end test and
// by the TTL sweep above.
func (h *HotTier) Evict(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, id)
}

func (h *HotTier) CreateSession(ctx context.Context, s *models.Session) error {
	if err := ValidateSessionID(s.ID); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[s.ID] = &hotEntry{session: cloneSession(s), lastTouch: time.Now()}
	return nil
}

func (h *HotTier) GetSession(ctx context.Context, id string) (*models.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastTouch = time.Now()
	out := cloneSession(e.session)
	out.IsHot = true
	return out, nil
}

func (h *HotTier) UpdateSession(ctx context.Context, s *models.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[s.ID]
	if !ok {
		return ErrNotFound
	}
	e.session = cloneSession(s)
	e.lastTouch = time.Now()
	return nil
}

func (h *HotTier) DeleteSession(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, id)
	return nil
}

// SaveMessages appends to the in-memory list, trims to MaxMessages, and
// refreshes the TTL, the same append-trim-refresh pipeline used
// §4.2, applied atomically under the tier lock.
func (h *HotTier) SaveMessages(ctx context.Context, sessionID string, msgs []*models.SessionEnvelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	for _, m := range msgs {
		clone := cloneMessage(m)
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = time.Now()
		}
		e.messages = append(e.messages, clone)
	}
	if over := len(e.messages) - h.opts.MaxMessages; over > 0 {
		e.messages = e.messages[over:]
	}
	e.dirtyCount += len(msgs)
	e.lastTouch = time.Now()
	return nil
}

func (h *HotTier) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.SessionEnvelope, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastTouch = time.Now()
	msgs := e.messages
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]*models.SessionEnvelope, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func (h *HotTier) ClearMessages(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.messages = nil
	e.dirtyCount = 0
	return nil
}

func (h *HotTier) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*models.Session
	for _, e := range h.entries {
		if opts.AgentName != "" && e.session.AgentName != opts.AgentName {
			continue
		}
		s := cloneSession(e.session)
		s.IsHot = true
		out = append(out, s)
	}
	return out, nil
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Metadata = deepCloneMap(s.Metadata)
	return &clone
}

func cloneMessage(m *models.SessionEnvelope) *models.SessionEnvelope {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	default:
		return v
	}
}
