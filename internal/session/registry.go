package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-match/internal/comparison"
)

const (
	// DefaultMaxSessions bounds the number of live controllers.
	DefaultMaxSessions = 10000
	// DefaultProbeInterval is the minimum gap between health probes of one backend.
	DefaultProbeInterval = time.Minute
)

// ClientResolver picks the comparison client for the host a page was served from.
type ClientResolver func(host string) comparison.Client

type registryEntry struct {
	controller *Controller
	lastSeen   time.Time
	// ready is closed once persisted slots have been restored.
	ready chan struct{}
}

// Registry maps session identifiers to their controllers.
type Registry struct {
	resolve       ClientResolver
	store         SlotStore
	logger        *zap.Logger
	opts          Options
	ttl           time.Duration
	healthTimeout time.Duration
	maxSessions   int
	probeInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	sessions  map[string]*registryEntry
	lastProbe map[comparison.Client]time.Time
}

// NewRegistry creates an empty registry. Sessions idle for longer than ttl are
// evicted by Sweep. store may be nil.
func NewRegistry(resolve ClientResolver, store SlotStore, logger *zap.Logger, opts Options, ttl, healthTimeout time.Duration) *Registry {
	return &Registry{
		resolve:       resolve,
		store:         store,
		logger:        logger.Named("registry"),
		opts:          opts,
		ttl:           ttl,
		healthTimeout: healthTimeout,
		maxSessions:   DefaultMaxSessions,
		probeInterval: DefaultProbeInterval,
		now:           time.Now,
		sessions:      make(map[string]*registryEntry),
		lastProbe:     make(map[comparison.Client]time.Time),
	}
}

// SetLimits caps the number of live sessions and spaces out health probes
// against the same backend. Non-positive values keep the defaults.
func (r *Registry) SetLimits(maxSessions int, probeInterval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxSessions > 0 {
		r.maxSessions = maxSessions
	}
	if probeInterval > 0 {
		r.probeInterval = probeInterval
	}
}

// Get returns the controller of sessionID. A first visit creates it, restores
// persisted slots and fires a background health probe unless the backend was
// probed recently. Concurrent callers for a new session wait for the restore.
func (r *Registry) Get(ctx context.Context, sessionID, host string) *Controller {
	r.mu.Lock()
	if entry, ok := r.sessions[sessionID]; ok {
		entry.lastSeen = r.now()
		r.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
		}
		return entry.controller
	}
	if len(r.sessions) >= r.maxSessions {
		r.evictOldestLocked()
	}
	client := r.resolve(host)
	ctrl := NewController(sessionID, client, r.store, r.logger, r.opts)
	entry := &registryEntry{controller: ctrl, lastSeen: r.now(), ready: make(chan struct{})}
	r.sessions[sessionID] = entry
	probe := r.claimProbeLocked(client)
	r.mu.Unlock()

	r.logger.Debug("session created", zap.String("session_id", sessionID), zap.String("host", host))
	if err := ctrl.Restore(ctx); err != nil {
		r.logger.Warn("failed to restore session", zap.String("session_id", sessionID), zap.Error(err))
	}
	close(entry.ready)

	if probe {
		go func() {
			probeCtx, cancel := context.WithTimeout(context.Background(), r.healthTimeout)
			defer cancel()
			_ = ctrl.ProbeHealth(probeCtx)
		}()
	}
	return ctrl
}

func (r *Registry) claimProbeLocked(client comparison.Client) bool {
	now := r.now()
	if last, ok := r.lastProbe[client]; ok && now.Sub(last) < r.probeInterval {
		return false
	}
	r.lastProbe[client] = now
	return true
}

func (r *Registry) evictOldestLocked() {
	var (
		oldestID string
		oldest   *registryEntry
	)
	for id, entry := range r.sessions {
		if oldest == nil || entry.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, entry
		}
	}
	if oldest == nil {
		return
	}
	oldest.controller.Close()
	delete(r.sessions, oldestID)
	r.logger.Info("session limit reached, evicted least recent session",
		zap.String("session_id", oldestID), zap.Int("max_sessions", r.maxSessions))
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle since before now-ttl and returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.sessions {
		if now.Sub(entry.lastSeen) > r.ttl {
			entry.controller.Close()
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := r.Sweep(now); removed > 0 {
				r.logger.Info("evicted idle sessions", zap.Int("count", removed))
			}
		}
	}
}
