package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omics-dash/server/internal/engine"
	"github.com/omics-dash/server/internal/sessionstore"
)

// ErrSessionNotFound is returned for unknown or evicted live sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrPersistenceDisabled is returned when no session store is configured.
var ErrPersistenceDisabled = errors.New("session persistence is disabled")

// SessionManagerConfig contains configuration for the session manager.
type SessionManagerConfig struct {
	Engine        engine.Config
	Fetcher       engine.Fetcher
	Store         *sessionstore.Store // optional; nil disables save/restore
	IdleTimeout   time.Duration       // live sessions unused this long are closed (default 2h)
	RetentionDays int                 // saved sessions kept this long (default 30)
	CleanupPeriod time.Duration
}

type liveSession struct {
	engine   *engine.Engine
	lastUsed time.Time
}

// SessionManager owns the live dashboard sessions, one engine each, and
// persists saved controls.
type SessionManager struct {
	cfg      SessionManagerConfig
	mu       sync.Mutex
	live     map[string]*liveSession
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 10 * time.Minute
	}
	return &SessionManager{
		cfg:    cfg,
		live:   make(map[string]*liveSession),
		stopCh: make(chan struct{}),
	}
}

// Start starts the cleanup ticker.
func (sm *SessionManager) Start() {
	go sm.cleaner()
}

// Stop closes every live session and the store.
func (sm *SessionManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopCh)
		sm.mu.Lock()
		for id, s := range sm.live {
			s.engine.Close()
			delete(sm.live, id)
		}
		sm.mu.Unlock()
		if sm.cfg.Store != nil {
			sm.cfg.Store.Close()
		}
	})
}

func (sm *SessionManager) cleaner() {
	ticker := time.NewTicker(sm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stopCh:
			return
		case <-ticker.C:
			sm.cleanup(time.Now())
		}
	}
}

func (sm *SessionManager) cleanup(now time.Time) {
	sm.mu.Lock()
	evicted := 0
	for id, s := range sm.live {
		if now.Sub(s.lastUsed) > sm.cfg.IdleTimeout {
			s.engine.Close()
			delete(sm.live, id)
			evicted++
		}
	}
	sm.mu.Unlock()
	if evicted > 0 {
		log.Printf("[SessionManager] closed %d idle sessions", evicted)
	}

	if sm.cfg.Store == nil {
		return
	}
	deleted, err := sm.cfg.Store.DeleteExpired(sm.cfg.RetentionDays)
	if err != nil {
		log.Printf("[SessionManager] cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("[SessionManager] cleaned up %d expired saved sessions", deleted)
	}
}

// Create starts a live session. With restoreID the saved controls are
// replayed; otherwise dataset, when set, is loaded. Replayed triggers that
// are rejected are returned as warnings.
func (sm *SessionManager) Create(ctx context.Context, dataset engine.DatasetKey, restoreID string) (string, *engine.Snapshot, []string, error) {
	var replay []engine.Trigger
	if restoreID != "" {
		if sm.cfg.Store == nil {
			return "", nil, nil, ErrPersistenceDisabled
		}
		saved, err := sm.cfg.Store.Open(restoreID)
		if err != nil {
			return "", nil, nil, err
		}
		if replay, err = saved.Controls.Replay(); err != nil {
			return "", nil, nil, fmt.Errorf("restore %s: %w", restoreID, err)
		}
	} else if !dataset.IsZero() {
		replay = []engine.Trigger{engine.DatasetChanged{Dataset: dataset}}
	}

	eng := engine.New(sm.cfg.Engine, sm.cfg.Fetcher)
	snap := eng.Snapshot()
	var warnings []string
	for _, t := range replay {
		next, err := eng.Apply(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				eng.Close()
				return "", nil, nil, ctx.Err()
			}
			warnings = append(warnings, fmt.Sprintf("%s: %v", t.Kind(), err))
		}
		snap = next
	}

	id := uuid.NewString()
	sm.mu.Lock()
	sm.live[id] = &liveSession{engine: eng, lastUsed: time.Now()}
	sm.mu.Unlock()
	if restoreID != "" {
		log.Printf("[SessionManager] session %s restored from %s (%d triggers)", id, restoreID, len(replay))
	}
	return id, snap, warnings, nil
}

// Get returns the engine of a live session.
func (sm *SessionManager) Get(id string) (*engine.Engine, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.live[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.lastUsed = time.Now()
	return s.engine, nil
}

// Close ends a live session.
func (sm *SessionManager) Close(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.live[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.engine.Close()
	delete(sm.live, id)
	return nil
}

// Save persists the live session's controls under its id.
func (sm *SessionManager) Save(id, name string) (*sessionstore.Session, error) {
	if sm.cfg.Store == nil {
		return nil, ErrPersistenceDisabled
	}
	eng, err := sm.Get(id)
	if err != nil {
		return nil, err
	}
	snap := eng.Snapshot()
	if snap.Dataset.IsZero() {
		return nil, engine.ErrNoDataset
	}
	var createdAt time.Time
	if prev, err := sm.cfg.Store.Get(id); err == nil {
		createdAt = prev.CreatedAt
	}
	sess := &sessionstore.Session{ID: id, Name: name, Controls: snap.Controls(), CreatedAt: createdAt}
	if err := sm.cfg.Store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Saved lists saved sessions, optionally for one dataset.
func (sm *SessionManager) Saved(dataset string) ([]*sessionstore.Session, error) {
	if sm.cfg.Store == nil {
		return nil, ErrPersistenceDisabled
	}
	return sm.cfg.Store.List(dataset, 0)
}

// DeleteSaved removes a saved session.
func (sm *SessionManager) DeleteSaved(id string) error {
	if sm.cfg.Store == nil {
		return ErrPersistenceDisabled
	}
	return sm.cfg.Store.Delete(id)
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.live)
}
