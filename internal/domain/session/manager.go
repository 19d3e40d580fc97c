// Package session owns session lifecycle, state, conversation history,
// and the idle sweep.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/shared/id"
)

// ManagerConfig bounds session lifetime and footprint.
type ManagerConfig struct {
	GracePeriod         time.Duration
	SweepInterval       time.Duration
	MaxHistoryTurns     int
	MaxRerecordAttempts int
	DiskQuotaBytes      int64
}

// Manager is the session registry. It exclusively owns every Session;
// background sweeps and handlers mutate the collection only through it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg     ManagerConfig
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewManager creates a session registry.
func NewManager(cfg ManagerConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Create registers a new session. An empty sessionID generates one.
// Returns an error if the id is already registered.
func (m *Manager) Create(sessionID string) (*Session, error) {
	if sessionID == "" {
		sessionID = id.NewSessionID().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, fmt.Errorf("session %s already exists", sessionID)
	}

	s := New(sessionID, Limits{
		MaxHistoryTurns:     m.cfg.MaxHistoryTurns,
		MaxRerecordAttempts: m.cfg.MaxRerecordAttempts,
		DiskQuotaBytes:      m.cfg.DiskQuotaBytes,
	})
	m.sessions[sessionID] = s

	if m.metrics != nil {
		m.metrics.SessionsCreated.Inc()
	}
	m.logger.Info("Created session", zap.String("session_id", sessionID))
	return s, nil
}

// GetOrCreate returns the existing session for the id, creating one if absent.
func (m *Manager) GetOrCreate(sessionID string) (*Session, error) {
	if s, ok := m.Get(sessionID); ok {
		return s, nil
	}
	return m.Create(sessionID)
}

// Get returns a session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Remove deletes the session's artifacts and its registry entry. Idempotent.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}

	s.CleanupArtifacts()
	if m.metrics != nil {
		m.metrics.SessionsRemoved.Inc()
	}
	m.logger.Info("Removed session", zap.String("session_id", sessionID))
}

// UpdateState transitions a session and records the event.
func (m *Manager) UpdateState(s *Session, to State) {
	from := s.SetState(to)
	m.logger.Info("Session state change",
		zap.String("session_id", s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	m.publishStateGauges()
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns per-state session counts.
func (m *Manager) Stats() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[State]int)
	for _, s := range m.sessions {
		counts[s.State()]++
	}
	return counts
}

// SweepIdle removes every session idle longer than the grace period and
// returns the removed ids. Sessions past the grace period are by
// construction not mid-write.
func (m *Manager) SweepIdle() []string {
	cutoff := time.Now().Add(-m.cfg.GracePeriod)

	m.mu.RLock()
	var expired []string
	for sid, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			expired = append(expired, sid)
		}
	}
	m.mu.RUnlock()

	for _, sid := range expired {
		m.logger.Info("Sweeping idle session", zap.String("session_id", sid))
		m.Remove(sid)
	}
	if len(expired) > 0 {
		m.publishStateGauges()
	}
	return expired
}

// Run executes the periodic idle sweep until the context is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepIdle()
		}
	}
}

func (m *Manager) publishStateGauges() {
	if m.metrics == nil {
		return
	}
	counts := m.Stats()
	for _, st := range States() {
		m.metrics.SessionsByState.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
