package ws

import (
	"crypto/subtle"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

// Rejection reasons, also used as metric labels.
const (
	RejectMissingSession = "missing_session"
	RejectCapacity       = "capacity"
	RejectDuplicate      = "duplicate_session"
	RejectConflict       = "session_conflict"
	RejectBadToken       = "bad_token"
)

// Rejection carries the close code and reason for a refused connection.
type Rejection struct {
	Code   int
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Gate admits device connections. It enforces the connection cap, refuses
// a second transport for a session that already has one, and checks the
// shared token. Admission checks run in a fixed order: capacity before
// duplicate-session, token last, so a duplicate with a wrong token is
// still reported as a duplicate.
type Gate struct {
	mu       sync.Mutex
	conns    map[string]*Conn
	maxConns int
	token    string
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewGate builds a gate with the given connection cap and shared token.
func NewGate(maxConns int, token string, logger *logging.Logger, metrics *monitoring.Metrics) *Gate {
	return &Gate{
		conns:    make(map[string]*Conn),
		maxConns: maxConns,
		token:    token,
		logger:   logger,
		metrics:  metrics,
	}
}

// Admit runs the admission checks and binds the connection on success.
// On failure it returns a Rejection; the caller closes the transport with
// the rejection's code.
func (g *Gate) Admit(conn *Conn, sessionID, token, authHeader string) error {
	if sessionID == "" {
		return g.reject(RejectMissingSession, websocket.ClosePolicyViolation, "missing session parameter")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.conns) >= g.maxConns {
		return g.reject(RejectCapacity, websocket.ClosePolicyViolation, "too many connections")
	}
	if _, exists := g.conns[sessionID]; exists {
		return g.reject(RejectDuplicate, websocket.CloseTryAgainLater, "session already connected")
	}
	// Guards the single-device invariant independently of the cap check,
	// should the two ever diverge.
	if g.maxConns == 1 && len(g.conns) > 0 {
		return g.reject(RejectConflict, websocket.CloseTryAgainLater, "another session is active")
	}
	if !g.authorized(token, authHeader) {
		return g.reject(RejectBadToken, websocket.ClosePolicyViolation, "invalid token")
	}

	g.conns[sessionID] = conn
	g.metrics.WSConnections.Set(float64(len(g.conns)))
	g.logger.Info("connection admitted",
		zap.String("session_id", sessionID),
		zap.Int("connections", len(g.conns)))
	return nil
}

// Release unbinds a session's connection. Idempotent.
func (g *Gate) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[sessionID]; !ok {
		return
	}
	delete(g.conns, sessionID)
	g.metrics.WSConnections.Set(float64(len(g.conns)))
	g.logger.Info("connection released", zap.String("session_id", sessionID))
}

// Lookup returns the live connection bound to a session, if any. Used by
// the HTTP layer to push notifications for side-channel uploads.
func (g *Gate) Lookup(sessionID string) (*Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[sessionID]
	return c, ok
}

// Count returns the number of bound connections.
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gate) authorized(token, authHeader string) bool {
	candidate := token
	if candidate == "" && authHeader != "" {
		candidate = strings.TrimPrefix(authHeader, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.token)) == 1
}

func (g *Gate) reject(reason string, code int, detail string) error {
	g.metrics.RecordWSRejection(reason)
	g.logger.Warn("connection rejected",
		zap.String("reason", reason),
		zap.Int("close_code", code))
	return &Rejection{Code: code, Reason: detail}
}
