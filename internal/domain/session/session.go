package session

import (
	"os"
	"sync"
	"time"
)

// Session holds all server-side state tied to one device connection.
// The registry owns sessions; everything else holds references.
//
// A session's inbound messages are processed one at a time, but the idle
// sweep and the diagnostic HTTP surface read concurrently, so all access
// goes through the session's own lock.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	state        State
	capabilities *Capabilities

	events  []Event
	history []ConversationTurn

	audio     AudioBuffer
	imagePath string
	imageName string
	ttsPath   string
	ttsReady  bool

	rerecordAttempts int
	diskUsage        int64

	maxHistory  int
	maxRerecord int
	quotaBytes  int64
}

// Limits bound a session's memory and disk footprint.
type Limits struct {
	MaxHistoryTurns     int
	MaxRerecordAttempts int
	DiskQuotaBytes      int64
}

// New creates a session in the disconnected state.
func New(sessionID string, limits Limits) *Session {
	now := time.Now()
	return &Session{
		ID:           sessionID,
		CreatedAt:    now,
		lastActivity: now,
		state:        StateDisconnected,
		maxHistory:   limits.MaxHistoryTurns,
		maxRerecord:  limits.MaxRerecordAttempts,
		quotaBytes:   limits.DiskQuotaBytes,
	}
}

// Touch records activity, deferring the idle sweep.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session and records the transition event.
// It returns the previous state.
func (s *Session) SetState(to State) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	s.state = to
	s.logEventLocked("state_change", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
	return from
}

// SetCapabilities records the device capability descriptor.
func (s *Session) SetCapabilities(c Capabilities) {
	s.mu.Lock()
	s.capabilities = &c
	s.mu.Unlock()
}

// Capabilities returns the recorded capability descriptor, if any.
func (s *Session) Capabilities() *Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilities == nil {
		return nil
	}
	c := *s.capabilities
	return &c
}

// LogEvent appends to the capped event log and refreshes activity.
func (s *Session) LogEvent(eventType string, data map[string]interface{}) {
	s.mu.Lock()
	s.logEventLocked(eventType, data)
	s.mu.Unlock()
}

func (s *Session) logEventLocked(eventType string, data map[string]interface{}) {
	s.events = append(s.events, Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Data:      data,
	})
	s.lastActivity = time.Now()

	if len(s.events) > eventLogCap {
		s.events = append([]Event(nil), s.events[len(s.events)-eventLogKeep:]...)
	}
}

// Events returns a copy of the event log.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// AddTurn appends a conversation turn, evicting the oldest beyond the cap.
func (s *Session) AddTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.history) > s.maxHistory {
		s.history = append([]ConversationTurn(nil), s.history[len(s.history)-s.maxHistory:]...)
	}
}

// RecentHistory returns the last n conversation turns, oldest first.
func (s *Session) RecentHistory(n int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.history) {
		n = len(s.history)
	}
	return append([]ConversationTurn(nil), s.history[len(s.history)-n:]...)
}

// HistoryLen returns the number of retained conversation turns.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// CanRerecord reports whether another re-record attempt is allowed.
func (s *Session) CanRerecord() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rerecordAttempts < s.maxRerecord
}

// IncrementRerecord bumps the attempt counter and logs it.
func (s *Session) IncrementRerecord() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rerecordAttempts++
	s.logEventLocked("rerecord_attempt", map[string]interface{}{
		"attempt_number": s.rerecordAttempts,
	})
	return s.rerecordAttempts
}

// ResetRerecord clears the attempt counter after a successful turn.
func (s *Session) ResetRerecord() {
	s.mu.Lock()
	s.rerecordAttempts = 0
	s.mu.Unlock()
}

// RerecordAttempts returns the current attempt count.
func (s *Session) RerecordAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rerecordAttempts
}

// BeginRecording installs a fresh audio artifact path and resets counters.
func (s *Session) BeginRecording(path string) {
	s.mu.Lock()
	s.audio = AudioBuffer{Path: path}
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// RecordChunk updates buffer counters for one appended chunk and returns
// whether the sequence fell outside the tolerance window. The expected
// sequence is monotonic: it advances to seq+1 whenever seq >= expected
// and is never rewound.
func (s *Session) RecordChunk(seq, size, tolerance int) (gap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.audio.baselineSet {
		s.audio.ExpectedSeq = seq
		s.audio.baselineSet = true
	}

	switch {
	case seq == s.audio.ExpectedSeq:
		// in order
	case seq > s.audio.ExpectedSeq && seq-s.audio.ExpectedSeq <= tolerance:
		// lost chunks within tolerance, accepted without flag
	default:
		gap = true
		s.logEventLocked("chunk_gap", map[string]interface{}{
			"expected": s.audio.ExpectedSeq,
			"received": seq,
		})
	}

	if seq >= s.audio.ExpectedSeq {
		s.audio.ExpectedSeq = seq + 1
	}
	if seq > s.audio.HighestSeq {
		s.audio.HighestSeq = seq
	}

	s.audio.ChunksReceived++
	s.audio.TotalBytes += int64(size)
	s.lastActivity = time.Now()
	return gap
}

// Audio returns a copy of the audio buffer descriptor.
func (s *Session) Audio() AudioBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// ResetAudio clears the audio buffer descriptor.
func (s *Session) ResetAudio() {
	s.mu.Lock()
	s.audio = AudioBuffer{}
	s.mu.Unlock()
}

// SetImage records the current image artifact.
func (s *Session) SetImage(path, filename string) {
	s.mu.Lock()
	s.imagePath = path
	s.imageName = filename
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Image returns the current image artifact path and filename.
func (s *Session) Image() (path, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imagePath, s.imageName
}

// SetTTS marks a synthesized artifact ready for playback.
func (s *Session) SetTTS(path string) {
	s.mu.Lock()
	s.ttsPath = path
	s.ttsReady = path != ""
	s.mu.Unlock()
}

// TTS returns the ready TTS artifact path, or "" if none is ready.
func (s *Session) TTS() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsPath, s.ttsReady
}

// RecomputeDiskUsage sums the real sizes of every artifact belonging to
// this session. Always called before a quota decision so the counter never
// drifts from what is actually on disk.
func (s *Session) RecomputeDiskUsage() int64 {
	s.mu.Lock()
	paths := []string{s.audio.Path, s.imagePath, s.ttsPath}
	s.mu.Unlock()

	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}

	s.mu.Lock()
	s.diskUsage = total
	s.mu.Unlock()
	return total
}

// DiskUsage returns the last computed disk usage.
func (s *Session) DiskUsage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskUsage
}

// QuotaExceeded recomputes usage and compares against the session quota.
func (s *Session) QuotaExceeded() bool {
	return s.RecomputeDiskUsage() > s.quotaBytes
}

// CleanupArtifacts deletes every temp file the session owns and resets
// the associated descriptors. Idempotent.
func (s *Session) CleanupArtifacts() {
	s.mu.Lock()
	paths := []string{s.audio.Path, s.imagePath, s.ttsPath}
	s.audio = AudioBuffer{}
	s.imagePath = ""
	s.imageName = ""
	s.ttsPath = ""
	s.ttsReady = false
	s.diskUsage = 0
	s.mu.Unlock()

	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}

// Snapshot is the observable session state for the diagnostic endpoint.
type Snapshot struct {
	SessionID        string        `json:"session_id"`
	State            State         `json:"state"`
	Capabilities     *Capabilities `json:"client_capabilities"`
	Audio            AudioBuffer   `json:"audio_buffer"`
	RerecordAttempts int           `json:"rerecord_attempts"`
	DiskUsageBytes   int64         `json:"disk_usage_bytes"`
	HistoryLen       int           `json:"conversation_history_count"`
	ImagePath        string        `json:"current_image_path,omitempty"`
	TTSReady         bool          `json:"tts_ready"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActivity     time.Time     `json:"last_activity"`
}

// Snapshot returns the full observable state of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var caps *Capabilities
	if s.capabilities != nil {
		c := *s.capabilities
		caps = &c
	}

	return Snapshot{
		SessionID:        s.ID,
		State:            s.state,
		Capabilities:     caps,
		Audio:            s.audio,
		RerecordAttempts: s.rerecordAttempts,
		DiskUsageBytes:   s.diskUsage,
		HistoryLen:       len(s.history),
		ImagePath:        s.imagePath,
		TTSReady:         s.ttsReady,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.lastActivity,
	}
}
