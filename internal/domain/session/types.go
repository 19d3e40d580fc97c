package session

import "time"

// State is the session lifecycle state.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnected       State = "connected"
	StateIdle            State = "idle"
	StateRecording       State = "recording"
	StateProcessing      State = "processing"
	StatePlaying         State = "playing"
	StateCameraUploading State = "camera_uploading"
	StateStalled         State = "stalled"
	StateShutdown        State = "shutdown"
)

// States lists every session state, for stats iteration.
func States() []State {
	return []State{
		StateDisconnected, StateConnected, StateIdle, StateRecording,
		StateProcessing, StatePlaying, StateCameraUploading,
		StateStalled, StateShutdown,
	}
}

// Capabilities describes what the device reported in its hello message.
type Capabilities struct {
	PSRAM         bool `json:"psram"`
	MaxChunkBytes int  `json:"max_chunk_bytes"`
}

// ConversationTurn is one exchange in the session's bounded history.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one entry in the session's capped event log.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// AudioBuffer tracks the state of the in-progress recording artifact.
// Mutated only through Session methods driven by the ingestion engine;
// a session processes one inbound message at a time.
type AudioBuffer struct {
	Path           string `json:"temp_file_path"`
	ChunksReceived int    `json:"chunks_received"`
	TotalBytes     int64  `json:"total_bytes"`
	ExpectedSeq    int    `json:"expected_seq"`
	HighestSeq     int    `json:"highest_seq"`
	baselineSet    bool
}

const (
	eventLogCap  = 100
	eventLogKeep = 50
)
