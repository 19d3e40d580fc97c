package ws

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/ai"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/audio"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

// ControllerConfig bounds the per-turn protocol behavior.
type ControllerConfig struct {
	AckInterval      int
	MinTranscriptLen int
	HistoryWindow    int
}

// Controller drives the session protocol: it matches each decoded device
// message against the session's current state, runs the capture and
// processing pipeline, and emits the server's side of the conversation.
type Controller struct {
	cfg        ControllerConfig
	registry   *session.Manager
	ingestor   *audio.Ingestor
	recognizer ai.Recognizer
	chat       *ai.ChatClient
	synth      *ai.Synthesizer
	streamer   *Streamer
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// NewController wires the protocol controller.
func NewController(
	cfg ControllerConfig,
	registry *session.Manager,
	ingestor *audio.Ingestor,
	recognizer ai.Recognizer,
	chat *ai.ChatClient,
	synth *ai.Synthesizer,
	streamer *Streamer,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
) *Controller {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	return &Controller{
		cfg:        cfg,
		registry:   registry,
		ingestor:   ingestor,
		recognizer: recognizer,
		chat:       chat,
		synth:      synth,
		streamer:   streamer,
		logger:     logger,
		metrics:    metrics,
	}
}

// binaryReader fetches the binary frame that a chunk meta message
// declares. The read loop owns the transport, so it lends the read.
type binaryReader func() ([]byte, error)

// Handle dispatches one decoded device message. Messages that do not fit
// the session's current state are answered with a structured error; the
// connection stays open.
func (c *Controller) Handle(ctx context.Context, s *session.Session, conn *Conn, msg Inbound, readBinary binaryReader) {
	s.Touch()
	c.metrics.RecordWSMessage("in", msg.inboundType())

	switch m := msg.(type) {
	case Hello:
		s.SetCapabilities(m.Capabilities)
		s.LogEvent("hello", map[string]interface{}{
			"psram":           m.Capabilities.PSRAM,
			"max_chunk_bytes": m.Capabilities.MaxChunkBytes,
		})

	case ClientOn:
		c.registry.UpdateState(s, session.StateIdle)

	case RecordingStarted:
		c.handleRecordingStarted(s, conn)

	case AudioChunkMeta:
		c.handleChunk(s, conn, m, readBinary)

	case RecordingStopped:
		c.handleRecordingStopped(ctx, s, conn)

	case ImageCaptured:
		s.LogEvent("image_captured", nil)

	case ReadyForPlayback:
		c.handleReadyForPlayback(ctx, s, conn)

	case PlaybackComplete:
		c.handlePlaybackComplete(s)

	case Ping:
		c.send(conn, NewPong())

	case Unrecognized:
		c.logger.Warn("unrecognized message type",
			zap.String("session_id", s.ID),
			zap.String("type", m.Type))
		c.send(conn, NewErrorCode("unknown_type", "unknown message type: "+m.Type))
	}
}

// HandleDisconnect tears down the transport binding and parks the session
// for the grace period. Session state and artifacts survive so a quick
// reconnect resumes the conversation.
func (c *Controller) HandleDisconnect(s *session.Session) {
	c.registry.UpdateState(s, session.StateDisconnected)
	s.LogEvent("disconnected", nil)
}

func (c *Controller) handleRecordingStarted(s *session.Session, conn *Conn) {
	switch s.State() {
	case session.StateIdle, session.StateConnected, session.StateRecording:
		// A repeated recording_started restarts the capture; the device
		// retries after a re-record request without a client_on.
	default:
		c.send(conn, NewErrorCode("bad_state", "cannot start recording in state "+string(s.State())))
		return
	}

	if err := c.ingestor.Start(s); err != nil {
		c.logger.Error("failed to start recording",
			zap.String("session_id", s.ID), zap.Error(err))
		c.send(conn, NewErrorCode("storage", "could not open recording"))
		return
	}
	c.recognizer.Start(s.ID)
	c.registry.UpdateState(s, session.StateRecording)
}

func (c *Controller) handleChunk(s *session.Session, conn *Conn, meta AudioChunkMeta, readBinary binaryReader) {
	if readBinary == nil {
		c.send(conn, NewErrorCode("protocol", "no binary frame available"))
		return
	}
	if s.State() != session.StateRecording {
		// The paired binary frame is already on the wire; drain it so the
		// read loop does not mistake it for a stray frame.
		readBinary()
		c.send(conn, NewErrorCode("bad_state", "audio chunk outside recording"))
		return
	}

	chunk, err := readBinary()
	if err != nil {
		c.logger.Warn("failed to read chunk payload",
			zap.String("session_id", s.ID),
			zap.Int("seq", meta.Seq), zap.Error(err))
		return
	}

	if len(chunk) != meta.LenBytes {
		c.send(conn, NewErrorCode("length_mismatch", "chunk length does not match declaration"))
		s.LogEvent("length_mismatch", map[string]interface{}{
			"declared": meta.LenBytes,
			"actual":   len(chunk),
		})
		return
	}
	if !audio.ValidChunk(chunk) {
		c.send(conn, NewErrorCode("bad_chunk", "chunk is empty or not PCM16 aligned"))
		return
	}

	if err := c.ingestor.Ingest(s, meta.Seq, chunk); err != nil {
		switch {
		case errors.Is(err, audio.ErrQuotaExceeded):
			c.send(conn, NewErrorCode("quota", "session disk quota exceeded; recording aborted"))
			c.ingestor.Cleanup(s)
			c.registry.UpdateState(s, session.StateIdle)
		case errors.Is(err, audio.ErrNoRecording):
			c.send(conn, NewErrorCode("bad_state", "no active recording"))
		default:
			c.logger.Error("chunk ingest failed",
				zap.String("session_id", s.ID), zap.Error(err))
			c.send(conn, NewErrorCode("storage", "failed to persist chunk"))
		}
		return
	}

	c.recognizer.Feed(s.ID, chunk)

	if n := s.Audio().ChunksReceived; c.cfg.AckInterval > 0 && n%c.cfg.AckInterval == 0 {
		c.send(conn, NewAck("chunk", meta.Seq))
	}
}

func (c *Controller) handleRecordingStopped(ctx context.Context, s *session.Session, conn *Conn) {
	if s.State() != session.StateRecording {
		c.send(conn, NewErrorCode("bad_state", "recording_stopped outside recording"))
		return
	}
	c.registry.UpdateState(s, session.StateProcessing)

	// The pipeline talks to external services; run it off the read loop
	// so pings and diagnostics stay responsive.
	go c.processTurn(ctx, s, conn)
}

// processTurn runs finalize -> transcribe -> chat -> synthesize and
// announces the result. Each failure mode has a device-visible outcome:
// a re-record request, an intervention request, or a fallback reply.
func (c *Controller) processTurn(ctx context.Context, s *session.Session, conn *Conn) {
	start := time.Now()

	_, duration, err := c.ingestor.Finalize(s)
	if err != nil {
		c.logger.Error("finalize failed", zap.String("session_id", s.ID), zap.Error(err))
		c.requestRerecord(s, conn, "recording was not usable")
		return
	}

	sttStart := time.Now()
	transcript, err := c.recognizer.Finalize(ctx, s.ID)
	c.metrics.RecordPipelineStage("stt", time.Since(sttStart))
	if err != nil {
		c.logger.Warn("transcription failed", zap.String("session_id", s.ID), zap.Error(err))
		c.requestRerecord(s, conn, "could not understand the audio")
		return
	}

	transcript = strings.TrimSpace(transcript)
	if len(transcript) < c.cfg.MinTranscriptLen {
		c.logger.Info("transcript below threshold",
			zap.String("session_id", s.ID),
			zap.Int("length", len(transcript)))
		c.requestRerecord(s, conn, "no speech detected")
		return
	}

	c.send(conn, NewPartial(transcript, true))
	s.LogEvent("transcript", map[string]interface{}{
		"length":     len(transcript),
		"duration_s": duration,
	})

	s.AddTurn("user", transcript)
	history := s.RecentHistory(c.cfg.HistoryWindow)
	s.ResetRerecord()

	var image []byte
	if path, _ := s.Image(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			image = data
		} else {
			c.logger.Warn("image artifact unreadable",
				zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	llmStart := time.Now()
	reply, err := c.chat.Complete(ctx, transcript, image, history)
	c.metrics.RecordPipelineStage("llm", time.Since(llmStart))
	if err != nil {
		c.logger.Error("chat completion failed",
			zap.String("session_id", s.ID), zap.Error(err))
		reply = ai.FallbackReply
	}
	s.AddTurn("assistant", reply)
	c.send(conn, NewLLM(reply))

	ttsStart := time.Now()
	ttsPath, err := c.synth.Synthesize(ctx, reply, s.ID)
	c.metrics.RecordPipelineStage("tts", time.Since(ttsStart))
	if err != nil {
		c.logger.Error("synthesis failed",
			zap.String("session_id", s.ID), zap.Error(err))
		c.send(conn, NewErrorCode("tts", "could not synthesize the reply"))
		c.ingestor.Cleanup(s)
		c.registry.UpdateState(s, session.StateIdle)
		return
	}
	s.SetTTS(ttsPath)
	s.RecomputeDiskUsage()

	// Capture artifact is spent once the turn resolves.
	c.ingestor.Cleanup(s)

	c.metrics.RecordPipelineStage("turn", time.Since(start))
	if err := c.streamer.Announce(conn, ttsPath); err != nil {
		c.logger.Error("failed to announce tts",
			zap.String("session_id", s.ID), zap.Error(err))
		c.registry.UpdateState(s, session.StateIdle)
	}
}

// requestRerecord asks the device to capture again, up to the attempt
// cap; past it the session stalls and a human is asked to step in.
func (c *Controller) requestRerecord(s *session.Session, conn *Conn, reason string) {
	c.ingestor.Cleanup(s)

	if !s.CanRerecord() {
		c.registry.UpdateState(s, session.StateStalled)
		c.send(conn, NewRequestUserIntervention(
			"I could not make out what you said after several tries. Please check the microphone and start again."))
		return
	}

	s.IncrementRerecord()
	c.metrics.RerecordRequests.Inc()
	c.registry.UpdateState(s, session.StateIdle)
	c.send(conn, NewRequestRerecord(reason))
}

func (c *Controller) handleReadyForPlayback(ctx context.Context, s *session.Session, conn *Conn) {
	path, ready := s.TTS()
	if !ready {
		c.send(conn, NewErrorCode("bad_state", "no synthesized reply is ready"))
		return
	}
	// A retried ready_for_playback while the stream is in flight would
	// start a second stream over the same connection and interleave the
	// two chunk sequences.
	if s.State() == session.StatePlaying {
		c.send(conn, NewErrorCode("bad_state", "playback already in progress"))
		return
	}
	c.registry.UpdateState(s, session.StatePlaying)

	go func() {
		if err := c.streamer.Stream(ctx, conn, path); err != nil {
			c.logger.Warn("stream failed, offering download",
				zap.String("session_id", s.ID), zap.Error(err))
			if offerErr := c.streamer.Offer(conn, path); offerErr != nil {
				c.logger.Error("download offer failed",
					zap.String("session_id", s.ID), zap.Error(offerErr))
			}
		}
	}()
}

func (c *Controller) handlePlaybackComplete(s *session.Session) {
	path, _ := s.TTS()
	s.SetTTS("")
	if path != "" {
		os.Remove(path)
	}
	s.LogEvent("playback_complete", nil)
	c.registry.UpdateState(s, session.StateIdle)
}

func (c *Controller) send(conn *Conn, msg interface{}) {
	if err := conn.SendJSON(msg); err != nil {
		c.logger.Debug("send failed", zap.Error(err))
		return
	}
	if typed, ok := msg.(interface{ outboundType() string }); ok {
		c.metrics.RecordWSMessage("out", typed.outboundType())
	}
}
