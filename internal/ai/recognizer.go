package ai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/audio"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/resilience"
)

// Recognizer is the speech-recognition contract: one accumulation context
// per session, fed chunk by chunk, finalized into a transcript. Variants
// (batch cloud, streaming local) are selected at configuration time; only
// one is active per deployment.
type Recognizer interface {
	// Start opens a recognition accumulation context for a session.
	Start(sessionID string)
	// Feed adds one audio chunk to the session's context.
	Feed(sessionID string, chunk []byte)
	// Partial reports whether the variant emits partial transcripts.
	Partial() bool
	// Finalize closes the context and returns the transcript.
	Finalize(ctx context.Context, sessionID string) (string, error)
}

// WhisperRecognizer is the batch cloud variant: chunks accumulate in
// memory and one transcription request runs at finalize.
type WhisperRecognizer struct {
	client  *resty.Client
	breaker *resilience.Breaker
	cfg     config.GroqConfig
	format  audio.Format
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	sessions map[string][][]byte
}

// NewWhisperRecognizer creates the batch cloud recognizer.
func NewWhisperRecognizer(cfg config.GroqConfig, format audio.Format, logger *logging.Logger, metrics *monitoring.Metrics) *WhisperRecognizer {
	return &WhisperRecognizer{
		client:   newRestyClient(cfg),
		breaker:  newBreaker("groq-stt"),
		cfg:      cfg,
		format:   format,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string][][]byte),
	}
}

// Start opens a fresh accumulation context, discarding any previous one.
func (r *WhisperRecognizer) Start(sessionID string) {
	r.mu.Lock()
	r.sessions[sessionID] = nil
	r.mu.Unlock()
}

// Feed appends a chunk to the session's accumulation context. Chunks for
// unknown sessions are dropped.
func (r *WhisperRecognizer) Feed(sessionID string, chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	r.sessions[sessionID] = append(r.sessions[sessionID], buf)
}

// Partial returns false: the batch cloud API yields no partial results.
func (r *WhisperRecognizer) Partial() bool { return false }

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Finalize joins the accumulated chunks into a WAV and transcribes it.
// The context is consumed whether or not the call succeeds.
func (r *WhisperRecognizer) Finalize(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	chunks, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("no recognition context for session %s", sessionID)
	}

	var pcm []byte
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	if len(pcm) == 0 {
		return "", nil
	}

	wav, err := audio.EncodeWAV(pcm, r.format)
	if err != nil {
		return "", fmt.Errorf("failed to encode recording: %w", err)
	}

	timer := monitoring.NewTimer(r.metrics, "stt")
	result, err := r.breaker.Execute(func() (interface{}, error) {
		resp, err := r.client.R().
			SetContext(ctx).
			SetFileReader("file", "recording.wav", bytes.NewReader(wav)).
			SetFormData(map[string]string{
				"model":           r.cfg.STTModel,
				"response_format": "json",
				"language":        r.cfg.Language,
				"temperature":     "0",
			}).
			Post("/audio/transcriptions")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return nil, ErrAuth
		}
		if resp.IsError() {
			return nil, fmt.Errorf("transcription failed: %s", resp.Status())
		}

		var parsed transcriptionResponse
		if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode transcription: %w", err)
		}
		return parsed.Text, nil
	})
	if err != nil {
		timer.Stop("error")
		return "", err
	}
	timer.Stop("ok")

	text := result.(string)
	r.logger.Info("Transcription complete",
		zap.String("session_id", sessionID),
		zap.Int("chars", len(text)),
	)
	return text, nil
}
