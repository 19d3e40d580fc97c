package ai

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/audio"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/resilience"
)

// SynthEngine renders text into WAV bytes. The concrete engine is an
// external collaborator; on total failure the synthesizer substitutes a
// locally generated tone so the pipeline never lacks an artifact.
type SynthEngine interface {
	Render(ctx context.Context, text string) ([]byte, error)
}

// Synthesizer runs synthesis jobs on a bounded single-worker queue:
// exactly one job runs at a time process-wide, by explicit design.
type Synthesizer struct {
	engine  SynthEngine
	tempDir string
	format  audio.Format
	logger  *logging.Logger
	jobs    chan synthJob
	done    chan struct{}
}

type synthJob struct {
	ctx       context.Context
	text      string
	sessionID string
	result    chan synthResult
}

type synthResult struct {
	path string
	err  error
}

// NewSynthesizer creates the synthesizer and starts its worker.
func NewSynthesizer(engine SynthEngine, tempDir string, format audio.Format, queueDepth int, logger *logging.Logger) *Synthesizer {
	s := &Synthesizer{
		engine:  engine,
		tempDir: tempDir,
		format:  format,
		logger:  logger,
		jobs:    make(chan synthJob, queueDepth),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

// Close stops the worker after draining queued jobs.
func (s *Synthesizer) Close() {
	close(s.jobs)
	<-s.done
}

// Synthesize renders text to a WAV artifact for the session and returns
// its path. Blocks until the single worker completes the job.
func (s *Synthesizer) Synthesize(ctx context.Context, text, sessionID string) (string, error) {
	job := synthJob{
		ctx:       ctx,
		text:      text,
		sessionID: sessionID,
		result:    make(chan synthResult, 1),
	}

	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-job.result:
		return res.path, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Synthesizer) worker() {
	defer close(s.done)
	for job := range s.jobs {
		path, err := s.render(job.ctx, job.text, job.sessionID)
		job.result <- synthResult{path: path, err: err}
	}
}

func (s *Synthesizer) render(ctx context.Context, text, sessionID string) (string, error) {
	wav, err := s.engine.Render(ctx, text)
	if err != nil {
		s.logger.Warn("Synthesis engine failed, substituting fallback tone",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		wav, err = FallbackTone(text, s.format)
		if err != nil {
			return "", fmt.Errorf("fallback tone generation failed: %w", err)
		}
	}

	name := fmt.Sprintf("tts_%s_%d.wav", sessionID, time.Now().Unix())
	path := filepath.Join(s.tempDir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("failed to write synthesis artifact: %w", err)
	}

	s.logger.Info("Synthesis complete",
		zap.String("session_id", sessionID),
		zap.String("artifact", path),
		zap.Int("bytes", len(wav)),
	)
	return path, nil
}

// FallbackTone generates a 440 Hz sine WAV whose duration scales with the
// text length, clamped to [1s, 5s].
func FallbackTone(text string, f audio.Format) ([]byte, error) {
	duration := float64(len(text)) * 0.05
	if duration < 1.0 {
		duration = 1.0
	}
	if duration > 5.0 {
		duration = 5.0
	}

	const (
		freq      = 440.0
		amplitude = 8000
	)
	samples := int(duration * float64(f.SampleRate))
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(f.SampleRate)))
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}

	return audio.EncodeWAV(pcm, f)
}

// HTTPSynthEngine renders speech through the hosted synthesis endpoint.
type HTTPSynthEngine struct {
	client  *resty.Client
	breaker *resilience.Breaker
	cfg     config.GroqConfig
	metrics *monitoring.Metrics
}

// NewHTTPSynthEngine creates the hosted synthesis engine.
func NewHTTPSynthEngine(cfg config.GroqConfig, metrics *monitoring.Metrics) *HTTPSynthEngine {
	return &HTTPSynthEngine{
		client:  newRestyClient(cfg),
		breaker: newBreaker("groq-tts"),
		cfg:     cfg,
		metrics: metrics,
	}
}

// Render calls the speech endpoint and returns WAV bytes.
func (e *HTTPSynthEngine) Render(ctx context.Context, text string) ([]byte, error) {
	timer := monitoring.NewTimer(e.metrics, "tts")
	result, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.client.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"model":           "playai-tts",
				"voice":           "Fritz-PlayAI",
				"input":           text,
				"response_format": "wav",
			}).
			Post("/audio/speech")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return nil, ErrAuth
		}
		if resp.IsError() {
			return nil, fmt.Errorf("speech synthesis failed: %s", resp.Status())
		}
		return resp.Body(), nil
	})
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	timer.Stop("ok")
	return result.([]byte), nil
}
