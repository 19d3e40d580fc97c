// Package audio buffers binary audio chunks into per-session artifacts,
// validating ordering and disk quota along the way.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

var (
	// ErrEmptyChunk rejects zero-length payloads.
	ErrEmptyChunk = errors.New("empty audio chunk")
	// ErrNoRecording means no artifact is open for the session.
	ErrNoRecording = errors.New("no active recording")
	// ErrQuotaExceeded is a policy signal: the chunk was durably written,
	// but the session's artifacts now exceed its disk quota and the caller
	// should abort the recording.
	ErrQuotaExceeded = errors.New("session disk quota exceeded")
)

// IngestorConfig bounds ingestion behavior.
type IngestorConfig struct {
	TempDir      string
	SeqTolerance int
	Format       Format
}

// Ingestor appends device audio to per-session temp artifacts.
type Ingestor struct {
	cfg     IngestorConfig
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewIngestor creates an audio ingestion engine.
func NewIngestor(cfg IngestorConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Ingestor {
	return &Ingestor{cfg: cfg, logger: logger, metrics: metrics}
}

// Start opens a fresh, empty artifact for the session and resets its
// buffer counters. At most one open artifact per session at a time; a
// previous un-finalized artifact is discarded first.
func (i *Ingestor) Start(s *session.Session) error {
	if prev := s.Audio().Path; prev != "" {
		os.Remove(prev)
	}

	name := fmt.Sprintf("audio_%s_%d.raw", s.ID, time.Now().Unix())
	path := filepath.Join(i.cfg.TempDir, name)

	if err := os.MkdirAll(i.cfg.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create recording artifact: %w", err)
	}
	f.Close()

	s.BeginRecording(path)
	s.RecomputeDiskUsage()

	i.logger.Info("Started recording",
		zap.String("session_id", s.ID),
		zap.String("artifact", path),
	)
	return nil
}

// Ingest appends one chunk to the session's artifact.
//
// Sequence policy: the first chunk sets the expected baseline. Later
// chunks within the tolerance window are accepted without a flag; chunks
// outside it are still appended best-effort but surface as a chunk_gap
// event. The expected sequence never rewinds.
//
// Returns ErrQuotaExceeded after the write if the session's recomputed
// artifact usage exceeds its quota; the bytes are already durable, so
// this is a policy signal rather than data corruption.
func (i *Ingestor) Ingest(s *session.Session, seq int, chunk []byte) error {
	if len(chunk) == 0 {
		return ErrEmptyChunk
	}

	buf := s.Audio()
	if buf.Path == "" {
		return ErrNoRecording
	}

	f, err := os.OpenFile(buf.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open recording artifact: %w", err)
	}
	if _, err := f.Write(chunk); err != nil {
		f.Close()
		return fmt.Errorf("failed to append chunk: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to flush chunk: %w", err)
	}

	gap := s.RecordChunk(seq, len(chunk), i.cfg.SeqTolerance)
	if gap {
		i.logger.Warn("Chunk sequence gap",
			zap.String("session_id", s.ID),
			zap.Int("seq", seq),
		)
		if i.metrics != nil {
			i.metrics.ChunkGaps.Inc()
		}
	}
	if i.metrics != nil {
		i.metrics.RecordIngest(len(chunk))
	}

	if s.QuotaExceeded() {
		i.logger.Warn("Session exceeded disk quota",
			zap.String("session_id", s.ID),
			zap.Int64("usage_bytes", s.DiskUsage()),
		)
		if i.metrics != nil {
			i.metrics.QuotaRejections.Inc()
		}
		return ErrQuotaExceeded
	}

	return nil
}

// Finalize closes out the recording and returns the artifact path and its
// duration in seconds.
func (i *Ingestor) Finalize(s *session.Session) (string, float64, error) {
	buf := s.Audio()
	if buf.Path == "" {
		return "", 0, ErrNoRecording
	}
	if _, err := os.Stat(buf.Path); err != nil {
		return "", 0, fmt.Errorf("recording artifact missing: %w", err)
	}

	duration := i.cfg.Format.Duration(buf.TotalBytes)

	s.LogEvent("recording_finalized", map[string]interface{}{
		"duration_seconds": duration,
		"total_chunks":     buf.ChunksReceived,
		"total_bytes":      buf.TotalBytes,
	})
	i.logger.Info("Finalized recording",
		zap.String("session_id", s.ID),
		zap.Float64("duration_sec", duration),
		zap.Int64("total_bytes", buf.TotalBytes),
	)

	return buf.Path, duration, nil
}

// ReadRecording returns the raw PCM bytes of the session's artifact.
func (i *Ingestor) ReadRecording(s *session.Session) ([]byte, error) {
	buf := s.Audio()
	if buf.Path == "" {
		return nil, ErrNoRecording
	}
	data, err := os.ReadFile(buf.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording artifact: %w", err)
	}
	return data, nil
}

// Cleanup deletes the session's audio artifact and zeroes its counters.
func (i *Ingestor) Cleanup(s *session.Session) {
	buf := s.Audio()
	if buf.Path != "" {
		if err := os.Remove(buf.Path); err != nil && !os.IsNotExist(err) {
			i.logger.Error("Failed to remove recording artifact",
				zap.String("path", buf.Path),
				zap.Error(err),
			)
		}
	}
	s.ResetAudio()
	s.RecomputeDiskUsage()
}
