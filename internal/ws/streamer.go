package ws

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/audio"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/shared/id"
)

// StreamerConfig tunes the playback stream.
type StreamerConfig struct {
	ChunkSizeBytes int
	PacingDelay    time.Duration
	DownloadExpiry time.Duration
	Format         audio.Format
}

// Streamer delivers a synthesized reply over the socket as meta/binary
// chunk pairs, with a download grant as the mid-stream fallback.
type Streamer struct {
	cfg       StreamerConfig
	downloads *Downloads
	logger    *logging.Logger
}

// NewStreamer builds a streamer and its download grant registry.
func NewStreamer(cfg StreamerConfig, logger *logging.Logger) *Streamer {
	return &Streamer{
		cfg:       cfg,
		downloads: NewDownloads(cfg.DownloadExpiry),
		logger:    logger,
	}
}

// Downloads exposes the grant registry for the HTTP download endpoint.
func (st *Streamer) Downloads() *Downloads { return st.downloads }

// Announce sends the stream descriptor for a synthesized artifact. The
// device answers ready_for_playback when it wants the bytes.
func (st *Streamer) Announce(conn *Conn, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat tts artifact: %w", err)
	}
	pcmBytes := info.Size() - audio.WAVHeaderSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	durationMs := int64(st.cfg.Format.Duration(pcmBytes) * 1000)
	return conn.SendJSON(TTSReady{
		Type:       "tts_ready",
		DurationMs: durationMs,
		SampleRate: st.cfg.Format.SampleRate,
		Format:     "wav",
		FileSize:   info.Size(),
	})
}

// Stream sends the artifact as sequenced meta/binary pairs followed by a
// single completion marker. Every binary payload except possibly the last
// is exactly the configured chunk size. On a mid-stream failure the
// caller falls back to a download grant.
func (st *Streamer) Stream(ctx context.Context, conn *Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tts artifact: %w", err)
	}

	seq := 0
	for off := 0; off < len(data); off += st.cfg.ChunkSizeBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + st.cfg.ChunkSizeBytes
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		if err := conn.SendJSON(NewTTSChunkMeta(seq, len(chunk))); err != nil {
			return fmt.Errorf("send chunk meta %d: %w", seq, err)
		}
		if err := conn.SendBinary(chunk); err != nil {
			return fmt.Errorf("send chunk %d: %w", seq, err)
		}
		seq++
		if st.cfg.PacingDelay > 0 {
			time.Sleep(st.cfg.PacingDelay)
		}
	}

	if err := conn.SendJSON(NewTTSDone()); err != nil {
		return fmt.Errorf("send completion marker: %w", err)
	}
	st.logger.Info("tts stream complete",
		zap.Int("chunks", seq),
		zap.Int("bytes", len(data)))
	return nil
}

// Offer mints a download grant for the artifact and sends the URL.
func (st *Streamer) Offer(conn *Conn, path string) error {
	token := st.downloads.Grant(path)
	return conn.SendJSON(NewOfferDownload("/download/" + token))
}

type grant struct {
	path    string
	expires time.Time
}

// Downloads is a registry of time-limited download grants for synthesized
// artifacts. Grants expire rather than being single-use: a flaky device
// may need more than one attempt.
type Downloads struct {
	mu     sync.Mutex
	grants map[string]grant
	ttl    time.Duration
}

func NewDownloads(ttl time.Duration) *Downloads {
	return &Downloads{grants: make(map[string]grant), ttl: ttl}
}

// Grant registers a path and returns its opaque token.
func (d *Downloads) Grant(path string) string {
	token := id.NewDownloadID().String()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grants[token] = grant{path: path, expires: time.Now().Add(d.ttl)}
	return token
}

// Resolve returns the path behind a token, or false when the token is
// unknown or expired. Expired grants are dropped on access.
func (d *Downloads) Resolve(token string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.grants[token]
	if !ok {
		return "", false
	}
	if time.Now().After(g.expires) {
		delete(d.grants, token)
		return "", false
	}
	return g.path, true
}
