// Package api exposes the HTTP surface next to the websocket endpoint:
// diagnostics, the image side channel, and the playback download
// fallback.
package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/storage"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/ws"
)

// HandlersConfig bounds the HTTP surface.
type HandlersConfig struct {
	TempDir           string
	MaxImageSizeBytes int64
}

// Handlers carries the dependencies of the REST endpoints.
type Handlers struct {
	cfg      HandlersConfig
	registry *session.Manager
	storage  *storage.Manager
	gate     *ws.Gate
	streamer *ws.Streamer
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	started  time.Time
}

// NewHandlers wires the REST endpoints.
func NewHandlers(
	cfg HandlersConfig,
	registry *session.Manager,
	store *storage.Manager,
	gate *ws.Gate,
	streamer *ws.Streamer,
	logger *logging.Logger,
	metrics *monitoring.Metrics,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		registry: registry,
		storage:  store,
		gate:     gate,
		streamer: streamer,
		logger:   logger,
		metrics:  metrics,
		started:  time.Now(),
	}
}

// Health reports liveness plus storage and session aggregates.
func (h *Handlers) Health(c *gin.Context) {
	usage := h.storage.Usage()

	states := make(map[string]int)
	for state, n := range h.registry.Stats() {
		states[string(state)] = n
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"connections":    h.gate.Count(),
		"sessions":       states,
		"storage":        usage,
	})
}

// State returns the full observable state of one session.
func (h *Handlers) State(c *gin.Context) {
	sessionID := c.Query("session")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session parameter"})
		return
	}
	s, ok := h.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// UploadImage accepts a JPEG or PNG capture over the HTTP side channel,
// stores it as a session artifact, and notifies the device over the
// websocket when one is bound.
func (h *Handlers) UploadImage(c *gin.Context) {
	sessionID := c.Query("session")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session parameter"})
		return
	}
	s, ok := h.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}

	if c.Request.ContentLength > h.cfg.MaxImageSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image exceeds size limit"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxImageSizeBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if int64(len(data)) > h.cfg.MaxImageSizeBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image exceeds size limit"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}

	mt := mimetype.Detect(data)
	var ext string
	switch {
	case mt.Is("image/jpeg"):
		ext = "jpg"
	case mt.Is("image/png"):
		ext = "png"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type " + mt.String()})
		return
	}

	filename := fmt.Sprintf("image_%s_%d.%s", sessionID, time.Now().UnixNano(), ext)
	path := filepath.Join(h.cfg.TempDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		h.logger.Error("failed to store image",
			zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	// Replace any previous capture; one image rides along per turn.
	if prev, _ := s.Image(); prev != "" && prev != path {
		os.Remove(prev)
	}
	s.SetImage(path, filename)
	s.LogEvent("image_uploaded", map[string]interface{}{
		"filename": filename,
		"bytes":    len(data),
		"mime":     mt.String(),
	})
	s.RecomputeDiskUsage()

	if conn, bound := h.gate.Lookup(sessionID); bound {
		if err := conn.SendJSON(ws.NewImageReceived(filename)); err != nil {
			h.logger.Warn("image notification failed",
				zap.String("session_id", sessionID), zap.Error(err))
		} else {
			h.metrics.RecordWSMessage("out", "image_received")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "received",
		"filename": filename,
		"bytes":    len(data),
	})
}

// Download serves a synthesized artifact behind a time-limited grant.
func (h *Handlers) Download(c *gin.Context) {
	token := c.Param("token")
	path, ok := h.streamer.Downloads().Resolve(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired download"})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact no longer available"})
		return
	}
	c.Header("Content-Type", "audio/wav")
	c.File(path)
}
