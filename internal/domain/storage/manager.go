// Package storage tracks and reclaims temp-artifact disk usage.
package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

// Usage summarizes temp directory consumption.
type Usage struct {
	TotalSizeBytes int64 `json:"total_size_bytes"`
	FileCount      int   `json:"file_count"`
	QuotaBytes     int64 `json:"quota_bytes"`
}

// ManagerConfig bounds the storage manager.
type ManagerConfig struct {
	TempDir       string
	QuotaBytes    int64
	GracePeriod   time.Duration
	SweepInterval time.Duration
}

// Manager owns the shared temp-file namespace. Each session owns a
// disjoint file subset named by session id + timestamp; the manager only
// ever reclaims files older than the grace period, which by construction
// are not mid-write.
type Manager struct {
	cfg     ManagerConfig
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewManager creates a storage quota manager and ensures the temp
// directory exists.
func NewManager(cfg ManagerConfig, logger *logging.Logger, metrics *monitoring.Metrics) (*Manager, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, logger: logger, metrics: metrics}, nil
}

// TempDir returns the managed temp directory.
func (m *Manager) TempDir() string {
	return m.cfg.TempDir
}

// Usage walks the temp directory and sums real file sizes.
func (m *Manager) Usage() Usage {
	var (
		mu    sync.Mutex
		total int64
		count int
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, m.cfg.TempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil // skip unreadable entries
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mu.Lock()
		total += info.Size()
		count++
		mu.Unlock()
		return nil
	})
	if err != nil {
		m.logger.Error("Temp directory walk failed", zap.Error(err))
	}

	if m.metrics != nil {
		m.metrics.TempDiskUsage.Set(float64(total))
	}
	return Usage{
		TotalSizeBytes: total,
		FileCount:      count,
		QuotaBytes:     m.cfg.QuotaBytes,
	}
}

// QuotaExceeded reports whether overall temp usage exceeds the quota.
func (m *Manager) QuotaExceeded() bool {
	u := m.Usage()
	return u.TotalSizeBytes > u.QuotaBytes
}

// SweepOlderThan removes temp files whose mtime is older than maxAge.
// Returns the number of files removed.
func (m *Manager) SweepOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	entries, err := os.ReadDir(m.cfg.TempDir)
	if err != nil {
		m.logger.Error("Failed to read temp directory", zap.Error(err))
		return 0
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.cfg.TempDir, entry.Name())
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		m.logger.Info("Swept old temp files", zap.Int("removed", removed))
		if m.metrics != nil {
			m.metrics.FilesSwept.Add(float64(removed))
		}
	}
	return removed
}

// Run executes the periodic reclamation sweep until the context is
// canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOlderThan(m.cfg.GracePeriod)
			m.Usage() // refresh the gauge
		}
	}
}
