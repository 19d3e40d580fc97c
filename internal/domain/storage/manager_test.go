package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

func testStorage(t *testing.T, quotaBytes int64) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		TempDir:       t.TempDir(),
		QuotaBytes:    quotaBytes,
		GracePeriod:   30 * time.Second,
		SweepInterval: time.Minute,
	}, logging.NewNop(), monitoring.NewMetrics())
	require.NoError(t, err)
	return m
}

func TestManager_CreatesTempDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "temp")
	_, err := NewManager(ManagerConfig{
		TempDir:    dir,
		QuotaBytes: 1024,
	}, logging.NewNop(), monitoring.NewMetrics())
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestManager_Usage(t *testing.T) {
	m := testStorage(t, 10*1024)
	require.NoError(t, os.WriteFile(filepath.Join(m.TempDir(), "a.raw"), make([]byte, 1000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.TempDir(), "b.wav"), make([]byte, 2000), 0o644))

	u := m.Usage()
	assert.Equal(t, int64(3000), u.TotalSizeBytes)
	assert.Equal(t, 2, u.FileCount)
	assert.Equal(t, int64(10*1024), u.QuotaBytes)
	assert.False(t, m.QuotaExceeded())
}

func TestManager_QuotaExceeded(t *testing.T) {
	m := testStorage(t, 500)
	require.NoError(t, os.WriteFile(filepath.Join(m.TempDir(), "big.raw"), make([]byte, 1000), 0o644))

	assert.True(t, m.QuotaExceeded())
}

func TestManager_SweepOlderThan(t *testing.T) {
	m := testStorage(t, 10*1024)

	oldPath := filepath.Join(m.TempDir(), "old.raw")
	newPath := filepath.Join(m.TempDir(), "new.raw")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	removed := m.SweepOlderThan(30 * time.Minute)
	assert.Equal(t, 1, removed)

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, newPath)
}

func TestManager_SweepEmptyDir(t *testing.T) {
	m := testStorage(t, 10*1024)
	assert.Equal(t, 0, m.SweepOlderThan(time.Minute))
}
