package audio

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

func testIngestor(t *testing.T, quotaBytes int64) (*Ingestor, *session.Session) {
	t.Helper()
	ing := NewIngestor(IngestorConfig{
		TempDir:      t.TempDir(),
		SeqTolerance: 5,
		Format:       DefaultFormat(),
	}, logging.NewNop(), monitoring.NewMetrics())

	s := session.New("sess_test", session.Limits{
		MaxHistoryTurns:     10,
		MaxRerecordAttempts: 2,
		DiskQuotaBytes:      quotaBytes,
	})
	return ing, s
}

func chunkOf(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestIngestor_AppendsInOrder(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)
	require.NoError(t, ing.Start(s))

	require.NoError(t, ing.Ingest(s, 0, chunkOf('a', 200)))
	require.NoError(t, ing.Ingest(s, 1, chunkOf('b', 300)))
	require.NoError(t, ing.Ingest(s, 2, chunkOf('c', 400)))

	buf := s.Audio()
	assert.Equal(t, 3, buf.ChunksReceived)
	assert.Equal(t, int64(900), buf.TotalBytes)

	data, err := ing.ReadRecording(s)
	require.NoError(t, err)
	want := append(append(chunkOf('a', 200), chunkOf('b', 300)...), chunkOf('c', 400)...)
	assert.Equal(t, want, data)
}

func TestIngestor_ToleranceWindow(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)
	require.NoError(t, ing.Start(s))

	require.NoError(t, ing.Ingest(s, 0, chunkOf('a', 100)))
	// seq 4 is within the tolerance of 5: accepted, no gap event
	require.NoError(t, ing.Ingest(s, 4, chunkOf('b', 100)))
	// seq 20 is far outside: still appended, gap event logged
	require.NoError(t, ing.Ingest(s, 20, chunkOf('c', 100)))

	var gaps int
	for _, ev := range s.Events() {
		if ev.Type == "chunk_gap" {
			gaps++
		}
	}
	assert.Equal(t, 1, gaps)

	data, err := ing.ReadRecording(s)
	require.NoError(t, err)
	assert.Len(t, data, 300, "out-of-window chunk still appended")
}

func TestIngestor_EmptyChunk(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)
	require.NoError(t, ing.Start(s))

	err := ing.Ingest(s, 0, nil)
	assert.ErrorIs(t, err, ErrEmptyChunk)
	assert.Equal(t, 0, s.Audio().ChunksReceived)
}

func TestIngestor_NoRecording(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)

	err := ing.Ingest(s, 0, chunkOf('a', 100))
	assert.ErrorIs(t, err, ErrNoRecording)

	_, _, err = ing.Finalize(s)
	assert.ErrorIs(t, err, ErrNoRecording)
}

func TestIngestor_QuotaDurableButRejected(t *testing.T) {
	ing, s := testIngestor(t, 500)
	require.NoError(t, ing.Start(s))

	require.NoError(t, ing.Ingest(s, 0, chunkOf('a', 400)))

	// This write pushes usage past the quota: the bytes land on disk but
	// the caller gets the policy signal.
	err := ing.Ingest(s, 1, chunkOf('b', 400))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	data, readErr := ing.ReadRecording(s)
	require.NoError(t, readErr)
	assert.Len(t, data, 800)

	// Once over quota, stays over until artifacts are removed.
	err = ing.Ingest(s, 2, chunkOf('c', 10))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestIngestor_FinalizeReportsDuration(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)
	require.NoError(t, ing.Start(s))

	// 1 second of 16kHz PCM16 mono
	require.NoError(t, ing.Ingest(s, 0, chunkOf(0, 16000)))
	require.NoError(t, ing.Ingest(s, 1, chunkOf(0, 16000)))

	path, duration, err := ing.Finalize(s)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.InDelta(t, 1.0, duration, 1e-9)
}

func TestIngestor_StartDiscardsPrevious(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)
	require.NoError(t, ing.Start(s))
	require.NoError(t, ing.Ingest(s, 0, chunkOf('a', 100)))
	first := s.Audio().Path

	require.NoError(t, ing.Start(s))

	_, err := os.Stat(first)
	assert.True(t, os.IsNotExist(err), "previous artifact removed")
	assert.Equal(t, 0, s.Audio().ChunksReceived)
}

func TestIngestor_Cleanup(t *testing.T) {
	ing, s := testIngestor(t, 100*1024*1024)
	require.NoError(t, ing.Start(s))
	require.NoError(t, ing.Ingest(s, 0, chunkOf('a', 100)))
	path := s.Audio().Path

	ing.Cleanup(s)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, s.Audio().Path)
}
