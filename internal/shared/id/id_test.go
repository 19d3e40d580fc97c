package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID_Format(t *testing.T) {
	sid := NewSessionID().String()

	require.True(t, strings.HasPrefix(sid, "sess_"))
	raw := strings.TrimPrefix(sid, "sess_")
	assert.Len(t, raw, 26)
	assert.True(t, IsValid(raw))
}

func TestNewDownloadID_Format(t *testing.T) {
	did := NewDownloadID().String()

	require.True(t, strings.HasPrefix(did, "dl_"))
	assert.True(t, IsValid(strings.TrimPrefix(did, "dl_")))
}

func TestGenerate_Unique(t *testing.T) {
	g := NewGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := g.GenerateString()
		require.False(t, seen[s], "duplicate ULID %s", s)
		seen[s] = true
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(Default().GenerateString()))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid("sess_01ARZ3NDEKTSV4RRFFQ69G5FAV"))
}

func TestDefault_Singleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
