package blobstore

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTemp(t *testing.T, chunkSize int) *Store {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir(), ChunkSize: chunkSize, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenChecksPath(t *testing.T) {
	_, err := Open(Config{Logger: quietLogger()})
	assert.Error(t, err)

	_, err = Open(Config{Path: filepath.Join(t.TempDir(), "missing"), Logger: quietLogger()})
	assert.ErrorContains(t, err, "path does not exist")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = Open(Config{Path: file, Logger: quietLogger()})
	assert.ErrorContains(t, err, "not a directory")

	_, err = Open(Config{Path: t.TempDir(), MinimumFreeGB: 1 << 40, Logger: quietLogger()})
	assert.ErrorContains(t, err, "not enough space")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTemp(t, 1024)

	body := make([]byte, 10*1024+17)
	_, err := rand.Read(body)
	require.NoError(t, err)
	tags := []Tag{{Name: "Content-Type", Value: "application/json"}}

	require.NoError(t, s.Put("tx1", "application/json", tags, body))

	obj, err := s.Get("tx1")
	require.NoError(t, err)
	assert.Equal(t, "tx1", obj.ID)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.Equal(t, tags, obj.Tags)
	assert.True(t, bytes.Equal(body, obj.Body))
	assert.False(t, obj.Created.IsZero())

	n, err := s.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	reads, writes := s.Counters()
	assert.NotZero(t, reads)
	assert.NotZero(t, writes)
}

func TestChunksAreDeduplicated(t *testing.T) {
	s := openTemp(t, 64)
	body := bytes.Repeat([]byte("a"), 64*8)

	require.NoError(t, s.Put("tx1", "text/plain", nil, body))
	require.NoError(t, s.Put("tx2", "text/plain", nil, body))

	n, err := s.ChunkCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, id := range []string{"tx1", "tx2"} {
		obj, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, body, obj.Body)
	}
}

func TestIdsAreNeverOverwritten(t *testing.T) {
	s := openTemp(t, 0)
	require.NoError(t, s.Put("tx1", "text/plain", nil, []byte("first")))
	err := s.Put("tx1", "text/plain", nil, []byte("second"))
	assert.ErrorIs(t, err, ErrExists)

	obj, err := s.Get("tx1")
	require.NoError(t, err)
	assert.Equal(t, "first", string(obj.Body))
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t, 0)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("")
	assert.ErrorIs(t, err, ErrEmptyID)

	ok, err := s.Has("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyBody(t *testing.T) {
	s := openTemp(t, 0)
	require.NoError(t, s.Put("empty", "text/plain", nil, nil))
	obj, err := s.Get("empty")
	require.NoError(t, err)
	assert.Empty(t, obj.Body)
}

func TestInMemory(t *testing.T) {
	s, err := Open(Config{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("tx1", "text/plain", nil, []byte("hello")))
	obj, err := s.Get("tx1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(obj.Body))
	assert.NoError(t, s.Clean())
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Path: dir, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Put("tx1", "text/plain", nil, []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir, Logger: quietLogger()})
	require.NoError(t, err)
	defer s.Close()
	obj, err := s.Get("tx1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(obj.Body))
}
