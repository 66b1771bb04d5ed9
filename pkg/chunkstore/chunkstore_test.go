package chunkstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 5*time.Minute)
	require.NoError(t, err)
	return s
}

func TestSaveChunkOutOfOrderCompletion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.SaveChunk(ctx, "abc", 1, 3, []byte("bbb"))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Uploaded)
	assert.False(t, st.Complete)

	st, err = s.SaveChunk(ctx, "abc", 2, 3, []byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Uploaded)
	assert.False(t, st.Complete)
	assert.Equal(t, []int{0}, st.Missing)

	st, err = s.SaveChunk(ctx, "abc", 0, 3, []byte("aaa"))
	require.NoError(t, err)
	assert.True(t, st.Complete)
	assert.Empty(t, st.Missing)
}

func TestCombineConcatenatesInIndexOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Arrival order 2, 0, 1 must not affect the result.
	_, err := s.SaveChunk(ctx, "abc", 2, 3, []byte("!"))
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, "abc", 0, 3, []byte("hello "))
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, "abc", 1, 3, []byte("world"))
	require.NoError(t, err)

	combined, err := s.Combine(ctx, "abc", 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world!"), combined)
}

func TestCombineMissingChunk(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveChunk(ctx, "abc", 0, 3, []byte("a"))
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, "abc", 2, 3, []byte("c"))
	require.NoError(t, err)

	_, err = s.Combine(ctx, "abc", 3)
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)

	// No destructive action: the present chunks survive and the
	// session is still incomplete, not errored.
	st, err := s.Status(ctx, "abc", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Uploaded)
	assert.Equal(t, []int{1}, st.Missing)
}

func TestSaveChunkIdempotentResubmission(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveChunk(ctx, "abc", 0, 2, []byte("first"))
	require.NoError(t, err)
	st, err := s.SaveChunk(ctx, "abc", 0, 2, []byte("second"))
	require.NoError(t, err)

	// Count unchanged, bytes reflect the latest submission.
	assert.Equal(t, 1, st.Uploaded)

	_, err = s.SaveChunk(ctx, "abc", 1, 2, []byte("!"))
	require.NoError(t, err)
	combined, err := s.Combine(ctx, "abc", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("second!"), combined)
}

func TestSaveChunkIgnoresOutOfRangeIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.SaveChunk(ctx, "abc", 5, 3, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Uploaded)

	st, err = s.SaveChunk(ctx, "abc", -1, 3, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Uploaded)
	assert.Equal(t, []int{0, 1, 2}, st.Missing)
}

func TestStatusUnknownFileId(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.Status(ctx, "never-seen", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Uploaded)
	assert.Equal(t, 4, st.Total)
	assert.False(t, st.Complete)
	assert.Equal(t, []int{0, 1, 2, 3}, st.Missing)
}

func TestStatusRebuildsFromDiskAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(dir, 5*time.Minute)
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, "abc", 0, 3, []byte("a"))
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, "abc", 2, 3, []byte("c"))
	require.NoError(t, err)

	// Fresh store over the same directory simulates a restart with a
	// cold cache.
	s2, err := New(dir, 5*time.Minute)
	require.NoError(t, err)
	st, err := s2.Status(ctx, "abc", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Uploaded)
	assert.Equal(t, []int{1}, st.Missing)

	_, err = s2.SaveChunk(ctx, "abc", 1, 3, []byte("b"))
	require.NoError(t, err)
	combined, err := s2.Combine(ctx, "abc", 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), combined)
}

func TestCombineStatusVisibleDuringGrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveChunk(ctx, "abc", 0, 1, []byte("a"))
	require.NoError(t, err)
	_, err = s.Combine(ctx, "abc", 1)
	require.NoError(t, err)
	s.Discard(ctx, "abc")

	// Background cleanup may already have removed the directory; the
	// grace cache must still report completion.
	st, err := s.Status(ctx, "abc", 1)
	require.NoError(t, err)
	assert.True(t, st.Complete)
	assert.Equal(t, 1, st.Uploaded)
}

func TestTryBeginCombineSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveChunk(ctx, "abc", 0, 1, []byte("a"))
	require.NoError(t, err)

	assert.True(t, s.TryBeginCombine("abc"))
	assert.False(t, s.TryBeginCombine("abc"))

	s.AbortCombine("abc")
	assert.True(t, s.TryBeginCombine("abc"))
}

func TestReapStale(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir, 5*time.Minute)
	require.NoError(t, err)

	_, err = s.SaveChunk(ctx, "old", 0, 2, []byte("a"))
	require.NoError(t, err)
	_, err = s.SaveChunk(ctx, "fresh", 0, 2, []byte("a"))
	require.NoError(t, err)

	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old"), stale, stale))

	require.NoError(t, s.ReapStale(ctx, 24*time.Hour))

	_, err = os.Stat(filepath.Join(dir, "old"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "fresh"))
	assert.NoError(t, err)

	// Reaped session starts over.
	st, err := s.Status(ctx, "old", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Uploaded)
}

func TestRejectsFileIdOutsideStagingDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	staging := filepath.Join(root, "staging")
	s, err := New(staging, 5*time.Minute)
	require.NoError(t, err)

	victim := filepath.Join(root, "victim")
	require.NoError(t, os.MkdirAll(victim, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "keep.txt"), []byte("keep"), 0o644))

	for _, fileId := range []string{"../victim", "a/b", `a\b`, "..", ".", ""} {
		_, err = s.SaveChunk(ctx, fileId, 0, 1, []byte("x"))
		assert.ErrorIs(t, err, ErrBadFileId, fileId)
		_, err = s.Status(ctx, fileId, 1)
		assert.ErrorIs(t, err, ErrBadFileId, fileId)
		_, err = s.Combine(ctx, fileId, 1)
		assert.ErrorIs(t, err, ErrBadFileId, fileId)
	}

	// Nothing escaped the staging root, and a discard of a traversal id
	// must not touch the outside directory.
	_, err = os.Stat(filepath.Join(victim, "0"))
	assert.True(t, os.IsNotExist(err))

	s.Discard(ctx, "../victim")
	time.Sleep(50 * time.Millisecond)
	_, err = os.Stat(filepath.Join(victim, "keep.txt"))
	assert.NoError(t, err)
}

func TestStatusDoesNotCacheUnknownFileId(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Polls for an upload that never started leave no session behind:
	// the second poll is free to report its own totalChunks.
	st, err := s.Status(ctx, "ghost", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)

	st, err = s.Status(ctx, "ghost", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Total)

	// A session with chunks on disk is still cached and pins its total.
	_, err = s.SaveChunk(ctx, "real", 0, 3, []byte("a"))
	require.NoError(t, err)
	st, err = s.Status(ctx, "real", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
}

func TestReapStaleSweepsExpiredStatuses(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir, time.Nanosecond)
	require.NoError(t, err)

	_, err = s.SaveChunk(ctx, "abc", 0, 1, []byte("a"))
	require.NoError(t, err)
	_, err = s.Combine(ctx, "abc", 1)
	require.NoError(t, err)
	s.Discard(ctx, "abc")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.ReapStale(ctx, 24*time.Hour))
	assert.Equal(t, 0, s.completed.Sweep())
}
