package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"quickcap-api/dto"
	"quickcap-api/pkg/cache"
)

// ErrChunkIO marks a staging-area read or write failure. The client may
// retry the affected chunk; nothing else about the session is damaged.
var ErrChunkIO = errors.New("chunk io failure")

// ErrBadFileId rejects ids that are not a single path component. Each
// id maps to exactly one directory under the staging root; separators
// or dot components could address paths outside it.
var ErrBadFileId = errors.New("invalid file id")

func validFileId(fileId string) bool {
	if fileId == "" || fileId == "." || fileId == ".." {
		return false
	}
	return !strings.ContainsAny(fileId, `/\`)
}

// MissingChunkError is returned when a combine is attempted with gaps.
// The completeness check runs before any read, so seeing this error
// means no destructive action has been taken.
type MissingChunkError struct {
	FileId string
	Index  int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d for file %s", e.Index, e.FileId)
}

// Store accumulates chunked uploads on disk and answers status queries
// from an in-memory session cache, falling back to a directory scan when
// the cache is cold (for example after a restart). The staging directory
// is owned exclusively by this type.
type Store struct {
	baseDir string
	grace   time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	// completed holds the final status of combined uploads for the
	// grace window so a poll racing cleanup still observes completion.
	completed *cache.Cache[dto.UploadStatus]
}

type session struct {
	mu             sync.Mutex
	total          int
	present        map[int]struct{}
	combineStarted bool
	lastTouched    time.Time
}

func New(baseDir string, grace time.Duration) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %s: %w", baseDir, err)
	}
	return &Store{
		baseDir:   baseDir,
		grace:     grace,
		sessions:  make(map[string]*session),
		completed: cache.New[dto.UploadStatus](),
	}, nil
}

// SaveChunk writes one chunk and returns the session status afterwards.
// Indices outside [0, totalChunks) are acknowledged but neither stored
// nor counted. Re-submitting a present index overwrites it in place.
func (s *Store) SaveChunk(ctx context.Context, fileId string, index, totalChunks int, data []byte) (dto.UploadStatus, error) {
	sess, err := s.loadSession(fileId, totalChunks, true)
	if err != nil {
		return dto.UploadStatus{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if index < 0 || index >= sess.total {
		zerolog.Ctx(ctx).Warn().
			Str("file_id", fileId).
			Int("chunk_index", index).
			Int("total_chunks", sess.total).
			Msg("ignoring out-of-range chunk index")
		return sess.status(), nil
	}

	dir := s.chunkDir(fileId)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dto.UploadStatus{}, fmt.Errorf("%w: create dir for %s: %v", ErrChunkIO, fileId, err)
	}
	if err := os.WriteFile(filepath.Join(dir, strconv.Itoa(index)), data, 0o644); err != nil {
		return dto.UploadStatus{}, fmt.Errorf("%w: write chunk %d for %s: %v", ErrChunkIO, index, fileId, err)
	}

	sess.present[index] = struct{}{}
	sess.lastTouched = time.Now()

	st := sess.status()
	zerolog.Ctx(ctx).Debug().
		Str("file_id", fileId).
		Int("chunk_index", index).
		Int("uploaded", st.Uploaded).
		Int("total", st.Total).
		Msg("saved chunk")
	return st, nil
}

// Status reports the upload's progress. A fileId with no staging
// directory and no cache entry is simply an upload that has not started.
func (s *Store) Status(ctx context.Context, fileId string, totalChunks int) (dto.UploadStatus, error) {
	if st, ok := s.completed.Get(fileId); ok {
		return st, nil
	}

	sess, err := s.loadSession(fileId, totalChunks, false)
	if err != nil {
		return dto.UploadStatus{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.status(), nil
}

// TryBeginCombine flips the single-winner combine flag. Only the caller
// that observes true may call Combine for this fileId.
func (s *Store) TryBeginCombine(fileId string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[fileId]
	s.mu.Unlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.combineStarted {
		return false
	}
	sess.combineStarted = true
	return true
}

// AbortCombine releases the combine flag after a failed combine or blob
// write, so a client retry of the final chunk can trigger it again.
func (s *Store) AbortCombine(fileId string) {
	s.mu.Lock()
	sess, ok := s.sessions[fileId]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.combineStarted = false
	sess.mu.Unlock()
}

// Combine verifies every chunk exists, then concatenates them strictly
// in index order. The completed status is published to the grace cache
// before the reads begin so concurrent polls already see completion.
// The chunk files stay on disk until Discard: a failure downstream
// (writing the blob) must leave them available for a client retry.
func (s *Store) Combine(ctx context.Context, fileId string, totalChunks int) ([]byte, error) {
	sess, err := s.loadSession(fileId, totalChunks, true)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	dir := s.chunkDir(fileId)
	for i := 0; i < sess.total; i++ {
		if _, ok := sess.present[i]; !ok {
			return nil, &MissingChunkError{FileId: fileId, Index: i}
		}
	}

	st := dto.UploadStatus{Uploaded: sess.total, Total: sess.total, Complete: true}
	s.completed.Set(fileId, st, s.grace)
	s.completed.Pin(fileId, s.grace)

	var size int64
	for i := 0; i < sess.total; i++ {
		info, err := os.Stat(filepath.Join(dir, strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("%w: stat chunk %d for %s: %v", ErrChunkIO, i, fileId, err)
		}
		size += info.Size()
	}

	combined := make([]byte, 0, size)
	for i := 0; i < sess.total; i++ {
		b, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("%w: read chunk %d for %s: %v", ErrChunkIO, i, fileId, err)
		}
		combined = append(combined, b...)
	}

	zerolog.Ctx(ctx).Info().
		Str("file_id", fileId).
		Int("total_chunks", sess.total).
		Int("bytes", len(combined)).
		Msg("combined chunks")

	return combined, nil
}

// Discard drops the session and schedules background deletion of the
// chunk files once the combined result is durable elsewhere. Deletion
// failures are logged, never propagated; the caller already has the
// bytes.
func (s *Store) Discard(ctx context.Context, fileId string) {
	if !validFileId(fileId) {
		zerolog.Ctx(ctx).Warn().Str("file_id", fileId).Msg("refusing to discard invalid file id")
		return
	}

	s.mu.Lock()
	delete(s.sessions, fileId)
	s.mu.Unlock()

	go s.cleanup(ctx, fileId)
}

// ReapStale removes staging directories whose last write is older than
// maxAge, whatever their completion state. This is the safety net for
// uploads abandoned before combine.
func (s *Store) ReapStale(ctx context.Context, maxAge time.Duration) error {
	if n := s.completed.Sweep(); n > 0 {
		zerolog.Ctx(ctx).Debug().Int("entries", n).Msg("swept expired upload statuses")
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("%w: list staging dir: %v", ErrChunkIO, err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("file_id", entry.Name()).Msg("failed to stat staging dir")
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		fileId := entry.Name()
		zerolog.Ctx(ctx).Info().Str("file_id", fileId).Msg("reaping stale upload")
		if err := os.RemoveAll(filepath.Join(s.baseDir, fileId)); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("file_id", fileId).Msg("failed to remove stale upload")
			continue
		}
		s.mu.Lock()
		delete(s.sessions, fileId)
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) cleanup(ctx context.Context, fileId string) {
	if err := os.RemoveAll(s.chunkDir(fileId)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("file_id", fileId).Msg("failed to cleanup chunks")
		return
	}
	zerolog.Ctx(ctx).Debug().Str("file_id", fileId).Msg("cleaned up chunks")
}

func (s *Store) chunkDir(fileId string) string {
	return filepath.Join(s.baseDir, fileId)
}

// loadSession returns the cached session for fileId, rebuilding it from
// disk when the cache is cold. totalChunks is fixed by the first call
// that caches a session; later values are ignored. Sessions that hold
// no chunks are cached only when register is set, so status polls for
// ids that never uploaded anything do not grow the map.
func (s *Store) loadSession(fileId string, totalChunks int, register bool) (*session, error) {
	if !validFileId(fileId) {
		return nil, fmt.Errorf("%w: %q", ErrBadFileId, fileId)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[fileId]; ok {
		return sess, nil
	}

	sess := &session{
		total:       totalChunks,
		present:     make(map[int]struct{}),
		lastTouched: time.Now(),
	}

	entries, err := os.ReadDir(s.chunkDir(fileId))
	if err == nil {
		for _, entry := range entries {
			idx, convErr := strconv.Atoi(entry.Name())
			if convErr != nil || idx < 0 || idx >= totalChunks {
				continue
			}
			sess.present[idx] = struct{}{}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: scan dir for %s: %v", ErrChunkIO, fileId, err)
	}

	if register || len(sess.present) > 0 {
		s.sessions[fileId] = sess
	}
	return sess, nil
}

func (sess *session) status() dto.UploadStatus {
	st := dto.UploadStatus{
		Uploaded: len(sess.present),
		Total:    sess.total,
		Complete: len(sess.present) == sess.total,
	}
	if !st.Complete {
		for i := 0; i < sess.total; i++ {
			if _, ok := sess.present[i]; !ok {
				st.Missing = append(st.Missing, i)
			}
		}
	}
	return st
}
