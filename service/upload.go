package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"quickcap-api/dto"
	"quickcap-api/entities"
	"quickcap-api/pkg/cache"
	"quickcap-api/pkg/storage"
)

// ErrProcessingFailed marks a late-pipeline failure after the combined
// blob was durably stored: the blob exists but no video record does.
// It is never retried automatically, because blind resubmission would
// double-call the paid remote workers; reconciliation is manual.
var ErrProcessingFailed = errors.New("processing failed after upload")

// ErrResultNotFound means no processed video is cached for the fileId.
var ErrResultNotFound = errors.New("no processed result for upload")

// ChunkStore is the staging capability behind the coordinator.
type ChunkStore interface {
	SaveChunk(ctx context.Context, fileId string, index, totalChunks int, data []byte) (dto.UploadStatus, error)
	Status(ctx context.Context, fileId string, totalChunks int) (dto.UploadStatus, error)
	Combine(ctx context.Context, fileId string, totalChunks int) ([]byte, error)
	TryBeginCombine(fileId string) bool
	AbortCombine(fileId string)
	Discard(ctx context.Context, fileId string)
}

type UploadCoordinator interface {
	OnChunkReceived(ctx context.Context, userId, orgId, fileId, originalFilename string, index, totalChunks int, data []byte) (dto.UploadStatus, error)
	Status(ctx context.Context, fileId string, totalChunks int) (dto.UploadStatus, error)
	LatestResultFor(fileId string) (*entities.Video, error)
	SweepResults() int
}

type uploadCoordinator struct {
	chunks       ChunkStore
	blobs        storage.BlobStore
	orchestrator Orchestrator
	results      *cache.Cache[*entities.Video]
	grace        time.Duration
}

func NewUploadCoordinator(chunks ChunkStore, blobs storage.BlobStore, orchestrator Orchestrator, grace time.Duration) UploadCoordinator {
	return &uploadCoordinator{
		chunks:       chunks,
		blobs:        blobs,
		orchestrator: orchestrator,
		results:      cache.New[*entities.Video](),
		grace:        grace,
	}
}

// OnChunkReceived stores one chunk and, when it completes the upload,
// combines, uploads the blob and runs the processing pipeline. Only the
// request that wins the combine flag pays that cost; every other
// request returns its status immediately.
func (u *uploadCoordinator) OnChunkReceived(ctx context.Context, userId, orgId, fileId, originalFilename string, index, totalChunks int, data []byte) (dto.UploadStatus, error) {
	st, err := u.chunks.SaveChunk(ctx, fileId, index, totalChunks, data)
	if err != nil {
		return st, err
	}
	if !st.Complete {
		return st, nil
	}

	// Two requests can race on the final chunk; single winner.
	if !u.chunks.TryBeginCombine(fileId) {
		return st, nil
	}

	combined, err := u.chunks.Combine(ctx, fileId, totalChunks)
	if err != nil {
		u.chunks.AbortCombine(fileId)
		return st, fmt.Errorf("combine %s: %w", fileId, err)
	}

	blobKey := fmt.Sprintf("%s-%s", uuid.NewString(), originalFilename)
	if err := u.blobs.Put(ctx, blobKey, combined, "video/mp4"); err != nil {
		// Chunks stay on disk so a retry of the final chunk can
		// trigger combine again.
		u.chunks.AbortCombine(fileId)
		return st, fmt.Errorf("store blob for %s: %w", fileId, err)
	}

	u.chunks.Discard(ctx, fileId)

	video, err := u.orchestrator.Process(ctx, userId, orgId, blobKey)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("file_id", fileId).
			Str("blob_key", blobKey).
			Msg("pipeline failed after blob stored, needs reconciliation")
		return st, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	u.results.Set(fileId, video, u.grace)
	return st, nil
}

func (u *uploadCoordinator) Status(ctx context.Context, fileId string, totalChunks int) (dto.UploadStatus, error) {
	return u.chunks.Status(ctx, fileId, totalChunks)
}

// LatestResultFor returns the video persisted for a finished chunked
// upload, for the window the result cache keeps it.
func (u *uploadCoordinator) LatestResultFor(fileId string) (*entities.Video, error) {
	video, ok := u.results.Get(fileId)
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", fileId, ErrResultNotFound)
	}
	return video, nil
}

// SweepResults evicts results past their grace window that no client
// collected. Called periodically so uncollected entries do not pile up.
func (u *uploadCoordinator) SweepResults() int {
	return u.results.Sweep()
}
