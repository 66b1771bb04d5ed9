package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"quickcap-api/constant"
	"quickcap-api/dto"
	"quickcap-api/entities"
	"quickcap-api/pkg/storage"
	"quickcap-api/repository"
)

// ErrCategoryResolution means the categorization worker named an
// existing category the local store does not have. That is data
// divergence between the worker and this service, and it is surfaced
// loudly instead of silently defaulted.
var ErrCategoryResolution = errors.New("category resolution fault")

// Broker is the messaging capability the pipeline depends on.
type Broker interface {
	Send(ctx context.Context, pattern string, req any, reply any) error
	Emit(ctx context.Context, pattern string, event any) error
}

type Orchestrator interface {
	Process(ctx context.Context, userId, orgId, blobKey string) (*entities.Video, error)
	HandleNsfwResult(ctx context.Context, result dto.NsfwResultEvent) error
}

type orchestrator struct {
	broker     Broker
	videos     repository.VideoRepository
	categories repository.CategoryRepository
	blobs      storage.BlobStore
}

func NewOrchestrator(broker Broker, videos repository.VideoRepository, categories repository.CategoryRepository, blobs storage.BlobStore) Orchestrator {
	return &orchestrator{
		broker:     broker,
		videos:     videos,
		categories: categories,
		blobs:      blobs,
	}
}

// Process drives one stored blob through the remote pipeline:
// transcription, then title/description/category derivation, then
// persistence, then an async NSFW check. Stages run strictly in order
// because each consumes its predecessor's output; only the NSFW check
// is detached.
func (o *orchestrator) Process(ctx context.Context, userId, orgId, blobKey string) (*entities.Video, error) {
	url := o.blobs.URL(blobKey)
	zerolog.Ctx(ctx).Info().Str("source", blobKey).Str("org_id", orgId).Msg("processing video")

	var transcribed dto.TranscribeReply
	if err := o.broker.Send(ctx, constant.PatternTranscribe, dto.TranscribeRequest{URL: url}, &transcribed); err != nil {
		return nil, fmt.Errorf("transcribe stage: %w", err)
	}

	// A flagged or empty transcript gives the categorization stage
	// nothing to work with: persist a minimal record on the org's
	// default category and stop.
	if transcribed.IsNSFW || strings.TrimSpace(transcribed.Transcript) == "" {
		zerolog.Ctx(ctx).Info().
			Str("source", blobKey).
			Bool("flagged", transcribed.IsNSFW).
			Msg("persisting video without derived metadata")

		defaultCategory, err := o.categories.DefaultCategoryFor(ctx, orgId)
		if err != nil {
			return nil, fmt.Errorf("default category for org %s: %w", orgId, err)
		}

		video := &entities.Video{
			Title:       "Untitled Video",
			Description: "No Description",
			Source:      blobKey,
			UserId:      userId,
			OrgId:       orgId,
			IsNSFW:      transcribed.IsNSFW,
			NsfwType:    constant.NSFWLabelNeutral,
			CategoryIds: []string{defaultCategory.ID.String()},
		}
		if err := o.videos.CreateVideo(ctx, video); err != nil {
			return nil, fmt.Errorf("persist video: %w", err)
		}
		return video, nil
	}

	var derived dto.VideoDataReply
	if err := o.broker.Send(ctx, constant.PatternVideoData, dto.VideoDataRequest{Transcript: transcribed.Transcript}, &derived); err != nil {
		return nil, fmt.Errorf("video-data stage: %w", err)
	}

	category, err := o.resolveCategory(ctx, orgId, derived)
	if err != nil {
		return nil, err
	}

	video := &entities.Video{
		Title:       derived.Title,
		Description: derived.Description,
		Source:      blobKey,
		UserId:      userId,
		OrgId:       orgId,
		Transcript:  transcribed.Transcript,
		NsfwType:    constant.NSFWLabelNeutral,
		CategoryIds: []string{category.ID.String()},
	}
	if err := o.videos.CreateVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("persist video: %w", err)
	}

	// Best-effort enrichment. A lost check-nsfw event leaves the
	// advisory flag at its default; it never rolls back the record.
	if err := o.broker.Emit(ctx, constant.EventCheckNsfw, dto.CheckNsfwEvent{VideoURL: url, VideoId: video.ID}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("video_id", video.ID.String()).
			Msg("failed to emit nsfw check, flag will stay at default")
	}

	zerolog.Ctx(ctx).Info().Str("video_id", video.ID.String()).Msg("video processed")
	return video, nil
}

// resolveCategory creates the worker's category when it is new;
// otherwise it must already exist locally, and a miss is divergence.
func (o *orchestrator) resolveCategory(ctx context.Context, orgId string, derived dto.VideoDataReply) (*entities.Category, error) {
	if derived.IsNewCategory {
		category, err := o.categories.CreateCategory(ctx, orgId, derived.Category)
		if err != nil {
			return nil, fmt.Errorf("create category %q: %w", derived.Category, err)
		}
		zerolog.Ctx(ctx).Info().Str("category", derived.Category).Str("org_id", orgId).Msg("created category")
		return category, nil
	}

	category, err := o.categories.GetCategoryByName(ctx, orgId, derived.Category)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: worker referenced unknown category %q in org %s", ErrCategoryResolution, derived.Category, orgId)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve category %q: %w", derived.Category, err)
	}
	return category, nil
}

// HandleNsfwResult applies an async verdict to the persisted record by
// id. It is idempotent, and because no ordering is guaranteed between
// the callback and initial persistence, a missing record is retried
// briefly before giving up.
func (o *orchestrator) HandleNsfwResult(ctx context.Context, result dto.NsfwResultEvent) error {
	if err := result.Validate(); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("video_id", result.VideoId.String()).
		Bool("is_nsfw", result.IsNSFW).
		Str("dominant", result.DominantCategory.String()).
		Msg("applying nsfw result")

	operation := func() (struct{}, error) {
		err := o.videos.UpdateVideoNsfw(ctx, result.VideoId, result.IsNSFW, result.DominantCategory)
		if errors.Is(err, repository.ErrNotFound) {
			// The record may not be persisted yet; retry.
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("video_id", result.VideoId.String()).Msg("failed to apply nsfw result")
		return err
	}
	return nil
}
