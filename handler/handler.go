package handler

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"quickcap-api/constant"
	"quickcap-api/dto"
	"quickcap-api/service"
)

type ServiceDependencies struct {
	Orchestrator service.Orchestrator
}

// eventEnvelope is the worker fleet's event format: a routing name plus
// an opaque payload.
type eventEnvelope struct {
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

func NsfwResultHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal event envelope")
		return err
	}
	if envelope.Pattern != constant.EventNsfwResult {
		return fmt.Errorf("unexpected event pattern %q", envelope.Pattern)
	}

	var result dto.NsfwResultEvent
	if err := json.Unmarshal(envelope.Data, &result); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal nsfw result")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("video_id", result.VideoId.String()).
		Bool("is_nsfw", result.IsNSFW).
		Msg("received nsfw result")

	if err := deps.Orchestrator.HandleNsfwResult(ctx, result); err != nil {
		return err
	}

	return nil
}
