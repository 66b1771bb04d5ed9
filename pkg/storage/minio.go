package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type MinioStore struct {
	client   *minio.Client
	bucket   string
	protocol string
	host     string
}

func NewMinioStore(client *minio.Client, bucket, protocol, host string) *MinioStore {
	return &MinioStore{
		client:   client,
		bucket:   bucket,
		protocol: protocol,
		host:     host,
	}
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to put object")
		return err
	}
	zerolog.Ctx(ctx).Info().Str("key", key).Int("bytes", len(data)).Msg("stored object")
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to delete object")
		return err
	}
	return nil
}

func (s *MinioStore) URL(key string) string {
	return fmt.Sprintf("%s://%s/%s/%s", s.protocol, s.host, s.bucket, key)
}
