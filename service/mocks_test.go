package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"quickcap-api/constant"
	"quickcap-api/dto"
	"quickcap-api/entities"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Send(ctx context.Context, pattern string, req any, reply any) error {
	args := m.Called(ctx, pattern, req, reply)
	return args.Error(0)
}

func (m *MockBroker) Emit(ctx context.Context, pattern string, event any) error {
	args := m.Called(ctx, pattern, event)
	return args.Error(0)
}

type MockVideoRepository struct {
	mock.Mock
}

func (m *MockVideoRepository) CreateVideo(ctx context.Context, video *entities.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *MockVideoRepository) GetVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*entities.Video), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVideoRepository) UpdateVideoNsfw(ctx context.Context, id uuid.UUID, isNSFW bool, nsfwType constant.NSFWLabel) error {
	args := m.Called(ctx, id, isNSFW, nsfwType)
	return args.Error(0)
}

type MockCategoryRepository struct {
	mock.Mock
}

func (m *MockCategoryRepository) GetCategoryByName(ctx context.Context, orgId, name string) (*entities.Category, error) {
	args := m.Called(ctx, orgId, name)
	if v := args.Get(0); v != nil {
		return v.(*entities.Category), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCategoryRepository) CreateCategory(ctx context.Context, orgId, name string) (*entities.Category, error) {
	args := m.Called(ctx, orgId, name)
	if v := args.Get(0); v != nil {
		return v.(*entities.Category), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCategoryRepository) DefaultCategoryFor(ctx context.Context, orgId string) (*entities.Category, error) {
	args := m.Called(ctx, orgId)
	if v := args.Get(0); v != nil {
		return v.(*entities.Category), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockBlobStore) URL(key string) string {
	args := m.Called(key)
	return args.String(0)
}

type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) SaveChunk(ctx context.Context, fileId string, index, totalChunks int, data []byte) (dto.UploadStatus, error) {
	args := m.Called(ctx, fileId, index, totalChunks, data)
	return args.Get(0).(dto.UploadStatus), args.Error(1)
}

func (m *MockChunkStore) Status(ctx context.Context, fileId string, totalChunks int) (dto.UploadStatus, error) {
	args := m.Called(ctx, fileId, totalChunks)
	return args.Get(0).(dto.UploadStatus), args.Error(1)
}

func (m *MockChunkStore) Combine(ctx context.Context, fileId string, totalChunks int) ([]byte, error) {
	args := m.Called(ctx, fileId, totalChunks)
	if v := args.Get(0); v != nil {
		return v.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChunkStore) TryBeginCombine(fileId string) bool {
	args := m.Called(fileId)
	return args.Bool(0)
}

func (m *MockChunkStore) AbortCombine(fileId string) {
	m.Called(fileId)
}

func (m *MockChunkStore) Discard(ctx context.Context, fileId string) {
	m.Called(ctx, fileId)
}

type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) Process(ctx context.Context, userId, orgId, blobKey string) (*entities.Video, error) {
	args := m.Called(ctx, userId, orgId, blobKey)
	if v := args.Get(0); v != nil {
		return v.(*entities.Video), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrchestrator) HandleNsfwResult(ctx context.Context, result dto.NsfwResultEvent) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}
