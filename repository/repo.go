package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"quickcap-api/constant"
	"quickcap-api/entities"
)

var ErrNotFound = errors.New("record not found")

type VideoRepository interface {
	CreateVideo(ctx context.Context, video *entities.Video) error
	GetVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error)
	// UpdateVideoNsfw applies the NSFW verdict as a targeted two-column
	// write so it never clobbers concurrent edits to other fields.
	UpdateVideoNsfw(ctx context.Context, id uuid.UUID, isNSFW bool, nsfwType constant.NSFWLabel) error
}

type CategoryRepository interface {
	GetCategoryByName(ctx context.Context, orgId, name string) (*entities.Category, error)
	CreateCategory(ctx context.Context, orgId, name string) (*entities.Category, error)
	// DefaultCategoryFor returns the org's default category, creating
	// it on first use.
	DefaultCategoryFor(ctx context.Context, orgId string) (*entities.Category, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (VideoRepository, CategoryRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, nil, err
	}
	r := &repo{db: gormDB}
	return r, r, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) CreateVideo(ctx context.Context, video *entities.Video) error {
	if video.ID == uuid.Nil {
		video.ID = uuid.New()
	}
	return r.GetDB().WithContext(ctx).Create(video).Error
}

func (r *repo) GetVideoById(ctx context.Context, id uuid.UUID) (*entities.Video, error) {
	video := &entities.Video{}
	err := r.GetDB().WithContext(ctx).First(video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return video, nil
}

func (r *repo) UpdateVideoNsfw(ctx context.Context, id uuid.UUID, isNSFW bool, nsfwType constant.NSFWLabel) error {
	res := r.GetDB().WithContext(ctx).Model(&entities.Video{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_nsfw":   isNSFW,
		"nsfw_type": nsfwType,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *repo) GetCategoryByName(ctx context.Context, orgId, name string) (*entities.Category, error) {
	category := &entities.Category{}
	err := r.GetDB().WithContext(ctx).First(category, "org_id = ? AND name = ?", orgId, name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("category %q in org %s: %w", name, orgId, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (r *repo) CreateCategory(ctx context.Context, orgId, name string) (*entities.Category, error) {
	category := &entities.Category{
		ID:    uuid.New(),
		Name:  name,
		OrgId: orgId,
	}
	if err := r.GetDB().WithContext(ctx).Create(category).Error; err != nil {
		return nil, err
	}
	return category, nil
}

func (r *repo) DefaultCategoryFor(ctx context.Context, orgId string) (*entities.Category, error) {
	category := &entities.Category{}
	err := r.GetDB().WithContext(ctx).First(category, "org_id = ? AND is_default = true", orgId).Error
	if err == nil {
		return category, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	category = &entities.Category{
		ID:        uuid.New(),
		Name:      constant.DefaultCategoryName,
		OrgId:     orgId,
		IsDefault: true,
	}
	if err := r.GetDB().WithContext(ctx).Create(category).Error; err != nil {
		return nil, err
	}
	return category, nil
}
