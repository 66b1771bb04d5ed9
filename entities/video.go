package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"quickcap-api/constant"
)

type Video struct {
	ID          uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title       string             `json:"title" gorm:"type:varchar(255);not null;default:'Untitled Video'"`
	Description string             `json:"description" gorm:"type:text;not null;default:'No Description'"`
	Source      string             `json:"source" gorm:"type:varchar(500);not null"`
	UserId      string             `json:"user_id" gorm:"type:varchar(64);not null;index:idx_videos_user_id"`
	OrgId       string             `json:"org_id" gorm:"type:varchar(64);not null;index:idx_videos_org_id"`
	Transcript  string             `json:"transcript" gorm:"type:text;not null;default:''"`
	CategoryIds pq.StringArray     `json:"category_ids" gorm:"type:text[]"`
	IsNSFW      bool               `json:"is_nsfw" gorm:"not null;default:false"`
	NsfwType    constant.NSFWLabel `json:"nsfw_type" gorm:"type:varchar(20);not null;default:'Neutral'"`
	CreatedAt   time.Time          `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time          `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Video) TableName() string {
	return "videos"
}
