package entities

import (
	"time"

	"github.com/google/uuid"
)

type Category struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:unique_org_category_name"`
	OrgId     string    `json:"org_id" gorm:"type:varchar(64);not null;uniqueIndex:unique_org_category_name"`
	IsDefault bool      `json:"is_default" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Category) TableName() string {
	return "categories"
}
