package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Asset is the ownership record for a card; selling one reassigns OwnerID.
type Asset struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID    uuid.UUID             `gorm:"column:owner_id;type:uuid;not null"`
	SourceType enums.AssetSourceType `gorm:"column:source_type;type:text;not null"`
	SourceID   *uuid.UUID            `gorm:"column:source_id;type:uuid"`
	Name       string                `gorm:"column:name;not null"`
	ImageURL   *string               `gorm:"column:image_url"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Asset) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// UploadedImage is the legacy upload record that older listings point at.
type UploadedImage struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	GCSKey    string             `gorm:"column:gcs_key;not null"`
	MimeType  string             `gorm:"column:mime_type;not null"`
	FileName  string             `gorm:"column:file_name;not null"`
	Status    enums.UploadStatus `gorm:"column:status;type:text;not null"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (u *UploadedImage) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
