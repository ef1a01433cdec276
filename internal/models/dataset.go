package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TestDataset is an annotated dataset models are benchmarked against.
type TestDataset struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CategoryName string    `gorm:"type:varchar(100);not null;index" json:"category_name" validate:"required,max=100"`
	Name         string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name" validate:"required,max=100"`
	Description  string    `gorm:"type:varchar(250)" json:"description" validate:"max=250"`
	FilePath     string    `gorm:"type:varchar(200);not null" json:"file_path"`
	SHA256       string    `gorm:"type:char(64)" json:"sha256"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (d *TestDataset) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
