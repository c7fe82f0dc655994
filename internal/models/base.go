package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides the numeric primary key and creation timestamp shared by all tables.
type BaseModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// BeforeCreate stamps new records in UTC so expiry comparisons are zone independent.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return nil
}
