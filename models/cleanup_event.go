package models

import "time"

// CleanupEvent records one destructive cleanup run over relocated originals.
type CleanupEvent struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CleanupDate  time.Time `gorm:"not null;index" json:"cleanup_date"`
	FilesDeleted int       `gorm:"not null" json:"files_deleted"`
	SpaceFreed   int64     `gorm:"not null" json:"space_freed"`  // bytes
	Directories  string    `gorm:"type:text" json:"directories"` // JSON array of cleaned directories
	ManifestPath *string   `gorm:"" json:"manifest_path,omitempty"`
}

func (CleanupEvent) TableName() string {
	return "cleanup_history"
}
