package models

import "time"

// ProcessingRecord is one attempt at enhancing one source file.
// It corresponds to the 'processing_records' table and is append-only.
type ProcessingRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp      time.Time `gorm:"not null;index" json:"timestamp"`
	InputPath      string    `gorm:"not null;index" json:"input_path"`
	OutputPath     *string   `gorm:"" json:"output_path,omitempty"`   // Nullable, empty on failure
	OriginalSize   *int64    `gorm:"" json:"original_size,omitempty"` // Nullable, bytes
	EnhancedSize   *int64    `gorm:"" json:"enhanced_size,omitempty"` // Nullable, bytes
	ProcessingTime float64   `gorm:"not null;default:0" json:"processing_time"`
	Status         string    `gorm:"not null;index" json:"status"`
	ErrorMessage   *string   `gorm:"" json:"error_message,omitempty"`
	Profile        string    `gorm:"" json:"profile"`
	Adjustments    *string   `gorm:"type:text" json:"adjustments,omitempty"` // JSON encoded adjustment report

	MovedToProcessed    bool    `gorm:"not null;default:false" json:"moved_to_processed"`
	ProcessedFolderPath *string `gorm:"" json:"processed_folder_path,omitempty"` // where the original was relocated
}

func (ProcessingRecord) TableName() string {
	return "processing_records"
}
