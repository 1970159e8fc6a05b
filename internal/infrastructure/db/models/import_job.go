package models

import "time"

type ImportJob struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	GroupID        string  `gorm:"type:text;not null;index"`
	SourcePath     string  `gorm:"type:text;not null;default:''"`
	Status         string  `gorm:"type:text;not null;index"`
	BatchSize      int     `gorm:"not null;default:0"`
	TotalRows      *int64
	ProcessedRows  int64   `gorm:"not null;default:0"`
	FailedRows     int64   `gorm:"not null;default:0"`
	SkippedRows    int64   `gorm:"not null;default:0"`
	ErrorMessage   *string `gorm:"type:text"`
	HeartbeatAt    *time.Time
	LeaseExpiresAt *time.Time `gorm:"index"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (ImportJob) TableName() string {
	return "import_jobs"
}
