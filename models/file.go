package models

import (
	"time"
)

// File is the metadata row of an attachment. Path points under the upload directory.
type File struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Path         string    `gorm:"size:512;not null;uniqueIndex" json:"path"`
	OriginalName string    `gorm:"size:255;not null" json:"originalName"`
	Size         int64     `gorm:"not null" json:"size"`
	MimeType     string    `gorm:"size:128;not null" json:"mimeType"`
	AlertID      uint      `gorm:"index;not null" json:"alertId"` // FK to alerts.id
}
