package models

import "time"

// Alert is a submitted report. Lookups and mutations are always scoped by (UserID, ID).
type Alert struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Sender      string     `gorm:"size:255;not null" json:"sender"`
	Age         int        `gorm:"not null" json:"age"`
	Description *string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `gorm:"index" json:"deletedAt"`
	UserID      uint       `gorm:"index;not null" json:"userId"`
	User        *User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE;" json:"-"`
	// Files has no ON DELETE cascade; file rows are removed explicitly before the alert row.
	Files []File `gorm:"foreignKey:AlertID;constraint:OnUpdate:CASCADE;" json:"files"`
}
