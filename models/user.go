package models

import (
	"time"
)

// User is the owning identity of alerts. A single default user is seeded at setup.
type User struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Username  string  `gorm:"size:255;not null;unique"`
	Alerts    []Alert `gorm:"foreignKey:UserID"`
}
