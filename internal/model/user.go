package model

import "time"

// User is a dashboard account.
type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"uniqueIndex;size:45;not null" json:"uuid"`
	Name         string    `gorm:"uniqueIndex;size:45;not null" json:"name"`
	PasswordHash string    `gorm:"size:1000;not null" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`

	// Associations
	Plots []Plot `gorm:"foreignKey:UserID" json:"-"`
}
