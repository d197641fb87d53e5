package model

import "time"

// Plot represents one monitored device / garden bed.
type Plot struct {
	ID     int64  `gorm:"primaryKey" json:"id"`
	UserID int64  `gorm:"index;not null" json:"user_id"`
	Name   string `gorm:"size:45;not null" json:"name"`
	// APIKey authenticates device calls in place of a user session. It never changes.
	APIKey string `gorm:"uniqueIndex;size:64;not null" json:"-"`
	// LastIrrigationAt is when the irrigation policy last evaluated this plot; nil means never.
	LastIrrigationAt *time.Time `json:"last_irrigation_at"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`

	// Associations
	User     User                `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Settings *IrrigationSettings `gorm:"foreignKey:PlotID" json:"-"`
}
