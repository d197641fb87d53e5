package model

import "time"

// IrrigationSettings holds the device-configurable parameters of a plot ("ESP settings").
// Exactly one row exists per plot, created together with the plot.
type IrrigationSettings struct {
	PlotID int64 `gorm:"primaryKey;autoIncrement:false" json:"plot_id"`
	// Trigger1 and Trigger2 ask the device to run pump 1 / pump 2 once.
	Trigger1 bool `gorm:"not null;default:false" json:"trigger_1"`
	Trigger2 bool `gorm:"not null;default:false" json:"trigger_2"`
	Dose1    int  `gorm:"not null;default:0" json:"dose_1"`
	Dose2    int  `gorm:"not null;default:0" json:"dose_2"`
	// UpdateInterval is the device polling interval in seconds.
	UpdateInterval int       `gorm:"not null;default:600" json:"update_interval"`
	Limit1         int       `gorm:"not null;default:0" json:"limit_1"`
	Limit2         int       `gorm:"not null;default:0" json:"limit_2"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName keeps the table name singular-per-plot.
func (IrrigationSettings) TableName() string {
	return "irrigation_settings"
}
