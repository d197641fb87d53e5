package model

import (
	"time"

	"planter-backend/internal/parse"
)

// SensorReading is one timestamped snapshot of every channel of a plot.
// The row with the latest Timestamp is the plot's current reading; older rows are history.
type SensorReading struct {
	ID     int64 `gorm:"primaryKey" json:"id"`
	PlotID int64 `gorm:"not null;index:idx_sensor_readings_plot_ts,priority:1" json:"plot_id"`
	// Timestamp is the creation time of the row and is what aggregation buckets on.
	Timestamp time.Time `gorm:"not null;index:idx_sensor_readings_plot_ts,priority:2,sort:desc" json:"timestamp"`
	// LatestUpdate advances on every merged push.
	LatestUpdate time.Time `gorm:"not null" json:"latest_update"`

	SoilMoist1 int `gorm:"column:soil_moist1" json:"soil_moist1"`
	SoilMoist2 int `gorm:"column:soil_moist2" json:"soil_moist2"`
	SoilTemp1  int `gorm:"column:soil_temp1" json:"soil_temp1"`
	SoilTemp2  int `gorm:"column:soil_temp2" json:"soil_temp2"`
	Cell1      int `gorm:"column:cell1" json:"cell1"`
	Cell2      int `gorm:"column:cell2" json:"cell2"`
	Cell3      int `gorm:"column:cell3" json:"cell3"`
	AirMoist1  int `gorm:"column:air_moist1" json:"air_moist1"`
	AirTemp1   int `gorm:"column:air_temp1" json:"air_temp1"`
	SolarBool  int `gorm:"column:solar_bool" json:"solar_bool"`
	AirMoist2  int `gorm:"column:air_moist2" json:"air_moist2"`
	AirTemp2   int `gorm:"column:air_temp2" json:"air_temp2"`
	Lux        int `gorm:"column:lux" json:"lux"`
	FlowRate   int `gorm:"column:flow_rate" json:"flow_rate"`
}

// Values returns the channel values in persisted order.
func (r *SensorReading) Values() parse.Values {
	return parse.Values{
		r.SoilMoist1, r.SoilMoist2, r.SoilTemp1, r.SoilTemp2,
		r.Cell1, r.Cell2, r.Cell3,
		r.AirMoist1, r.AirTemp1, r.SolarBool,
		r.AirMoist2, r.AirTemp2, r.Lux, r.FlowRate,
	}
}

// SetValues overwrites every channel column.
func (r *SensorReading) SetValues(v parse.Values) {
	r.SoilMoist1 = v[parse.SoilMoist1]
	r.SoilMoist2 = v[parse.SoilMoist2]
	r.SoilTemp1 = v[parse.SoilTemp1]
	r.SoilTemp2 = v[parse.SoilTemp2]
	r.Cell1 = v[parse.Cell1]
	r.Cell2 = v[parse.Cell2]
	r.Cell3 = v[parse.Cell3]
	r.AirMoist1 = v[parse.AirMoist1]
	r.AirTemp1 = v[parse.AirTemp1]
	r.SolarBool = v[parse.SolarBool]
	r.AirMoist2 = v[parse.AirMoist2]
	r.AirTemp2 = v[parse.AirTemp2]
	r.Lux = v[parse.Lux]
	r.FlowRate = v[parse.FlowRate]
}
