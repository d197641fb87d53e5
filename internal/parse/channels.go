package parse

import (
	"strconv"
	"strings"

	"planter-backend/internal/apperr"
)

// Channel identifies one sensor measurement of a plot device.
// The set is closed; its order is the persisted column order.
type Channel int

const (
	SoilMoist1 Channel = iota
	SoilMoist2
	SoilTemp1
	SoilTemp2
	Cell1
	Cell2
	Cell3
	AirMoist1
	AirTemp1
	SolarBool
	AirMoist2
	AirTemp2
	Lux
	FlowRate

	NumChannels
)

var channelNames = [NumChannels]string{
	"soil_moist1", "soil_moist2", "soil_temp1", "soil_temp2",
	"cell1", "cell2", "cell3",
	"air_moist1", "air_temp1", "solar_bool",
	"air_moist2", "air_temp2", "lux", "flow_rate",
}

// Category groups channels for charting.
type Category string

const (
	CategoryTemperature Category = "temperature"
	CategoryPercentage  Category = "percentage"
	CategoryLight       Category = "cells"
	CategoryOther       Category = "other"
)

func (c Channel) String() string {
	if c < 0 || c >= NumChannels {
		return "channel(" + strconv.Itoa(int(c)) + ")"
	}
	return channelNames[c]
}

// Category returns the chart group of the channel.
func (c Channel) Category() Category {
	switch c {
	case SoilTemp1, SoilTemp2, AirTemp1, AirTemp2:
		return CategoryTemperature
	case SoilMoist1, SoilMoist2, AirMoist1, AirMoist2:
		return CategoryPercentage
	case Cell1, Cell2, Cell3:
		return CategoryLight
	default:
		return CategoryOther
	}
}

// Channels lists every channel in persisted order.
func Channels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// Lookup resolves a channel by its wire name.
func Lookup(name string) (Channel, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// Values holds one integer measurement per channel.
type Values [NumChannels]int

// Get returns the value of channel c.
func (v Values) Get(c Channel) int { return v[c] }

// Map returns the values keyed by wire name.
func (v Values) Map() map[string]int {
	out := make(map[string]int, NumChannels)
	for i, n := range channelNames {
		out[n] = v[i]
	}
	return out
}

// ParseValues reads every channel through get, typically a query or form lookup.
// A missing or non-integer channel is an InvalidInput error.
func ParseValues(get func(key string) (string, bool)) (Values, error) {
	var v Values
	for _, c := range Channels() {
		raw, ok := get(c.String())
		if !ok || strings.TrimSpace(raw) == "" {
			return Values{}, apperr.InvalidInput("missing channel %q", c.String())
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Values{}, apperr.InvalidInput("channel %q is not an integer: %q", c.String(), raw)
		}
		v[c] = n
	}
	return v, nil
}

// ValuesFromMap converts a decoded key-value payload.
// Unknown keys and missing channels are rejected.
func ValuesFromMap(m map[string]int) (Values, error) {
	var (
		v    Values
		seen [NumChannels]bool
	)
	for name, n := range m {
		c, ok := Lookup(name)
		if !ok {
			return Values{}, apperr.InvalidInput("unknown channel %q", name)
		}
		v[c] = n
		seen[c] = true
	}
	for _, c := range Channels() {
		if !seen[c] {
			return Values{}, apperr.InvalidInput("missing channel %q", c.String())
		}
	}
	return v, nil
}
