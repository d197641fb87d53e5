package irrigation

import (
	"time"

	"planter-backend/internal/model"
	"planter-backend/internal/parse"
)

// Policy decides whether fresh telemetry arms the plot's pumps.
type Policy struct {
	// Gate is the minimum time between two evaluations that may arm a pump.
	Gate time.Duration
	// ResetOnFireOnly restarts the gate only when a pump was armed.
	ResetOnFireOnly bool
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Eligible  bool
	Arm1      bool
	Arm2      bool
	ResetGate bool
}

// Armed reports whether any pump was armed.
func (d Decision) Armed() bool {
	return d.Arm1 || d.Arm2
}

// Pumps returns the numbers of the armed pumps in ascending order.
func (d Decision) Pumps() []int {
	var pumps []int
	if d.Arm1 {
		pumps = append(pumps, 1)
	}
	if d.Arm2 {
		pumps = append(pumps, 2)
	}
	return pumps
}

// Apply sets the armed trigger flags on s. Flags already set stay set.
func (d Decision) Apply(s *model.IrrigationSettings) {
	if d.Arm1 {
		s.Trigger1 = true
	}
	if d.Arm2 {
		s.Trigger2 = true
	}
}

// Evaluate compares soil moisture against the plot limits. A plot that has
// never been evaluated is always eligible. Moisture equal to the limit does
// not arm.
func (p Policy) Evaluate(values parse.Values, s model.IrrigationSettings, lastIrrigation *time.Time, now time.Time) Decision {
	var d Decision
	d.Eligible = lastIrrigation == nil || now.Sub(*lastIrrigation) >= p.Gate
	if !d.Eligible {
		return d
	}

	d.Arm1 = values.Get(parse.SoilMoist1) < s.Limit1
	d.Arm2 = values.Get(parse.SoilMoist2) < s.Limit2
	d.ResetGate = !p.ResetOnFireOnly || d.Armed()
	return d
}
