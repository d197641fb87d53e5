package irrigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"planter-backend/internal/model"
	"planter-backend/internal/parse"
)

func moisture(m1, m2 int) parse.Values {
	var v parse.Values
	v[parse.SoilMoist1] = m1
	v[parse.SoilMoist2] = m2
	return v
}

func TestPolicy_Evaluate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	longAgo := now.Add(-13 * time.Hour)
	recent := now.Add(-2 * time.Hour)
	exactlyGate := now.Add(-12 * time.Hour)
	limits := model.IrrigationSettings{Limit1: 20, Limit2: 30}

	tests := []struct {
		name            string
		values          parse.Values
		last            *time.Time
		resetOnFireOnly bool
		want            Decision
	}{
		{
			name:   "dry soil arms pump 1",
			values: moisture(10, 50),
			last:   &longAgo,
			want:   Decision{Eligible: true, Arm1: true, ResetGate: true},
		},
		{
			name:   "wet soil arms nothing but resets the gate",
			values: moisture(30, 50),
			last:   &longAgo,
			want:   Decision{Eligible: true, ResetGate: true},
		},
		{
			name:   "moisture equal to the limit does not arm",
			values: moisture(20, 30),
			last:   &longAgo,
			want:   Decision{Eligible: true, ResetGate: true},
		},
		{
			name:   "both pumps armed independently",
			values: moisture(5, 5),
			last:   &longAgo,
			want:   Decision{Eligible: true, Arm1: true, Arm2: true, ResetGate: true},
		},
		{
			name:   "never evaluated is eligible",
			values: moisture(50, 10),
			last:   nil,
			want:   Decision{Eligible: true, Arm2: true, ResetGate: true},
		},
		{
			name:   "gate closed inside 12 hours",
			values: moisture(1, 1),
			last:   &recent,
			want:   Decision{},
		},
		{
			name:   "gate opens at exactly 12 hours",
			values: moisture(1, 50),
			last:   &exactlyGate,
			want:   Decision{Eligible: true, Arm1: true, ResetGate: true},
		},
		{
			name:            "reset on fire only keeps the gate when nothing armed",
			values:          moisture(30, 50),
			last:            &longAgo,
			resetOnFireOnly: true,
			want:            Decision{Eligible: true},
		},
		{
			name:            "reset on fire only resets when armed",
			values:          moisture(10, 50),
			last:            &longAgo,
			resetOnFireOnly: true,
			want:            Decision{Eligible: true, Arm1: true, ResetGate: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Gate: 12 * time.Hour, ResetOnFireOnly: tt.resetOnFireOnly}
			got := p.Evaluate(tt.values, limits, tt.last, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecision_ApplyAndPumps(t *testing.T) {
	s := model.IrrigationSettings{Trigger1: true}
	d := Decision{Eligible: true, Arm2: true}

	d.Apply(&s)

	assert.True(t, s.Trigger1, "an already armed flag stays armed")
	assert.True(t, s.Trigger2)
	assert.Equal(t, []int{2}, d.Pumps())
	assert.True(t, d.Armed())
	assert.False(t, Decision{}.Armed())
	assert.Empty(t, Decision{}.Pumps())
}
