package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterEnergyIsCumulative(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newMeter(start)

	var prev [3]float64
	for n := 1; n <= 5; n++ {
		p := m.next(start.Add(time.Duration(n) * time.Hour))
		require.NoError(t, p.Validate(), "generated payload is incomplete")

		energy := [3]float64{*p.Energy1, *p.Energy2, *p.Energy3}
		for i := range energy {
			assert.GreaterOrEqual(t, energy[i], prev[i], "circuit %d energy went down", i+1)
		}
		prev = energy
	}
	assert.NotZero(t, prev[1], "expected circuit 2 to accumulate energy over five hours")
}

func TestRound(t *testing.T) {
	tests := []struct {
		in       float64
		places   int
		expected float64
	}{
		{230.04, 1, 230.0},
		{0.98765, 2, 0.99},
		{1.23456, 3, 1.235},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, round(tt.in, tt.places), "round(%v, %d)", tt.in, tt.places)
	}
}
