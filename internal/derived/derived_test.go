package derived

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/powermeter/internal/types"
)

func TestProject(t *testing.T) {
	tests := []struct {
		name      string
		reading   *types.SensorReading
		settings  *types.UserSettings
		energy    string
		bill      string
		avgPF     string
		avgVolt   string
		totalPow  string
		totalCurr string
	}{
		{
			name: "default rate",
			reading: &types.SensorReading{
				Energy1: 10, Energy2: 20, Energy3: 5,
				Voltage1: 230, Voltage2: 231, Voltage3: 229,
				Power1: 100, Power2: 200, Power3: 300,
				Current1: 0.5, Current2: 1, Current3: 1.5,
				PowerFactor1: 0.9, PowerFactor2: 0.95, PowerFactor3: 1,
			},
			energy:    "35.00",
			bill:      "437.50",
			avgPF:     "0.950",
			avgVolt:   "230.00",
			totalPow:  "600.00",
			totalCurr: "3.00",
		},
		{
			name:      "saved rate",
			reading:   &types.SensorReading{Energy1: 1, Energy2: 1, Energy3: 2},
			settings:  &types.UserSettings{CostRate: 10},
			energy:    "4.00",
			bill:      "40.00",
			avgPF:     "0.000",
			avgVolt:   "0.00",
			totalPow:  "0.00",
			totalCurr: "0.00",
		},
		{
			name:      "no reading renders placeholders",
			reading:   nil,
			settings:  &types.UserSettings{CostRate: 10},
			energy:    Placeholder,
			bill:      Placeholder,
			avgPF:     Placeholder,
			avgVolt:   Placeholder,
			totalPow:  Placeholder,
			totalCurr: Placeholder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Project(tt.reading, tt.settings).Render()

			assert.Equal(t, tt.energy, d.TotalEnergy, "TotalEnergy")
			assert.Equal(t, tt.bill, d.EstimatedBill, "EstimatedBill")
			assert.Equal(t, tt.avgPF, d.AveragePowerFactor, "AveragePowerFactor")
			assert.Equal(t, tt.avgVolt, d.AverageVoltage, "AverageVoltage")
			assert.Equal(t, tt.totalPow, d.TotalPower, "TotalPower")
			assert.Equal(t, tt.totalCurr, d.TotalCurrent, "TotalCurrent")
		})
	}
}

func TestBillIsTotalEnergyTimesRate(t *testing.T) {
	r := &types.SensorReading{Energy1: 1.234, Energy2: 5.678, Energy3: 9.1011}
	for _, rate := range []float64{0, 1, 12.5, 17.3} {
		m := Project(r, &types.UserSettings{CostRate: rate})
		want := (1.234 + 5.678 + 9.1011) * rate
		assert.InDelta(t, want, m.EstimatedBill.Value, 1e-9, "rate %v", rate)
	}
}

func TestAveragesStayInRange(t *testing.T) {
	r := &types.SensorReading{
		Voltage1: 220, Voltage2: 240, Voltage3: 235,
		PowerFactor1: 0.7, PowerFactor2: 1, PowerFactor3: 0.85,
	}
	m := Project(r, nil)
	assert.GreaterOrEqual(t, m.AverageVoltage.Value, 220.0)
	assert.LessOrEqual(t, m.AverageVoltage.Value, 240.0)
	assert.GreaterOrEqual(t, m.AveragePowerFactor.Value, 0.7)
	assert.LessOrEqual(t, m.AveragePowerFactor.Value, 1.0)
}

func TestNoReadingNeverYieldsZero(t *testing.T) {
	m := Project(nil, nil)
	for name, q := range map[string]Quantity{
		"energy": m.TotalEnergy,
		"bill":   m.EstimatedBill,
		"pf":     m.AveragePowerFactor,
	} {
		assert.False(t, q.Valid, "%s should be absent without a reading", name)
	}
	assert.Equal(t, DefaultCostRate, m.CostRate)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Contains(t, decoded, "estimated_bill")
	assert.Nil(t, decoded["estimated_bill"])
}

func TestCircuitDisplay(t *testing.T) {
	r := &types.SensorReading{Voltage2: 231.456, PowerFactor2: 0.98765}
	d := Project(r, nil).Render()
	assert.Equal(t, "231.46", d.Circuits[1].Voltage)
	assert.Equal(t, "0.988", d.Circuits[1].PowerFactor)
}
