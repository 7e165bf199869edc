// Package derived computes the view-only quantities shown on the dashboard
// from a single reading and the user's settings.
package derived

import (
	"encoding/json"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrissnell/powermeter/internal/types"
)

// DefaultCostRate is the currency-per-kWh rate used when the user has not saved one
const DefaultCostRate = 12.50

// Placeholder is rendered for any quantity that cannot be computed
const Placeholder = "--"

// Display precisions
const (
	ValuePrecision       = 2
	PowerFactorPrecision = 3
)

// Quantity is an optional number. The zero value is absent.
type Quantity struct {
	Value float64
	Valid bool
}

// Some wraps a present value
func Some(v float64) Quantity {
	return Quantity{Value: v, Valid: true}
}

// Format renders the value with prec decimals, or the placeholder when absent
func (q Quantity) Format(prec int) string {
	if !q.Valid {
		return Placeholder
	}
	return strconv.FormatFloat(q.Value, 'f', prec, 64)
}

func (q Quantity) String() string {
	return q.Format(ValuePrecision)
}

// MarshalJSON encodes an absent quantity as null
func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(q.Value)
}

// UnmarshalJSON treats null as absent
func (q *Quantity) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*q = Quantity{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*q = Some(v)
	return nil
}

// EncodeMsgpack mirrors MarshalJSON for MessagePack responses
func (q Quantity) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !q.Valid {
		return enc.EncodeNil()
	}
	return enc.EncodeFloat64(q.Value)
}

// Circuit holds one circuit's measurements as quantities
type Circuit struct {
	Voltage     Quantity `json:"voltage"`
	Current     Quantity `json:"current"`
	Power       Quantity `json:"power"`
	Energy      Quantity `json:"energy"`
	PowerFactor Quantity `json:"power_factor"`
}

// Metrics are the derived dashboard values for one reading
type Metrics struct {
	TotalEnergy        Quantity                    `json:"total_energy"`
	TotalPower         Quantity                    `json:"total_power"`
	TotalCurrent       Quantity                    `json:"total_current"`
	AverageVoltage     Quantity                    `json:"average_voltage"`
	AveragePowerFactor Quantity                    `json:"average_power_factor"`
	EstimatedBill      Quantity                    `json:"estimated_bill"`
	CostRate           float64                     `json:"cost_rate"`
	Circuits           [types.CircuitCount]Circuit `json:"circuits"`
}

// EffectiveCostRate is the saved rate, or DefaultCostRate without settings
func EffectiveCostRate(settings *types.UserSettings) float64 {
	if settings == nil {
		return DefaultCostRate
	}
	return settings.CostRate
}

// Project derives the dashboard metrics. A nil reading leaves every quantity
// absent; it never yields zeros.
func Project(reading *types.SensorReading, settings *types.UserSettings) Metrics {
	m := Metrics{CostRate: EffectiveCostRate(settings)}
	if reading == nil {
		return m
	}

	var energy, power, current, voltage, pf float64
	for i, c := range reading.Circuits() {
		energy += c.Energy
		power += c.Power
		current += c.Current
		voltage += c.Voltage
		pf += c.PowerFactor

		m.Circuits[i] = Circuit{
			Voltage:     Some(c.Voltage),
			Current:     Some(c.Current),
			Power:       Some(c.Power),
			Energy:      Some(c.Energy),
			PowerFactor: Some(c.PowerFactor),
		}
	}

	n := float64(types.CircuitCount)
	m.TotalEnergy = Some(energy)
	m.TotalPower = Some(power)
	m.TotalCurrent = Some(current)
	m.AverageVoltage = Some(voltage / n)
	m.AveragePowerFactor = Some(pf / n)
	m.EstimatedBill = Some(energy * m.CostRate)
	return m
}

// CircuitDisplay is a circuit rendered for display
type CircuitDisplay struct {
	Voltage     string `json:"voltage"`
	Current     string `json:"current"`
	Power       string `json:"power"`
	Energy      string `json:"energy"`
	PowerFactor string `json:"power_factor"`
}

// Display is Metrics rendered as strings with the placeholder rule applied
type Display struct {
	TotalEnergy        string                             `json:"total_energy"`
	TotalPower         string                             `json:"total_power"`
	TotalCurrent       string                             `json:"total_current"`
	AverageVoltage     string                             `json:"average_voltage"`
	AveragePowerFactor string                             `json:"average_power_factor"`
	EstimatedBill      string                             `json:"estimated_bill"`
	CostRate           string                             `json:"cost_rate"`
	Circuits           [types.CircuitCount]CircuitDisplay `json:"circuits"`
}

// Render formats every quantity: two decimals, three for power factor
func (m Metrics) Render() Display {
	d := Display{
		TotalEnergy:        m.TotalEnergy.String(),
		TotalPower:         m.TotalPower.String(),
		TotalCurrent:       m.TotalCurrent.String(),
		AverageVoltage:     m.AverageVoltage.String(),
		AveragePowerFactor: m.AveragePowerFactor.Format(PowerFactorPrecision),
		EstimatedBill:      m.EstimatedBill.String(),
		CostRate:           Some(m.CostRate).String(),
	}
	for i, c := range m.Circuits {
		d.Circuits[i] = CircuitDisplay{
			Voltage:     c.Voltage.String(),
			Current:     c.Current.String(),
			Power:       c.Power.String(),
			Energy:      c.Energy.String(),
			PowerFactor: c.PowerFactor.Format(PowerFactorPrecision),
		}
	}
	return d
}
