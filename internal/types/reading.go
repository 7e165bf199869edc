// Package types holds the data model shared by the store, the live channel and the dashboard.
package types

import (
	"fmt"
	"reflect"
	"time"
)

// CircuitCount is the number of metered circuits on a device.
const CircuitCount = 3

// Payload is the measurement body a sensor submits: five quantities for each
// of the three circuits. Every field is required on insert.
type Payload struct {
	Voltage1     *float64 `json:"voltage_1"`
	Current1     *float64 `json:"current_1"`
	Power1       *float64 `json:"power_1"`
	Energy1      *float64 `json:"energy_1"`
	PowerFactor1 *float64 `json:"power_factor_1"`
	Voltage2     *float64 `json:"voltage_2"`
	Current2     *float64 `json:"current_2"`
	Power2       *float64 `json:"power_2"`
	Energy2      *float64 `json:"energy_2"`
	PowerFactor2 *float64 `json:"power_factor_2"`
	Voltage3     *float64 `json:"voltage_3"`
	Current3     *float64 `json:"current_3"`
	Power3       *float64 `json:"power_3"`
	Energy3      *float64 `json:"energy_3"`
	PowerFactor3 *float64 `json:"power_factor_3"`
}

// Validate reports the first missing measurement field.
func (p Payload) Validate() error {
	v := reflect.ValueOf(p)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).IsNil() {
			return &ValidationError{Field: t.Field(i).Tag.Get("json"), Reason: "required numeric field is missing"}
		}
	}
	return nil
}

// SensorReading is one immutable measurement row.
type SensorReading struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	UserID       string    `gorm:"column:user_id;index:idx_sensor_readings_user_ts,priority:1;not null" json:"user_id"`
	Timestamp    time.Time `gorm:"column:timestamp;index:idx_sensor_readings_user_ts,priority:2,sort:desc;not null" json:"timestamp"`
	Voltage1     float64   `gorm:"column:voltage_1;not null" json:"voltage_1"`
	Current1     float64   `gorm:"column:current_1;not null" json:"current_1"`
	Power1       float64   `gorm:"column:power_1;not null" json:"power_1"`
	Energy1      float64   `gorm:"column:energy_1;not null" json:"energy_1"`
	PowerFactor1 float64   `gorm:"column:power_factor_1;not null" json:"power_factor_1"`
	Voltage2     float64   `gorm:"column:voltage_2;not null" json:"voltage_2"`
	Current2     float64   `gorm:"column:current_2;not null" json:"current_2"`
	Power2       float64   `gorm:"column:power_2;not null" json:"power_2"`
	Energy2      float64   `gorm:"column:energy_2;not null" json:"energy_2"`
	PowerFactor2 float64   `gorm:"column:power_factor_2;not null" json:"power_factor_2"`
	Voltage3     float64   `gorm:"column:voltage_3;not null" json:"voltage_3"`
	Current3     float64   `gorm:"column:current_3;not null" json:"current_3"`
	Power3       float64   `gorm:"column:power_3;not null" json:"power_3"`
	Energy3      float64   `gorm:"column:energy_3;not null" json:"energy_3"`
	PowerFactor3 float64   `gorm:"column:power_factor_3;not null" json:"power_factor_3"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

// TableName implements the GORM Tabler interface for SensorReading
func (SensorReading) TableName() string {
	return "sensor_readings"
}

// CircuitValues are the five measurements of a single circuit.
type CircuitValues struct {
	Voltage     float64
	Current     float64
	Power       float64
	Energy      float64
	PowerFactor float64
}

// Circuits returns the reading split per circuit, circuit 1 first.
func (r *SensorReading) Circuits() [CircuitCount]CircuitValues {
	return [CircuitCount]CircuitValues{
		{r.Voltage1, r.Current1, r.Power1, r.Energy1, r.PowerFactor1},
		{r.Voltage2, r.Current2, r.Power2, r.Energy2, r.PowerFactor2},
		{r.Voltage3, r.Current3, r.Power3, r.Energy3, r.PowerFactor3},
	}
}

// NewSensorReading builds a row from a validated payload.
func NewSensorReading(id, userID string, ts time.Time, p Payload) (SensorReading, error) {
	if err := p.Validate(); err != nil {
		return SensorReading{}, err
	}
	return SensorReading{
		ID:           id,
		UserID:       userID,
		Timestamp:    ts,
		Voltage1:     *p.Voltage1,
		Current1:     *p.Current1,
		Power1:       *p.Power1,
		Energy1:      *p.Energy1,
		PowerFactor1: *p.PowerFactor1,
		Voltage2:     *p.Voltage2,
		Current2:     *p.Current2,
		Power2:       *p.Power2,
		Energy2:      *p.Energy2,
		PowerFactor2: *p.PowerFactor2,
		Voltage3:     *p.Voltage3,
		Current3:     *p.Current3,
		Power3:       *p.Power3,
		Energy3:      *p.Energy3,
		PowerFactor3: *p.PowerFactor3,
		CreatedAt:    ts,
	}, nil
}

// ValidationError is returned when a submitted row does not carry the
// fifteen numeric measurements.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}
