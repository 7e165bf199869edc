// Package export writes sensor readings as a CSV download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/chrissnell/powermeter/internal/types"
)

// MaxRows caps a single export
const MaxRows = 10000

// TimestampLayout renders timestamps the way a browser locale string would
const TimestampLayout = "1/2/2006, 3:04:05 PM"

// Header is the fixed CSV header row
var Header = []string{
	"Timestamp",
	"V1", "I1", "P1", "E1", "PF1",
	"V2", "I2", "P2", "E2", "PF2",
	"V3", "I3", "P3", "E3", "PF3",
}

// Filename returns the download name for an export taken at now. The date
// is the UTC calendar date whatever zone now carries.
func Filename(now time.Time) string {
	return fmt.Sprintf("sensor_readings_%s.csv", now.UTC().Format("2006-01-02"))
}

// WriteCSV writes the header and one row per reading, in the order given.
// Timestamps are rendered in loc, or UTC when loc is nil.
func WriteCSV(w io.Writer, readings []types.SensorReading, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("could not write CSV header: %w", err)
	}

	record := make([]string, len(Header))
	for _, r := range readings {
		record[0] = r.Timestamp.In(loc).Format(TimestampLayout)
		for i, c := range r.Circuits() {
			base := 1 + i*5
			record[base] = formatNumber(c.Voltage)
			record[base+1] = formatNumber(c.Current)
			record[base+2] = formatNumber(c.Power)
			record[base+3] = formatNumber(c.Energy)
			record[base+4] = formatNumber(c.PowerFactor)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("could not write CSV row for reading %s: %w", r.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
