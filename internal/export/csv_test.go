package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/powermeter/internal/types"
)

func TestWriteCSV(t *testing.T) {
	base := time.Date(2024, 3, 9, 18, 4, 5, 0, time.UTC)
	readings := []types.SensorReading{
		{ID: "c", Timestamp: base.Add(2 * time.Minute), Voltage1: 230.5, Current1: 1.25, Power1: 288, Energy1: 12.5, PowerFactor1: 0.98},
		{ID: "b", Timestamp: base.Add(time.Minute), Voltage2: 229},
		{ID: "a", Timestamp: base, PowerFactor3: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, readings, nil))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Timestamp,V1,I1,P1,E1,PF1,V2,I2,P2,E2,PF2,V3,I3,P3,E3,PF3", lines[0])
	assert.Equal(t, `"3/9/2024, 6:06:05 PM",230.5,1.25,288,12.5,0.98,0,0,0,0,0,0,0,0,0,0`, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], `"3/9/2024, 6:05:05 PM",0,0,0,0,0,229,`))
	assert.True(t, strings.HasSuffix(lines[3], ",1"))
}

func TestWriteCSVTimezone(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	ts := time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []types.SensorReading{{Timestamp: ts}}, manila))
	assert.Contains(t, buf.String(), `"1/1/2025, 4:00:00 AM"`)
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil, time.UTC))
	assert.Equal(t, strings.Join(Header, ",")+"\n", buf.String())
}

func TestFilename(t *testing.T) {
	manila := time.FixedZone("PHT", 8*60*60)
	tests := []struct {
		now      time.Time
		expected string
	}{
		{time.Date(2024, 1, 5, 23, 59, 0, 0, time.UTC), "sensor_readings_2024-01-05.csv"},
		{time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), "sensor_readings_2025-11-30.csv"},
		// 07:30 in Manila on the 1st is still the 31st in UTC
		{time.Date(2025, 1, 1, 7, 30, 0, 0, manila), "sensor_readings_2024-12-31.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Filename(tt.now))
		})
	}
}
