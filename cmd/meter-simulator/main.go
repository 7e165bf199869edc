// Package main provides a synthetic three-circuit energy meter that posts
// readings to the ingestion endpoint on a fixed interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chrissnell/powermeter/internal/ingest"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/types"
)

// circuit simulates one metered circuit. Energy accumulates across readings.
type circuit struct {
	baseLoad float64 // watts
	voltage  float64
	energy   float64 // kWh
}

func (c *circuit) sample(elapsed time.Duration, hour float64) (v, i, p, e, pf float64) {
	daily := 0.5 + 0.5*math.Sin(2*math.Pi*(hour-7)/24)
	p = math.Max(0, c.baseLoad*(0.4+daily)+(rand.Float64()-0.5)*c.baseLoad*0.1)
	v = c.voltage + (rand.Float64()-0.5)*4
	pf = 0.85 + rand.Float64()*0.15
	i = p / (v * pf)
	c.energy += p * elapsed.Hours() / 1000
	return v, i, p, c.energy, pf
}

// meter is a three-circuit simulator
type meter struct {
	circuits [types.CircuitCount]*circuit
	last     time.Time
}

func newMeter(now time.Time) *meter {
	return &meter{
		circuits: [types.CircuitCount]*circuit{
			{baseLoad: 350, voltage: 230},
			{baseLoad: 1200, voltage: 231},
			{baseLoad: 90, voltage: 229},
		},
		last: now,
	}
}

func (m *meter) next(now time.Time) types.Payload {
	elapsed := now.Sub(m.last)
	m.last = now
	hour := float64(now.Hour()) + float64(now.Minute())/60

	var vals [types.CircuitCount][5]float64
	for n, c := range m.circuits {
		v, i, p, e, pf := c.sample(elapsed, hour)
		vals[n] = [5]float64{round(v, 1), round(i, 3), round(p, 1), round(e, 3), round(pf, 2)}
	}

	return types.Payload{
		Voltage1: &vals[0][0], Current1: &vals[0][1], Power1: &vals[0][2], Energy1: &vals[0][3], PowerFactor1: &vals[0][4],
		Voltage2: &vals[1][0], Current2: &vals[1][1], Power2: &vals[1][2], Energy2: &vals[1][3], PowerFactor2: &vals[1][4],
		Voltage3: &vals[2][0], Current3: &vals[2][1], Power3: &vals[2][2], Energy3: &vals[2][3], PowerFactor3: &vals[2][4],
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the powermeter server")
	token := flag.String("token", os.Getenv("METER_TOKEN"), "Bearer token of the meter owner (default $METER_TOKEN)")
	interval := flag.Duration("interval", 10*time.Second, "Time between readings")
	count := flag.Int("count", 0, "Number of readings to send; 0 runs until interrupted")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *token == "" {
		log.Fatalf("a meter token is required (-token or METER_TOKEN)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := resty.New().
		SetBaseURL(strings.TrimRight(*baseURL, "/")).
		SetTimeout(5*time.Second).
		SetAuthToken(*token)

	m := newMeter(time.Now())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; *count == 0 || sent < *count; sent++ {
		send(ctx, client, m.next(time.Now()))

		select {
		case <-ctx.Done():
			log.Info("simulator stopped")
			return
		case <-ticker.C:
		}
	}
}

func send(ctx context.Context, client *resty.Client, p types.Payload) {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(p).
		Post(ingest.FunctionPath)
	if err != nil {
		log.Warnf("could not send reading: %v", err)
		return
	}
	if !resp.IsSuccess() {
		log.Warnw("reading rejected", "status", resp.StatusCode(), "body", string(resp.Body()))
		return
	}
	log.Infow("reading sent", "power_1", *p.Power1, "power_2", *p.Power2, "power_3", *p.Power3)
}
