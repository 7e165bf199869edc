// Package dashboard keeps a per-user live view of the latest reading and
// re-renders derived metrics as insert events arrive.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/derived"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/storage/live"
	"github.com/chrissnell/powermeter/internal/types"
)

// Frame sources
const (
	SourceInitial = "initial"
	SourceLive    = "live"
)

// Subscriber opens live subscriptions
type Subscriber interface {
	Subscribe(userID string) (*live.Subscription, error)
}

// Frame is one rendered state of the view
type Frame struct {
	UserID     string               `json:"user_id"`
	Source     string               `json:"source"`
	Reading    *types.SensorReading `json:"reading"`
	Settings   *types.UserSettings  `json:"settings"`
	Metrics    derived.Metrics      `json:"metrics"`
	Display    derived.Display      `json:"display"`
	RenderedAt time.Time            `json:"rendered_at"`
}

// RenderFunc receives every frame. It runs on the view's event loop and
// must not call Unmount.
type RenderFunc func(Frame)

// FetchError wraps a failed initial read. It is logged, never surfaced.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// View is a mounted dashboard for one user
type View struct {
	userID  string
	fetcher storage.ReadingFetcher
	sub     *live.Subscription
	render  RenderFunc
	logger  *zap.SugaredLogger
	metrics *observability.Metrics

	mu       sync.RWMutex
	reading  *types.SensorReading
	settings *types.UserSettings

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option customizes a View
type Option func(*View)

// WithLogger sets the view's logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(v *View) { v.logger = l }
}

// WithMetrics records renders in m
func WithMetrics(m *observability.Metrics) Option {
	return func(v *View) { v.metrics = m }
}

// Mount subscribes to userID's inserts, then fetches the latest reading and
// the settings concurrently, renders once, and keeps rendering on every
// event. Subscribing first means no insert committed after Mount returns
// can be missed. Mount does not wait for the fetches.
func Mount(ctx context.Context, userID string, fetcher storage.ReadingFetcher, subscriber Subscriber, render RenderFunc, opts ...Option) (*View, error) {
	sub, err := subscriber.Subscribe(userID)
	if err != nil {
		return nil, fmt.Errorf("could not subscribe to readings for %s: %w", userID, err)
	}

	vctx, cancel := context.WithCancel(ctx)
	v := &View{
		userID:  userID,
		fetcher: fetcher,
		sub:     sub,
		render:  render,
		logger:  log.Named("dashboard"),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}

	go v.run(vctx)
	return v, nil
}

// Unmount releases the subscription and waits for the event loop to exit.
// No render happens after it returns. Calling it again is a no-op.
func (v *View) Unmount() {
	v.once.Do(func() {
		v.sub.Close()
		v.cancel()
	})
	<-v.done
}

// Done is closed when the event loop has exited
func (v *View) Done() <-chan struct{} {
	return v.done
}

// Snapshot returns the reading and settings currently shown
func (v *View) Snapshot() (*types.SensorReading, *types.UserSettings) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.reading, v.settings
}

func (v *View) run(ctx context.Context) {
	defer close(v.done)
	defer v.sub.Close()

	initial := LoadInitial(ctx, v.fetcher, v.userID, v.logger)
	if ctx.Err() != nil {
		return
	}

	v.mu.Lock()
	v.reading = initial.Reading
	v.settings = initial.Settings
	v.mu.Unlock()
	v.emit(SourceInitial)

	for {
		select {
		case r, ok := <-v.sub.Events():
			if !ok {
				return
			}
			// Replace on arrival: the newest event wins regardless of its timestamp.
			reading := r
			v.mu.Lock()
			v.reading = &reading
			v.mu.Unlock()
			v.emit(SourceLive)
		case <-ctx.Done():
			return
		}
	}
}

func (v *View) emit(source string) {
	reading, settings := v.Snapshot()
	v.metrics.IncRender()
	if v.render != nil {
		v.render(NewFrame(v.userID, source, reading, settings))
	}
}

// NewFrame projects reading and settings into a renderable frame
func NewFrame(userID, source string, reading *types.SensorReading, settings *types.UserSettings) Frame {
	m := derived.Project(reading, settings)
	return Frame{
		UserID:     userID,
		Source:     source,
		Reading:    reading,
		Settings:   settings,
		Metrics:    m,
		Display:    m.Render(),
		RenderedAt: time.Now(),
	}
}

// Initial is the result of the two mount-time fetches
type Initial struct {
	Reading  *types.SensorReading
	Settings *types.UserSettings
	Errors   []error
}

// LoadInitial runs the latest-reading and settings fetches concurrently and
// joins them. A failing fetch leaves its field nil and does not cancel the other.
func LoadInitial(ctx context.Context, fetcher storage.ReadingFetcher, userID string, logger *zap.SugaredLogger) Initial {
	var (
		wg          sync.WaitGroup
		out         Initial
		readingErr  error
		settingsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := fetcher.LatestReading(ctx, userID)
		if err != nil {
			readingErr = &FetchError{Resource: "latest_reading", Err: err}
			return
		}
		out.Reading = r
	}()
	go func() {
		defer wg.Done()
		s, err := fetcher.GetSettings(ctx, userID)
		if err != nil {
			settingsErr = &FetchError{Resource: "settings", Err: err}
			return
		}
		out.Settings = s
	}()
	wg.Wait()

	for _, err := range []error{readingErr, settingsErr} {
		if err == nil {
			continue
		}
		out.Errors = append(out.Errors, err)
		if logger != nil {
			logger.Warnw("dashboard fetch failed", "user_id", userID, "error", err)
		}
	}
	return out
}
