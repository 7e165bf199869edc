// Package live implements the Live Subscription Channel: per-user delivery of
// newly inserted readings to open subscriptions.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
)

// DefaultSubscriberBuffer is the per-subscription event buffer
const DefaultSubscriberBuffer = 16

var (
	ErrHubClosed     = errors.New("live hub is closed")
	ErrInvalidUserID = errors.New("user id is required")
)

// Hub fans inserted readings out to the subscriptions of the owning user
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan types.SensorReading
	nextID uint64
	closed bool

	subscriberBuffer int
	metrics          *observability.Metrics
}

// Subscription is a released-once handle on a user's insert events
type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan types.SensorReading
	once   sync.Once
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:             make(map[string]map[uint64]chan types.SensorReading),
		subscriberBuffer: DefaultSubscriberBuffer,
		metrics:          metrics,
	}
}

// Subscribe registers interest in userID's inserts. Events published after
// Subscribe returns are delivered; nothing is replayed.
func (h *Hub) Subscribe(userID string) (*Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	if h.subs[userID] == nil {
		h.subs[userID] = make(map[uint64]chan types.SensorReading)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan types.SensorReading, h.subscriberBuffer)
	h.subs[userID][id] = ch
	h.metrics.SubscriberOpened()

	return &Subscription{hub: h, userID: userID, id: id, ch: ch}, nil
}

// Publish delivers r to every subscription of r.UserID without blocking.
// When a subscriber's buffer is full its oldest queued event is discarded,
// so the newest reading is always delivered.
func (h *Hub) Publish(r types.SensorReading) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[r.UserID] {
		h.deliver(ch, r)
	}
}

// deliver sends r on ch, evicting queued events until it fits. Channels are
// only closed under the write lock, so the caller's read lock keeps ch open.
func (h *Hub) deliver(ch chan types.SensorReading, r types.SensorReading) {
	for {
		select {
		case ch <- r:
			h.metrics.IncDelivered()
			return
		default:
		}

		select {
		case old := <-ch:
			h.metrics.IncDropped()
			log.Debugw("live subscriber buffer full, dropping oldest reading", "user_id", r.UserID, "reading_id", old.ID)
		default:
		}
	}
}

func (h *Hub) unsubscribe(userID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userSubs := h.subs[userID]
	ch, ok := userSubs[id]
	if !ok {
		return
	}
	delete(userSubs, id)
	if len(userSubs) == 0 {
		delete(h.subs, userID)
	}
	close(ch)
	h.metrics.SubscriberClosed()
}

// SubscriberCount reports the open subscriptions for userID
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close ends every open subscription and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, userSubs := range h.subs {
		for id, ch := range userSubs {
			close(ch)
			delete(userSubs, id)
			h.metrics.SubscriberClosed()
		}
		delete(h.subs, userID)
	}
}

// StartStorageEngine makes the hub a distributor engine: readings sent on the
// returned channel are published until ctx is cancelled, then the hub closes.
func (h *Hub) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.SensorReading {
	log.Info("starting live subscription engine...")
	readingChan := make(chan types.SensorReading, 32)
	wg.Add(1)
	go func() {
		storage.ProcessReadings(ctx, wg, readingChan, func(r types.SensorReading) error {
			h.Publish(r)
			return nil
		}, "live")
		h.Close()
	}()
	return readingChan
}

// CheckHealth reports the hub as healthy while it accepts subscriptions
func (h *Hub) CheckHealth(ctx context.Context) *config.StorageHealthData {
	h.mu.RLock()
	closed := h.closed
	users := len(h.subs)
	h.mu.RUnlock()

	if closed {
		return storage.CreateHealthData(storage.StatusUnhealthy, "live hub closed", ErrHubClosed)
	}
	return storage.CreateHealthData(storage.StatusHealthy, fmt.Sprintf("live hub accepting subscriptions (%d users watching)", users), nil)
}

// Events is the finite sequence of the user's insert events. It is closed
// once the subscription is released.
func (s *Subscription) Events() <-chan types.SensorReading {
	if s == nil {
		return nil
	}
	return s.ch
}

// UserID is the user the subscription is filtered on
func (s *Subscription) UserID() string {
	return s.userID
}

// Close releases the subscription. It is idempotent, and once it returns no
// further event will be sent.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
