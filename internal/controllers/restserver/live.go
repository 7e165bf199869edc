package restserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chrissnell/powermeter/internal/dashboard"
)

const liveWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveFeed upgrades to a websocket and mounts a dashboard view for the
// caller. Every render is written as a JSON frame. The view is unmounted
// when the client goes away or the server shuts down.
func (h *Handlers) LiveFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.controller.logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.controller.ctx)
	defer cancel()

	render := func(f dashboard.Frame) {
		conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := conn.WriteJSON(f); err != nil {
			h.controller.logger.Debugw("live frame write failed", "user_id", userID, "error", err)
			cancel()
		}
	}

	view, err := dashboard.Mount(ctx, userID, h.store(), h.controller.deps.Live, render,
		dashboard.WithLogger(h.controller.logger),
		dashboard.WithMetrics(h.controller.deps.Metrics))
	if err != nil {
		h.controller.logger.Errorf("could not mount live view for %s: %v", userID, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "live feed unavailable"),
			time.Now().Add(liveWriteWait))
		return
	}
	defer view.Unmount()

	// Client messages are ignored; a read error means the peer is gone.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-view.Done():
	}
}
