// Package pgnotify turns Postgres LISTEN/NOTIFY announcements of inserted
// sensor_readings rows into a change feed, so every instance sees every insert.
package pgnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/types"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Conn is the part of a Postgres connection the listener uses.
// *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// DialFunc opens a dedicated connection
type DialFunc func(ctx context.Context, connString string) (Conn, error)

// Listener holds a dedicated connection listening on a notify channel
type Listener struct {
	connString string
	channel    string
	sink       storage.Publisher
	dial       DialFunc

	minBackoff time.Duration
	maxBackoff time.Duration
	after      func(time.Duration) <-chan time.Time
}

// New creates a listener that forwards decoded rows to sink
func New(connString, channel string, sink storage.Publisher) *Listener {
	return &Listener{
		connString: connString,
		channel:    channel,
		sink:       sink,
		dial:       dialPgx,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		after:      time.After,
	}
}

func dialPgx(ctx context.Context, connString string) (Conn, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Run listens until ctx is cancelled, reconnecting with backoff on failure.
// The backoff doubles up to maxBackoff and starts over once a connection
// has been established.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.minBackoff
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			log.Info("stopping sensor_readings change feed")
			return
		}
		if connected {
			backoff = l.minBackoff
		}
		log.Warnw("change feed connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-l.after(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// listen reports whether LISTEN succeeded along with the error that ended it
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.dial(ctx, l.connString)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	log.Infof("listening for inserts on %s", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}

		r, err := DecodeNotification(n.Payload)
		if err != nil {
			log.Errorw("discarding undecodable notification", "error", err)
			continue
		}
		l.sink.Publish(r)
	}
}

// DecodeNotification parses the row_to_json payload of an inserted row
func DecodeNotification(payload string) (types.SensorReading, error) {
	var r types.SensorReading
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return types.SensorReading{}, fmt.Errorf("decode sensor_readings row: %w", err)
	}
	if r.ID == "" || r.UserID == "" {
		return types.SensorReading{}, fmt.Errorf("decode sensor_readings row: missing id or user_id")
	}
	return r, nil
}
