package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// NotifyChannel is the Postgres channel the shipments trigger notifies.
const NotifyChannel = "shipment_status"

// NotifyConn is the slice of *pgx.Conn the listener uses. The connection is
// single-owner: it carries the server-side LISTEN registration for the
// listener's whole lifetime and must never come from a pool.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener consumes shipment-status notifications and publishes them to the
// registry. One listener goroutine serializes all events, which is what
// preserves per-shipment ordering downstream.
type Listener struct {
	conn     NotifyConn
	registry *Registry
	log      *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewListener wires a listener. logger may be nil.
func NewListener(conn NotifyConn, registry *Registry, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{conn: conn, registry: registry, log: logger}
}

// Start issues LISTEN and spawns the receive loop. A failed LISTEN is
// returned to the caller without retrying; restart policy belongs to the
// supervisor. Starting twice is an error.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("tracking: listener already started")
	}

	if _, err := l.conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("tracking: listen %s: %w", NotifyChannel, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.done = make(chan struct{})
	l.started = true

	go l.loop(loopCtx)
	return nil
}

// Stop cancels the receive loop and releases the connection. Calling Stop on
// a listener that never started is a no-op.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil
	}

	l.cancel()
	select {
	case <-l.done:
	case <-ctx.Done():
		return fmt.Errorf("tracking: stop listener: %w", ctx.Err())
	}

	// The loop no longer touches the connection; UNLISTEN is best effort
	// since Close drops the server-side registration anyway.
	_, _ = l.conn.Exec(ctx, "UNLISTEN "+NotifyChannel)
	err := l.conn.Close(ctx)
	l.started = false
	if err != nil {
		return fmt.Errorf("tracking: close listener conn: %w", err)
	}
	return nil
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)

	for {
		notification, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error("notification stream broken, listener exiting", "error", err)
			return
		}

		event, err := ParseStatusEvent([]byte(notification.Payload))
		if err != nil {
			l.log.Warn("drop malformed status notification", "payload", notification.Payload, "error", err)
			continue
		}

		delivered := l.registry.Publish(event)
		l.log.Debug("status event published",
			"shipment_id", event.ShipmentID, "status_id", event.StatusID, "delivered", delivered)
	}
}
