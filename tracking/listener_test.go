package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// fakeNotifyConn feeds scripted notifications to the listener loop.
type fakeNotifyConn struct {
	notifications chan *pgconn.Notification
	execErr       error
	execs         []string
	closed        bool
}

func newFakeNotifyConn() *fakeNotifyConn {
	return &fakeNotifyConn{notifications: make(chan *pgconn.Notification, 16)}
}

func (f *fakeNotifyConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeNotifyConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-f.notifications:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeNotifyConn) Close(_ context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeNotifyConn) push(payload string) {
	f.notifications <- &pgconn.Notification{Channel: NotifyChannel, Payload: payload}
}

func waitForEvents(t *testing.T, sub *Subscription, want int) []StatusEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	events := []StatusEvent{}
	for len(events) < want {
		select {
		case msg := <-sub.Messages():
			e, err := ParseStatusEvent(msg)
			if err != nil {
				t.Fatalf("undecodable message: %v", err)
			}
			events = append(events, e)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", want, len(events))
		}
	}
	return events
}

func TestListener_FailsFastWhenListenFails(t *testing.T) {
	conn := newFakeNotifyConn()
	conn.execErr = errors.New("connection refused")

	listener := NewListener(conn, NewRegistry(nil), nil)
	if err := listener.Start(context.Background()); err == nil {
		t.Fatal("expected Start to surface the LISTEN failure")
	}

	// Stop on a listener that never started is a no-op.
	if err := listener.Stop(context.Background()); err != nil {
		t.Fatalf("stop on unstarted listener: %v", err)
	}
}

func TestListener_PublishesDecodedEvents(t *testing.T) {
	conn := newFakeNotifyConn()
	registry := NewRegistry(nil)
	sub := NewSubscription("ship-1", "user-1")
	registry.Register("ship-1", sub)

	listener := NewListener(conn, registry, nil)
	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer listener.Stop(context.Background())

	if len(conn.execs) != 1 || !strings.HasPrefix(conn.execs[0], "LISTEN ") {
		t.Fatalf("expected a LISTEN, got %v", conn.execs)
	}

	conn.push(`{"shipmentId":"ship-1","statusId":2,"statusName":"IN_TRANSIT","timestamp":"2026-09-01T10:00:00Z"}`)

	events := waitForEvents(t, sub, 1)
	if events[0].StatusID != 2 || events[0].StatusName != "IN_TRANSIT" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestListener_DropsMalformedPayloadAndContinues(t *testing.T) {
	conn := newFakeNotifyConn()
	registry := NewRegistry(nil)
	sub := NewSubscription("ship-1", "user-1")
	registry.Register("ship-1", sub)

	listener := NewListener(conn, registry, nil)
	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer listener.Stop(context.Background())

	conn.push(`{broken json`)
	conn.push(`{"statusId":5}`) // missing shipment id
	conn.push(`{"shipmentId":"ship-1","statusId":3,"statusName":"DELIVERED"}`)

	events := waitForEvents(t, sub, 1)
	if events[0].StatusID != 3 {
		t.Fatalf("expected the loop to survive malformed payloads, got %+v", events[0])
	}
}

func TestListener_PreservesPerShipmentOrder(t *testing.T) {
	conn := newFakeNotifyConn()
	registry := NewRegistry(nil)
	sub := NewSubscription("ship-1", "user-1")
	registry.Register("ship-1", sub)

	listener := NewListener(conn, registry, nil)
	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer listener.Stop(context.Background())

	for i := 1; i <= 5; i++ {
		conn.push(fmt.Sprintf(`{"shipmentId":"ship-1","statusId":%d}`, i))
	}

	events := waitForEvents(t, sub, 5)
	for i, e := range events {
		if e.StatusID != int64(i+1) {
			t.Fatalf("event %d out of order: %+v", i, events)
		}
	}
}

func TestListener_StopReleasesConnection(t *testing.T) {
	conn := newFakeNotifyConn()
	listener := NewListener(conn, NewRegistry(nil), nil)

	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := listener.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail while running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := listener.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !conn.closed {
		t.Fatal("expected connection closed on Stop")
	}

	// Stop twice is safe.
	if err := listener.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
