package tracking

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func drain(t *testing.T, sub *Subscription) []StatusEvent {
	t.Helper()
	events := []StatusEvent{}
	for {
		select {
		case msg := <-sub.Messages():
			var e StatusEvent
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("undecodable message: %v", err)
			}
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestRegistry_RoundTrip(t *testing.T) {
	registry := NewRegistry(nil)
	sub := NewSubscription("ship-1", "user-1")

	registry.Register("ship-1", sub)
	if n := registry.Publish(StatusEvent{ShipmentID: "ship-1", StatusID: 2, StatusName: "IN_TRANSIT"}); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	registry.Unregister("ship-1", sub)
	if n := registry.Publish(StatusEvent{ShipmentID: "ship-1", StatusID: 3, StatusName: "DELIVERED"}); n != 0 {
		t.Fatalf("expected 0 deliveries after unregister, got %d", n)
	}

	events := drain(t, sub)
	if len(events) != 1 {
		t.Fatalf("expected exactly the first event, got %d", len(events))
	}
	if events[0].StatusID != 2 || events[0].StatusName != "IN_TRANSIT" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestRegistry_EmptySetsArePruned(t *testing.T) {
	registry := NewRegistry(nil)
	sub := NewSubscription("ship-1", "user-1")

	registry.Register("ship-1", sub)
	registry.Unregister("ship-1", sub)
	// Double unregister must be a no-op.
	registry.Unregister("ship-1", sub)

	shard := registry.shardFor("ship-1")
	shard.mu.RLock()
	_, present := shard.subs["ship-1"]
	shard.mu.RUnlock()
	if present {
		t.Fatal("expected shipment key pruned once its set emptied")
	}
}

func TestRegistry_PublishToUnknownShipmentIsNoOp(t *testing.T) {
	registry := NewRegistry(nil)
	if n := registry.Publish(StatusEvent{ShipmentID: "nobody-cares", StatusID: 1}); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestRegistry_FailedSubscriberDoesNotBlockOthers(t *testing.T) {
	registry := NewRegistry(nil)
	healthy := NewSubscription("ship-1", "user-1")
	dead := NewSubscription("ship-1", "user-2")
	dead.Close()

	registry.Register("ship-1", healthy)
	registry.Register("ship-1", dead)

	if n := registry.Publish(StatusEvent{ShipmentID: "ship-1", StatusID: 2}); n != 1 {
		t.Fatalf("expected delivery to the healthy subscriber only, got %d", n)
	}
	if registry.Count("ship-1") != 1 {
		t.Fatalf("expected dead subscriber unregistered, count=%d", registry.Count("ship-1"))
	}
}

func TestRegistry_SlowSubscriberIsDropped(t *testing.T) {
	registry := NewRegistry(nil)
	slow := NewSubscription("ship-1", "user-1")
	registry.Register("ship-1", slow)

	// Fill the buffer without draining, then one more.
	for i := 0; i < sendBuffer; i++ {
		if n := registry.Publish(StatusEvent{ShipmentID: "ship-1", StatusID: int64(i + 1)}); n != 1 {
			t.Fatalf("publish %d: expected delivery, got %d", i, n)
		}
	}
	if n := registry.Publish(StatusEvent{ShipmentID: "ship-1", StatusID: 99}); n != 0 {
		t.Fatalf("expected overflow publish to fail, got %d deliveries", n)
	}
	if registry.Count("ship-1") != 0 {
		t.Fatalf("expected slow subscriber unregistered, count=%d", registry.Count("ship-1"))
	}
	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("expected slow subscriber closed")
	}
}

func TestRegistry_ConcurrentRegistersAllReceiveOnePublish(t *testing.T) {
	const subscribers = 64

	registry := NewRegistry(nil)
	subs := make([]*Subscription, subscribers)

	var wg sync.WaitGroup
	for i := 0; i < subscribers; i++ {
		subs[i] = NewSubscription("ship-1", "user")
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			registry.Register("ship-1", sub)
		}(subs[i])
	}
	wg.Wait()

	if n := registry.Publish(StatusEvent{ShipmentID: "ship-1", StatusID: 2}); n != subscribers {
		t.Fatalf("expected %d deliveries, got %d", subscribers, n)
	}

	for i, sub := range subs {
		events := drain(t, sub)
		if len(events) != 1 {
			t.Fatalf("subscriber %d: expected exactly one message, got %d", i, len(events))
		}
	}
}

func TestRegistry_ConcurrentChurnAcrossShipments(t *testing.T) {
	registry := NewRegistry(nil)

	var g errgroup.Group
	shipments := []string{"ship-a", "ship-b", "ship-c", "ship-d"}

	for _, shipmentID := range shipments {
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				sub := NewSubscription(shipmentID, "user")
				registry.Register(shipmentID, sub)
				registry.Publish(StatusEvent{ShipmentID: shipmentID, StatusID: int64(i + 1)})
				registry.Unregister(shipmentID, sub)
				sub.Close()
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				registry.Publish(StatusEvent{ShipmentID: shipmentID, StatusID: int64(i + 1)})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent churn failed: %v", err)
	}

	for _, shipmentID := range shipments {
		if n := registry.Count(shipmentID); n != 0 {
			t.Fatalf("expected %s fully drained, count=%d", shipmentID, n)
		}
	}
}
