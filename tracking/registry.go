package tracking

import (
	"hash/fnv"
	"log/slog"
	"sync"
)

// shardCount spreads shipment keys over independent locks so unrelated
// shipments never contend. Power of two.
const shardCount = 32

// Registry maps shipment ids to their live subscriber sets. Register,
// Unregister, and Publish are safe under arbitrary concurrent callers and
// linearizable with respect to a single shipment's set.
type Registry struct {
	shards [shardCount]registryShard
	log    *slog.Logger
}

type registryShard struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewRegistry builds an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{log: logger}
	for i := range r.shards {
		r.shards[i].subs = make(map[string]map[*Subscription]struct{})
	}
	return r
}

func (r *Registry) shardFor(shipmentID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(shipmentID))
	return &r.shards[h.Sum32()&(shardCount-1)]
}

// Register adds sub to the set for shipmentID, creating the set if absent.
// Registering the same subscription twice is a no-op.
func (r *Registry) Register(shipmentID string, sub *Subscription) {
	shard := r.shardFor(shipmentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	set, ok := shard.subs[shipmentID]
	if !ok {
		set = make(map[*Subscription]struct{})
		shard.subs[shipmentID] = set
	}
	set[sub] = struct{}{}
}

// Unregister removes sub; when the set empties, the shipment key is pruned.
// Safe to call multiple times: the close path and the send-failure path may
// both reach it.
func (r *Registry) Unregister(shipmentID string, sub *Subscription) {
	shard := r.shardFor(shipmentID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	set, ok := shard.subs[shipmentID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(shard.subs, shipmentID)
	}
}

// Count reports the live subscriber count for shipmentID.
func (r *Registry) Count(shipmentID string) int {
	shard := r.shardFor(shipmentID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.subs[shipmentID])
}

// Publish serializes event once and queues it on every subscriber of the
// event's shipment. A subscriber whose send fails is unregistered and closed;
// one dead subscriber never blocks delivery to the rest. Returns the number
// of successful deliveries.
func (r *Registry) Publish(event StatusEvent) int {
	msg, err := event.Marshal()
	if err != nil {
		r.log.Error("drop undeliverable status event", "shipment_id", event.ShipmentID, "error", err)
		return 0
	}

	shard := r.shardFor(event.ShipmentID)
	shard.mu.RLock()
	set, ok := shard.subs[event.ShipmentID]
	if !ok {
		shard.mu.RUnlock()
		r.log.Debug("no subscribers for status event", "shipment_id", event.ShipmentID)
		return 0
	}
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	shard.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.send(msg); err != nil {
			r.log.Debug("unregister failed subscriber",
				"shipment_id", event.ShipmentID, "subscription_id", sub.ID, "error", err)
			r.Unregister(event.ShipmentID, sub)
			sub.Close()
			continue
		}
		delivered++
	}
	return delivered
}
