package tracking

import "context"

// Authorizer re-validates that the principal owns the shipment against
// current persisted state. Satisfied by shipment.Service via an adapter.
type Authorizer interface {
	Authorize(ctx context.Context, shipmentID, userID string) error
}

// Gate admits tracking subscriptions. The ownership check runs once, at
// subscribe time; admitted subscribers are not re-checked per message.
type Gate struct {
	auth     Authorizer
	registry *Registry
}

// NewGate wires a gate over the registry.
func NewGate(auth Authorizer, registry *Registry) *Gate {
	return &Gate{auth: auth, registry: registry}
}

// Admit authorizes the principal and registers a fresh subscription. On any
// authorization failure nothing is registered and the typed error propagates
// so the transport can close the connection with a reason.
func (g *Gate) Admit(ctx context.Context, shipmentID, userID string) (*Subscription, error) {
	if err := g.auth.Authorize(ctx, shipmentID, userID); err != nil {
		return nil, err
	}

	sub := NewSubscription(shipmentID, userID)
	g.registry.Register(shipmentID, sub)
	return sub, nil
}

// Release unregisters and closes sub. Safe to call more than once.
func (g *Gate) Release(sub *Subscription) {
	g.registry.Unregister(sub.ShipmentID, sub)
	sub.Close()
}
