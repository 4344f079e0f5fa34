package tracking

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// sendBuffer bounds how many undelivered messages a subscriber may queue
// before it is treated as dead. Keeps Publish non-blocking.
const sendBuffer = 16

var (
	// ErrSubscriptionClosed signals a send to a closed subscription.
	ErrSubscriptionClosed = errors.New("tracking: subscription closed")
	// ErrSlowSubscriber signals the subscriber's buffer is full.
	ErrSlowSubscriber = errors.New("tracking: subscriber too slow")
)

// Subscription is one live client interested in one shipment's updates.
// Distinct subscriptions are distinct identities even for the same user;
// a user tracking the same shipment in two tabs holds two subscriptions.
type Subscription struct {
	ID         string
	ShipmentID string
	UserID     string

	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscription builds an unregistered subscription.
func NewSubscription(shipmentID, userID string) *Subscription {
	return &Subscription{
		ID:         uuid.NewString(),
		ShipmentID: shipmentID,
		UserID:     userID,
		messages:   make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Messages is the stream the connection's write pump drains.
func (s *Subscription) Messages() <-chan []byte {
	return s.messages
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close marks the subscription dead. Idempotent; safe to call from both the
// read-pump teardown and a failed publish.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// send queues msg without blocking. The registry interprets any error as a
// disconnect.
func (s *Subscription) send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}

	select {
	case s.messages <- msg:
		return nil
	case <-s.done:
		return ErrSubscriptionClosed
	default:
		return ErrSlowSubscriber
	}
}
