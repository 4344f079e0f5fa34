package tracking

import (
	"context"
	"testing"

	"shipflow/apperr"
)

type fakeAuthorizer struct {
	err error
}

func (f *fakeAuthorizer) Authorize(_ context.Context, _, _ string) error {
	return f.err
}

func TestGate_AdmitRegistersSubscription(t *testing.T) {
	registry := NewRegistry(nil)
	gate := NewGate(&fakeAuthorizer{}, registry)

	sub, err := gate.Admit(context.Background(), "ship-1", "owner")
	if err != nil {
		t.Fatalf("admit: unexpected error: %v", err)
	}
	if registry.Count("ship-1") != 1 {
		t.Fatalf("expected one subscriber, got %d", registry.Count("ship-1"))
	}

	gate.Release(sub)
	if registry.Count("ship-1") != 0 {
		t.Fatalf("expected registry drained after release, got %d", registry.Count("ship-1"))
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected subscription closed after release")
	}
}

func TestGate_RejectionLeavesRegistryUnchanged(t *testing.T) {
	registry := NewRegistry(nil)
	gate := NewGate(&fakeAuthorizer{
		err: apperr.Authorization(apperr.CodeNotOwner, "shipment belongs to another user"),
	}, registry)

	if registry.Count("ship-1") != 0 {
		t.Fatalf("precondition: expected empty registry")
	}

	sub, err := gate.Admit(context.Background(), "ship-1", "intruder")
	if apperr.KindOf(err) != apperr.KindAuthorization {
		t.Fatalf("expected Authorization failure, got %v", err)
	}
	if sub != nil {
		t.Fatal("expected no subscription on rejection")
	}
	if registry.Count("ship-1") != 0 {
		t.Fatalf("expected registry unchanged, got %d subscribers", registry.Count("ship-1"))
	}
}

func TestGate_NotFoundPropagates(t *testing.T) {
	registry := NewRegistry(nil)
	gate := NewGate(&fakeAuthorizer{
		err: apperr.NotFound(apperr.CodeShipmentNotFound, "shipment missing not found"),
	}, registry)

	_, err := gate.Admit(context.Background(), "missing", "user")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected NotFound failure, got %v", err)
	}
}

func TestGate_DoubleReleaseIsSafe(t *testing.T) {
	registry := NewRegistry(nil)
	gate := NewGate(&fakeAuthorizer{}, registry)

	sub, err := gate.Admit(context.Background(), "ship-1", "owner")
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	// Connection close and publish-failure paths may both release.
	gate.Release(sub)
	gate.Release(sub)

	if registry.Count("ship-1") != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Count("ship-1"))
	}
}
