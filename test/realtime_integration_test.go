package test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"shipflow/catalog"
	"shipflow/quote"
	"shipflow/shipment"
	"shipflow/test/infra"
	"shipflow/tracking"
)

func dockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}

type ownerAuthorizer struct {
	shipments *shipment.Service
}

func (a ownerAuthorizer) Authorize(ctx context.Context, shipmentID, userID string) error {
	_, err := a.shipments.Authorize(ctx, shipmentID, userID)
	return err
}

func seedUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool, email string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash)
		VALUES ($1, 'Integration User', 'x')
		RETURNING id
	`, email).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func receiveEvent(t *testing.T, sub *tracking.Subscription, timeout time.Duration) (tracking.StatusEvent, bool) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		event, err := tracking.ParseStatusEvent(msg)
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event, true
	case <-time.After(timeout):
		return tracking.StatusEvent{}, false
	}
}

func TestRealtimePipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if !dockerAvailable(ctx) {
		t.Skip("docker not available")
	}

	harness, err := infra.NewHarness(ctx)
	if err != nil {
		t.Fatalf("start harness: %v", err)
	}
	defer harness.Close(context.Background())

	pool := harness.Pool()
	catalogRepo := catalog.NewRepository(pool)
	engine := quote.NewEngine(catalogRepo, nil, nil)
	shipments := shipment.NewService(shipment.NewRepository(pool), catalogRepo, engine)

	registry := tracking.NewRegistry(nil)
	gate := tracking.NewGate(ownerAuthorizer{shipments}, registry)

	listenerConn, err := pgx.Connect(ctx, harness.DSN())
	if err != nil {
		t.Fatalf("connect listener: %v", err)
	}
	listener := tracking.NewListener(listenerConn, registry, nil)
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("start listener: %v", err)
	}
	defer listener.Stop(context.Background())

	ownerID := seedUser(ctx, t, pool, "owner@example.com")
	intruderID := seedUser(ctx, t, pool, "intruder@example.com")

	created, err := shipments.Create(ctx, ownerID, shipment.CreateParams{
		OriginCityID:      1,
		DestinationCityID: 3,
		PackageWeightKg:   5,
		PackageLengthCm:   30,
		PackageWidthCm:    20,
		PackageHeightCm:   15,
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	// Zone 1 -> zone 2 seeds 900/kg; billable weight is max(5, ceil(9000/2500)).
	if created.QuotedValue != 4500 {
		t.Fatalf("expected quoted value 4500, got %d", created.QuotedValue)
	}

	t.Run("gate rejects non-owner", func(t *testing.T) {
		if _, err := gate.Admit(ctx, created.ID, intruderID); err == nil {
			t.Fatal("expected admission rejected for non-owner")
		}
		if registry.Count(created.ID) != 0 {
			t.Fatalf("expected empty registry after rejection, got %d", registry.Count(created.ID))
		}
	})

	sub, err := gate.Admit(ctx, created.ID, ownerID)
	if err != nil {
		t.Fatalf("admit owner: %v", err)
	}
	defer gate.Release(sub)

	t.Run("transitions stream in commit order", func(t *testing.T) {
		for _, statusID := range []int64{2, 3, 4} {
			if err := shipments.UpdateStatus(ctx, created.ID, statusID); err != nil {
				t.Fatalf("update to %d: %v", statusID, err)
			}
		}

		for _, want := range []int64{2, 3, 4} {
			event, ok := receiveEvent(t, sub, 5*time.Second)
			if !ok {
				t.Fatalf("timed out waiting for status %d", want)
			}
			if event.ShipmentID != created.ID || event.StatusID != want {
				t.Fatalf("expected status %d for %s, got %+v", want, created.ID, event)
			}
			if event.StatusName == "" || event.Timestamp == "" {
				t.Fatalf("expected enriched payload, got %+v", event)
			}
		}
	})

	t.Run("same-status transition emits nothing", func(t *testing.T) {
		if err := shipments.UpdateStatus(ctx, created.ID, 4); err != nil {
			t.Fatalf("no-op update: %v", err)
		}
		if event, ok := receiveEvent(t, sub, 2*time.Second); ok {
			t.Fatalf("expected no event for no-op transition, got %+v", event)
		}

		var rows int
		if err := pool.QueryRow(ctx,
			`SELECT count(*) FROM shipment_status_history WHERE shipment_id = $1`, created.ID).Scan(&rows); err != nil {
			t.Fatalf("count history: %v", err)
		}
		// CREATED + three transitions; the replay added nothing.
		if rows != 4 {
			t.Fatalf("expected 4 history rows, got %d", rows)
		}
	})

	t.Run("concurrent subscribers all receive one delivery", func(t *testing.T) {
		const subscribers = 16

		subs := make([]*tracking.Subscription, subscribers)
		var g errgroup.Group
		for i := 0; i < subscribers; i++ {
			g.Go(func() error {
				admitted, err := gate.Admit(ctx, created.ID, ownerID)
				if err != nil {
					return err
				}
				subs[i] = admitted
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent admits: %v", err)
		}
		defer func() {
			for _, s := range subs {
				gate.Release(s)
			}
		}()

		if err := shipments.UpdateStatus(ctx, created.ID, 5); err != nil {
			t.Fatalf("update to delivered: %v", err)
		}

		for i, s := range subs {
			event, ok := receiveEvent(t, s, 5*time.Second)
			if !ok {
				t.Fatalf("subscriber %d never received the event", i)
			}
			if event.StatusID != 5 {
				t.Fatalf("subscriber %d: unexpected event %+v", i, event)
			}
			if extra, ok := receiveEvent(t, s, 200*time.Millisecond); ok {
				t.Fatalf("subscriber %d: duplicate delivery %+v", i, extra)
			}
		}
	})

	t.Run("unregistered subscriber stops receiving", func(t *testing.T) {
		gate.Release(sub)
		// Drain the DELIVERED event the long-lived subscriber may have
		// buffered before release.
		for {
			if _, ok := receiveEvent(t, sub, 100*time.Millisecond); !ok {
				break
			}
		}

		if err := shipments.UpdateStatus(ctx, created.ID, 6); err != nil {
			t.Fatalf("update to returned: %v", err)
		}
		if event, ok := receiveEvent(t, sub, 2*time.Second); ok {
			t.Fatalf("expected no delivery after release, got %+v", event)
		}
	})
}
