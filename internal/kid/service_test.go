package kid

import (
	"context"
	"errors"
	"testing"
	"time"

	"kidspresence/internal/bus"
)

func TestMemRegistryCRUD(t *testing.T) {
	reg := NewMemRegistry()
	ctx := context.Background()

	created, err := reg.Create(ctx, Kid{GuardianID: "g1", Name: "Ana", Notes: "peanut allergy"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("create did not stamp identity: %+v", created)
	}

	created.Name = "Ana Maria"
	updated, err := reg.Update(ctx, created)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "Ana Maria" || updated.Notes != "peanut allergy" {
		t.Fatalf("update lost fields: %+v", updated)
	}

	got, err := reg.Get(ctx, created.ID)
	if err != nil || got.Name != "Ana Maria" {
		t.Fatalf("Get: %+v, %v", got, err)
	}

	kids, err := reg.ListByGuardian(ctx, "g1")
	if err != nil || len(kids) != 1 {
		t.Fatalf("ListByGuardian: %v kids, %v", len(kids), err)
	}

	if err := reg.Delete(ctx, created.ID, "g1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
}

func TestMemRegistryRejectsEmptyName(t *testing.T) {
	reg := NewMemRegistry()
	ctx := context.Background()

	if _, err := reg.Create(ctx, Kid{GuardianID: "g1"}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("Create: %v", err)
	}

	created, err := reg.Create(ctx, Kid{GuardianID: "g1", Name: "Ana"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created.Name = ""
	if _, err := reg.Update(ctx, created); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("Update: %v", err)
	}
}

func TestMemRegistryEnforcesOwnership(t *testing.T) {
	reg := NewMemRegistry()
	ctx := context.Background()

	created, err := reg.Create(ctx, Kid{GuardianID: "g1", Name: "Ana"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	foreign := created
	foreign.GuardianID = "g2"
	if _, err := reg.Update(ctx, foreign); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign update: %v", err)
	}
	if err := reg.Delete(ctx, created.ID, "g2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign delete: %v", err)
	}
	if err := reg.Delete(ctx, "missing", "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing delete: %v", err)
	}
}

func TestServiceSignalsRosterChanges(t *testing.T) {
	signals := bus.New()
	defer signals.Close()
	svc := NewService(NewMemRegistry(), signals)
	ctx := context.Background()

	updates, cancel := signals.Subscribe(bus.KidsUpdated)
	defer cancel()

	expectSignal := func(op string) {
		t.Helper()
		select {
		case <-updates:
		case <-time.After(time.Second):
			t.Fatalf("%s published no roster signal", op)
		}
	}

	created, err := svc.Create(ctx, Kid{GuardianID: "g1", Name: "Ana"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	expectSignal("create")

	created.Notes = "picked up by grandma on fridays"
	if _, err := svc.Update(ctx, created); err != nil {
		t.Fatalf("Update: %v", err)
	}
	expectSignal("update")

	if err := svc.Delete(ctx, created.ID, "g1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectSignal("delete")

	// Failed mutations stay silent.
	if _, err := svc.Create(ctx, Kid{GuardianID: "g1"}); err == nil {
		t.Fatal("empty-name create succeeded")
	}
	select {
	case <-updates:
		t.Fatal("failed create published a roster signal")
	case <-time.After(50 * time.Millisecond):
	}
}
