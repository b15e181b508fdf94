package escrow

import (
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, Address) {
	t.Helper()
	owner := newTestAddress(0x01)
	registry, err := NewRegistry(owner)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	return registry, owner
}

func TestNewRegistryDefaults(t *testing.T) {
	registry, owner := newTestRegistry(t)

	if registry.Owner() != owner {
		t.Fatalf("unexpected owner")
	}
	if registry.Resolver() != owner {
		t.Fatalf("resolver must default to owner")
	}
	if !registry.IsAdmin(owner) {
		t.Fatalf("owner must start as admin")
	}
	if !registry.CanResolve(owner) {
		t.Fatalf("owner must be able to resolve")
	}
}

func TestNewRegistryRejectsEmptyOwner(t *testing.T) {
	if _, err := NewRegistry(Address{}); err == nil {
		t.Fatalf("expected error for empty owner")
	}
}

func TestUpdateResolver(t *testing.T) {
	registry, owner := newTestRegistry(t)
	resolver := newTestAddress(0x02)

	expectKind(t, registry.UpdateResolver(resolver, resolver), KindUnauthorized)
	expectKind(t, registry.UpdateResolver(owner, Address{}), KindInvalidArgument)

	if err := registry.UpdateResolver(owner, resolver); err != nil {
		t.Fatalf("update resolver: %v", err)
	}
	if registry.Resolver() != resolver {
		t.Fatalf("resolver not updated")
	}
	if !registry.CanResolve(resolver) {
		t.Fatalf("new resolver must be able to resolve")
	}
	if registry.IsAdmin(resolver) {
		t.Fatalf("resolver reassignment must not grant admin status")
	}
	// The outgoing resolver (the owner) keeps resolving through the admin set.
	if !registry.CanResolve(owner) {
		t.Fatalf("owner must keep resolution rights via admin set")
	}
}

func TestAddAdmin(t *testing.T) {
	registry, owner := newTestRegistry(t)
	admin := newTestAddress(0x03)
	outsider := newTestAddress(0x04)

	expectKind(t, registry.AddAdmin(outsider, admin), KindUnauthorized)
	expectKind(t, registry.AddAdmin(owner, Address{}), KindInvalidArgument)
	expectKind(t, registry.AddAdmin(owner, owner), KindAlreadyExists)

	if err := registry.AddAdmin(owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if !registry.IsAdmin(admin) {
		t.Fatalf("admin not added")
	}
	expectKind(t, registry.AddAdmin(owner, admin), KindAlreadyExists)

	// Members may manage the set themselves.
	second := newTestAddress(0x05)
	if err := registry.AddAdmin(admin, second); err != nil {
		t.Fatalf("admin-added admin: %v", err)
	}
}

func TestRemoveAdmin(t *testing.T) {
	registry, owner := newTestRegistry(t)
	admin := newTestAddress(0x03)
	if err := registry.AddAdmin(owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	expectKind(t, registry.RemoveAdmin(newTestAddress(0x09), admin), KindUnauthorized)
	expectKind(t, registry.RemoveAdmin(owner, owner), KindForbidden)
	expectKind(t, registry.RemoveAdmin(owner, newTestAddress(0x0A)), KindNotFound)

	if err := registry.RemoveAdmin(owner, admin); err != nil {
		t.Fatalf("remove admin: %v", err)
	}
	if registry.IsAdmin(admin) {
		t.Fatalf("admin not removed")
	}
	expectKind(t, registry.RemoveAdmin(owner, admin), KindNotFound)

	// The admin set always contains the owner.
	if !registry.IsAdmin(owner) {
		t.Fatalf("owner left the admin set")
	}
}

func TestRegistryEvents(t *testing.T) {
	registry, owner := newTestRegistry(t)
	emitter := &capturingEmitter{}
	registry.SetEmitter(emitter)

	resolver := newTestAddress(0x02)
	admin := newTestAddress(0x03)
	if err := registry.UpdateResolver(owner, resolver); err != nil {
		t.Fatalf("update resolver: %v", err)
	}
	if err := registry.AddAdmin(owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := registry.RemoveAdmin(owner, admin); err != nil {
		t.Fatalf("remove admin: %v", err)
	}

	want := []string{EventTypeResolverUpdated, EventTypeAdminAdded, EventTypeAdminRemoved}
	got := emitter.types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
