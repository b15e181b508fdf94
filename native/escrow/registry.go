package escrow

import (
	"fmt"
	"sync"

	"disputepay/core/events"
)

// Registry tracks the owner, the single resolver and the admin whitelist,
// and answers whether a principal is allowed to perform a given action. The
// owner is fixed at construction, is always an admin and can never be
// removed. The resolver defaults to the owner and is reassignable only by
// the owner.
type Registry struct {
	mu       sync.RWMutex
	owner    Address
	resolver Address
	admins   map[Address]struct{}
	emitter  events.Emitter
}

// NewRegistry creates a registry rooted at the given owner principal.
func NewRegistry(owner Address) (*Registry, error) {
	if owner == (Address{}) {
		return nil, fmt.Errorf("escrow registry: owner must not be empty")
	}
	return &Registry{
		owner:    owner,
		resolver: owner,
		admins:   map[Address]struct{}{owner: {}},
		emitter:  events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Owner returns the owner principal.
func (r *Registry) Owner() Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Resolver returns the current resolver principal.
func (r *Registry) Resolver() Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolver
}

// IsAdmin reports whether the principal is in the admin set.
func (r *Registry) IsAdmin(p Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[p]
	return ok
}

// CanResolve reports whether the principal may adjudicate disputes. The
// resolver is always functionally privileged even when not separately in the
// admin set.
func (r *Registry) CanResolve(p Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p == r.resolver {
		return true
	}
	_, ok := r.admins[p]
	return ok
}

// Admins returns the admin set in unspecified order.
func (r *Registry) Admins() []Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Address, 0, len(r.admins))
	for admin := range r.admins {
		out = append(out, admin)
	}
	return out
}

// UpdateResolver reassigns the resolver. Only the owner may call this, and
// the new resolver must not be the empty principal. Resolver and admin set
// stay independent: reassignment neither grants nor revokes admin status.
func (r *Registry) UpdateResolver(caller, newResolver Address) error {
	const op = "updateResolver"
	r.mu.Lock()
	if caller != r.owner {
		r.mu.Unlock()
		return failf(KindUnauthorized, op, "caller %x is not the owner", caller)
	}
	if newResolver == (Address{}) {
		r.mu.Unlock()
		return failf(KindInvalidArgument, op, "resolver must not be empty")
	}
	old := r.resolver
	r.resolver = newResolver
	emitter := r.emitter
	r.mu.Unlock()
	emitter.Emit(NewResolverUpdatedEvent(old, newResolver))
	return nil
}

// AddAdmin adds a principal to the admin set. Any admin may call this.
func (r *Registry) AddAdmin(caller, principal Address) error {
	const op = "addAdmin"
	r.mu.Lock()
	if _, ok := r.admins[caller]; !ok {
		r.mu.Unlock()
		return failf(KindUnauthorized, op, "caller %x is not an admin", caller)
	}
	if principal == (Address{}) {
		r.mu.Unlock()
		return failf(KindInvalidArgument, op, "admin principal must not be empty")
	}
	if _, ok := r.admins[principal]; ok {
		r.mu.Unlock()
		return failf(KindAlreadyExists, op, "principal %x is already an admin", principal)
	}
	r.admins[principal] = struct{}{}
	emitter := r.emitter
	r.mu.Unlock()
	emitter.Emit(NewAdminAddedEvent(principal))
	return nil
}

// RemoveAdmin removes a principal from the admin set. Any admin may call
// this; the owner can never be removed.
func (r *Registry) RemoveAdmin(caller, principal Address) error {
	const op = "removeAdmin"
	r.mu.Lock()
	if _, ok := r.admins[caller]; !ok {
		r.mu.Unlock()
		return failf(KindUnauthorized, op, "caller %x is not an admin", caller)
	}
	if principal == r.owner {
		r.mu.Unlock()
		return failf(KindForbidden, op, "owner cannot be removed from admins")
	}
	if _, ok := r.admins[principal]; !ok {
		r.mu.Unlock()
		return failf(KindNotFound, op, "principal %x is not an admin", principal)
	}
	delete(r.admins, principal)
	emitter := r.emitter
	r.mu.Unlock()
	emitter.Emit(NewAdminRemovedEvent(principal))
	return nil
}
