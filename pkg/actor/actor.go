// Package actor provides a universal pattern for identifying the user or
// system performing actions.
//
// This package is used for:
// - Audit logging (who performed an action)
// - Branch-level access checks (which branches the actor may act on)
// - Privileged operations (permission strings such as "inventory.disposal.undo")
package actor

import (
	"context"
	"strings"
)

// Actor represents the entity performing an action in the system.
// A nil Actor means a system operation (scheduled sweeps, migrations)
// and is exempt from branch-access checks.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	// Email is the actor's email address
	Email string `json:"email"`

	// BranchIDs is the set of branch IDs the actor may act on, as resolved
	// by the identity service. An entry of "*" grants access to all branches.
	BranchIDs []string `json:"branch_ids"`

	// Permissions is the actor's permission set. Supports wildcards:
	// "*" grants everything, "inventory.*" grants all inventory actions.
	Permissions []string `json:"permissions"`
}

// CanAccessBranch reports whether the actor may act on the given branch.
func (a *Actor) CanAccessBranch(branchID string) bool {
	if a == nil {
		return true // system caller
	}
	for _, b := range a.BranchIDs {
		if b == "*" || b == branchID {
			return true
		}
	}
	return false
}

// HasPermission reports whether the actor holds the required permission.
// Wildcard entries like "inventory.*" match any "inventory." prefix.
func (a *Actor) HasPermission(required string) bool {
	if a == nil {
		return true // system caller
	}
	for _, p := range a.Permissions {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// UserID returns the actor's ID, or "system" for a nil actor. Used for
// audit records where a non-empty actor id is required.
func (a *Actor) UserID() string {
	if a == nil || a.ID == "" {
		return "system"
	}
	return a.ID
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}
