// Package kid holds the guardian-owned child registry. A kid belongs to the
// guardian who created it; identity is immutable once created and only the
// owner may edit or delete the entry.
package kid

import (
	"context"
	"errors"
	"time"
)

// Kid is a registered child with its display attributes.
type Kid struct {
	ID         string    `json:"id"`
	GuardianID string    `json:"guardian_id"`
	Name       string    `json:"name"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	// ErrNotFound is returned for missing kids.
	ErrNotFound = errors.New("kid not found")
	// ErrNotOwner is returned when a guardian touches a kid they don't own.
	ErrNotOwner = errors.New("not the kid's guardian")
	// ErrNameRequired is returned when a kid is saved without a name.
	ErrNameRequired = errors.New("kid name required")
)

// Registry persists kids.
type Registry interface {
	Create(ctx context.Context, k Kid) (Kid, error)
	Update(ctx context.Context, k Kid) (Kid, error)
	Delete(ctx context.Context, id, guardianID string) error
	Get(ctx context.Context, id string) (Kid, error)
	ListByGuardian(ctx context.Context, guardianID string) ([]Kid, error)
}
