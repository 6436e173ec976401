package kid

import (
	"context"

	"kidspresence/internal/bus"
)

// Service wraps a Registry with the cross-screen update signal so other
// surfaces refresh after any roster mutation.
type Service struct {
	reg     Registry
	signals *bus.Bus
}

// NewService creates a kid service. signals may be nil.
func NewService(reg Registry, signals *bus.Bus) *Service {
	return &Service{reg: reg, signals: signals}
}

// Create registers a new kid owned by the guardian.
func (s *Service) Create(ctx context.Context, k Kid) (Kid, error) {
	created, err := s.reg.Create(ctx, k)
	if err != nil {
		return Kid{}, err
	}
	s.publish()
	return created, nil
}

// Update edits a kid's display attributes. Identity and ownership are
// immutable; the registry enforces both.
func (s *Service) Update(ctx context.Context, k Kid) (Kid, error) {
	updated, err := s.reg.Update(ctx, k)
	if err != nil {
		return Kid{}, err
	}
	s.publish()
	return updated, nil
}

// Delete removes a kid owned by the guardian.
func (s *Service) Delete(ctx context.Context, id, guardianID string) error {
	if err := s.reg.Delete(ctx, id, guardianID); err != nil {
		return err
	}
	s.publish()
	return nil
}

// Get returns a kid by id.
func (s *Service) Get(ctx context.Context, id string) (Kid, error) {
	return s.reg.Get(ctx, id)
}

// ListByGuardian returns the guardian's kids.
func (s *Service) ListByGuardian(ctx context.Context, guardianID string) ([]Kid, error) {
	return s.reg.ListByGuardian(ctx, guardianID)
}

func (s *Service) publish() {
	if s.signals != nil {
		s.signals.Publish(bus.KidsUpdated)
	}
}
