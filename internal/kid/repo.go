package kid

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists kids in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new kid.
func (r *Repository) Create(ctx context.Context, k Kid) (Kid, error) {
	if k.Name == "" {
		return Kid{}, ErrNameRequired
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO kids (id, guardian_id, name, photo_url, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, k.ID, k.GuardianID, k.Name, k.PhotoURL, k.Notes)
	if err := row.Scan(&k.CreatedAt); err != nil {
		return Kid{}, err
	}
	return k, nil
}

// Update edits a kid's display attributes; ownership is part of the filter.
func (r *Repository) Update(ctx context.Context, k Kid) (Kid, error) {
	if k.Name == "" {
		return Kid{}, ErrNameRequired
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE kids
		SET name = $3, photo_url = $4, notes = $5
		WHERE id = $1 AND guardian_id = $2
	`, k.ID, k.GuardianID, k.Name, k.PhotoURL, k.Notes)
	if err != nil {
		return Kid{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Kid{}, r.missingOrForeign(ctx, k.ID)
	}
	return r.Get(ctx, k.ID)
}

// Delete removes a kid owned by the guardian.
func (r *Repository) Delete(ctx context.Context, id, guardianID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM kids WHERE id = $1 AND guardian_id = $2
	`, id, guardianID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrForeign(ctx, id)
	}
	return nil
}

// Get returns a single kid by id.
func (r *Repository) Get(ctx context.Context, id string) (Kid, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, guardian_id, name, photo_url, notes, created_at
		FROM kids WHERE id = $1
	`, id)
	var k Kid
	err := row.Scan(&k.ID, &k.GuardianID, &k.Name, &k.PhotoURL, &k.Notes, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Kid{}, ErrNotFound
	}
	return k, err
}

// ListByGuardian returns the guardian's kids ordered by name.
func (r *Repository) ListByGuardian(ctx context.Context, guardianID string) ([]Kid, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, guardian_id, name, photo_url, notes, created_at
		FROM kids WHERE guardian_id = $1
		ORDER BY name
	`, guardianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Kid
	for rows.Next() {
		var k Kid
		if err := rows.Scan(&k.ID, &k.GuardianID, &k.Name, &k.PhotoURL, &k.Notes, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *Repository) missingOrForeign(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrNotOwner
}

// MemRegistry is an in-memory Registry for dev and tests.
type MemRegistry struct {
	mu   sync.Mutex
	kids map[string]Kid
}

// NewMemRegistry creates an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{kids: make(map[string]Kid)}
}

// Create inserts a new kid.
func (m *MemRegistry) Create(ctx context.Context, k Kid) (Kid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.Name == "" {
		return Kid{}, ErrNameRequired
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	k.CreatedAt = time.Now().UTC()
	m.kids[k.ID] = k
	return k, nil
}

// Update edits an owned kid.
func (m *MemRegistry) Update(ctx context.Context, k Kid) (Kid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k.Name == "" {
		return Kid{}, ErrNameRequired
	}
	existing, ok := m.kids[k.ID]
	if !ok {
		return Kid{}, ErrNotFound
	}
	if existing.GuardianID != k.GuardianID {
		return Kid{}, ErrNotOwner
	}
	existing.Name = k.Name
	existing.PhotoURL = k.PhotoURL
	existing.Notes = k.Notes
	m.kids[k.ID] = existing
	return existing, nil
}

// Delete removes an owned kid.
func (m *MemRegistry) Delete(ctx context.Context, id, guardianID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.kids[id]
	if !ok {
		return ErrNotFound
	}
	if existing.GuardianID != guardianID {
		return ErrNotOwner
	}
	delete(m.kids, id)
	return nil
}

// Get returns a kid by id.
func (m *MemRegistry) Get(ctx context.Context, id string) (Kid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kids[id]
	if !ok {
		return Kid{}, ErrNotFound
	}
	return k, nil
}

// ListByGuardian returns the guardian's kids.
func (m *MemRegistry) ListByGuardian(ctx context.Context, guardianID string) ([]Kid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Kid
	for _, k := range m.kids {
		if k.GuardianID == guardianID {
			out = append(out, k)
		}
	}
	return out, nil
}
