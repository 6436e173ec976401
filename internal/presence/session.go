package presence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionManager finds or creates the open attendance session for a day.
type SessionManager struct {
	store Store
}

// NewSessionManager creates a manager over the given store.
func NewSessionManager(store Store) *SessionManager {
	return &SessionManager{store: store}
}

// EnsureOpenSession returns the id of the open session covering now's date,
// creating one when none exists. Concurrent callers converge on a single
// session: create is best-effort, and on a duplicate the winning row is
// re-queried and adopted.
func (m *SessionManager) EnsureOpenSession(ctx context.Context, now time.Time) (string, error) {
	sess, err := m.store.OpenSessionOn(ctx, now)
	if err != nil {
		return "", transport("session lookup", err)
	}
	if sess != nil {
		return sess.ID, nil
	}

	created, err := m.store.CreateSession(ctx, Session{
		Name:      fmt.Sprintf("General Session - %s", now.UTC().Format("2006-01-02")),
		Status:    SessionOpen,
		StartedAt: now.UTC(),
	})
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return "", transport("session create", err)
	}

	// Lost the create race; the winner's session must exist now.
	sess, err = m.store.OpenSessionOn(ctx, now)
	if err != nil {
		return "", transport("session lookup", err)
	}
	if sess == nil {
		return "", transport("session create", errors.New("open session vanished after conflict"))
	}
	return sess.ID, nil
}
