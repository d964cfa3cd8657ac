package user

import "context"

// Lister exposes the read side of the user directory used during authentication.
type Lister interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// MemoryStore implements Lister with an in-memory slice, handy for tests and
// offline kiosks without a database.
type MemoryStore struct {
	items []User
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users. IDs
// left at zero are assigned in slice order starting at 1.
func NewMemoryStore(items []User) *MemoryStore {
	copied := append([]User(nil), items...)
	for i := range copied {
		if copied[i].ID == 0 {
			copied[i].ID = int64(i + 1)
		}
	}
	return &MemoryStore{items: copied}
}

// ListUsers returns the records in insertion order.
func (s *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]User(nil), s.items...), nil
}
