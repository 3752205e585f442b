package membership

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
)

var ErrMemberNotFound = errors.New("member not found")

// Store persists member records. store/sqlite implements it for production.
type Store interface {
	SaveMember(ctx context.Context, m Member) error

	// Member returns (nil, nil) when id is unknown.
	Member(ctx context.Context, id engine.UserID) (*Member, error)

	// Members returns every member ordered by name.
	Members(ctx context.Context) ([]Member, error)
}

// =============================================================================
// DIRECTORY - In-memory Store
// =============================================================================

type Directory struct {
	mu      sync.RWMutex
	members map[engine.UserID]Member
}

func NewDirectory(members ...Member) *Directory {
	d := &Directory{members: make(map[engine.UserID]Member)}
	for _, m := range members {
		d.members[m.ID] = m
	}
	return d
}

var _ Store = (*Directory)(nil)

func (d *Directory) SaveMember(_ context.Context, m Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
	return nil
}

func (d *Directory) Member(_ context.Context, id engine.UserID) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (d *Directory) Members(_ context.Context) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]Member, 0, len(d.members))
	for _, m := range d.members {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
