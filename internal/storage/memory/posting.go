package memory

import (
	"context"

	"github.com/girderhq/girder/internal/posting"
	"github.com/girderhq/girder/internal/shared"
)

// MapResolver implements posting.MapResolver over the store.
type MapResolver struct {
	store *Store
}

// NewMapResolver returns the in-memory resolver.
func NewMapResolver(store *Store) *MapResolver {
	return &MapResolver{store: store}
}

func (r *MapResolver) Resolve(_ context.Context, companyID int64) (posting.AccountMap, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.mappings[companyID]
	if !ok || m.APControl == 0 || m.ARControl == 0 || m.Cash == 0 || m.Revenue == 0 {
		return posting.AccountMap{}, shared.Referentialf("posting: account mappings incomplete for company %d", companyID)
	}
	return m, nil
}
