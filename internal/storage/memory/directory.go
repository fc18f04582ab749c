package memory

import "context"

// Directory implements directory.Directory over the store's registered
// vendors and clients.
type Directory struct {
	store *Store
}

// NewDirectory returns the in-memory directory.
func NewDirectory(store *Store) *Directory {
	return &Directory{store: store}
}

func (d *Directory) VendorExists(_ context.Context, companyID, vendorID int64) (bool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.store.vendors[scopedKey(companyID, vendorID)], nil
}

func (d *Directory) ClientExists(_ context.Context, companyID, clientID int64) (bool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.store.clients[scopedKey(companyID, clientID)], nil
}
