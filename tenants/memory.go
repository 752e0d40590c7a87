package tenants

import (
	"sort"
	"sync"

	apperrors "github.com/collabverse/authbridge/internal/errors"
)

var _ Repo = (*MemoryRepo)(nil)

// MemoryRepo is the in-process tenant registry. The registry is read-mostly:
// it is populated once at startup from the tenants file and only mutated by
// administrative upserts.
type MemoryRepo struct {
	tenants map[string]*Tenant
	lock    sync.RWMutex
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tenants: make(map[string]*Tenant)}
}

func (r *MemoryRepo) Upsert(tenantData *Tenant) error {
	if tenantData == nil || tenantData.ID == "" {
		return apperrors.Validation("tenant id is required")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.tenants[tenantData.ID] = tenantData
	return nil
}

func (r *MemoryRepo) Delete(tenantID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.tenants, tenantID)
	return nil
}

func (r *MemoryRepo) Get(tenantID string) (*Tenant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, apperrors.NotFound("unknown tenant").With("tenantId", tenantID)
	}
	return t, nil
}

func (r *MemoryRepo) List(offset, limit int) ([]*Tenant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	all := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}
