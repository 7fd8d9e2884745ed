package service

import (
	"fmt"

	"slotter/internal/models"
)

// ProviderDirectory is the config-backed provider registry. The set of
// providers is fixed at startup; lookups are read-only and safe for
// concurrent use.
type ProviderDirectory struct {
	byID map[int64]*models.Provider
	all  []*models.Provider
}

func NewProviderDirectory(providers []models.Provider) *ProviderDirectory {
	d := &ProviderDirectory{byID: make(map[int64]*models.Provider, len(providers))}
	for i := range providers {
		p := providers[i]
		d.byID[p.ID] = &p
		d.all = append(d.all, &p)
	}
	return d
}

func (d *ProviderDirectory) GetProvider(id int64) (*models.Provider, error) {
	p, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("provider %d not found", id)
	}
	return p, nil
}

func (d *ProviderDirectory) ActiveProviders() []*models.Provider {
	var active []*models.Provider
	for _, p := range d.all {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active
}
