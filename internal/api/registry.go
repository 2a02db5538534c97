package api

import (
	"fmt"

	"github.com/omics-dash/server/internal/engine"
)

// DatasetInfo describes one selectable dataset for the API response.
type DatasetInfo struct {
	ID          string   `json:"id"`
	Kingdom     string   `json:"kingdom"`
	Rank        string   `json:"rank"`
	Projections []string `json:"projections"`
	Contrasts   []string `json:"contrasts"`
}

// DatasetRegistry holds the configured kingdoms in config order.
type DatasetRegistry struct {
	kingdoms       map[string]engine.Kingdom
	defaultKingdom string
	kingdomOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultKingdom string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		kingdoms:       make(map[string]engine.Kingdom),
		defaultKingdom: defaultKingdom,
		kingdomOrder:   order,
		title:          title,
	}
}

// Register adds a kingdom.
func (r *DatasetRegistry) Register(kingdom string, k engine.Kingdom) {
	r.kingdoms[kingdom] = k
}

// Kingdoms returns the registered kingdoms keyed by id.
func (r *DatasetRegistry) Kingdoms() map[string]engine.Kingdom {
	return r.kingdoms
}

// Kingdom returns a registered kingdom.
func (r *DatasetRegistry) Kingdom(id string) (engine.Kingdom, bool) {
	k, ok := r.kingdoms[id]
	return k, ok
}

// DefaultDataset returns the first rank of the default kingdom.
func (r *DatasetRegistry) DefaultDataset() engine.DatasetKey {
	k, ok := r.Kingdom(r.defaultKingdom)
	if !ok || len(k.Ranks) == 0 {
		return engine.DatasetKey{}
	}
	return engine.DatasetKey{Kingdom: r.defaultKingdom, Rank: k.Ranks[0]}
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Multi-omics Explorer"
}

// Resolve checks a dataset key against the registry. A key without a rank
// only needs a known kingdom.
func (r *DatasetRegistry) Resolve(key engine.DatasetKey) error {
	k, ok := r.Kingdom(key.Kingdom)
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrUnknownDataset, key.Kingdom)
	}
	if key.Rank == "" {
		return nil
	}
	for _, rank := range k.Ranks {
		if rank == key.Rank {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", engine.ErrUnknownDataset, key)
}

// HasContrast reports whether the kingdom declares a contrast.
func (r *DatasetRegistry) HasContrast(kingdom string, c engine.Contrast) bool {
	k, _ := r.Kingdom(kingdom)
	for _, declared := range k.Contrasts {
		if declared == c.String() {
			return true
		}
	}
	return false
}

// Datasets returns one entry per kingdom and rank in config order.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.kingdomOrder))
	for _, id := range r.kingdomOrder {
		k, ok := r.Kingdom(id)
		if !ok {
			continue
		}
		for _, rank := range k.Ranks {
			infos = append(infos, DatasetInfo{
				ID:          engine.DatasetKey{Kingdom: id, Rank: rank}.String(),
				Kingdom:     id,
				Rank:        rank,
				Projections: k.Projections,
				Contrasts:   k.Contrasts,
			})
		}
	}
	return infos
}
