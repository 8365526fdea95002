// Package catalog holds the typed capture and collection specifications that
// a discover merges into a draft.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SpecType is the kind of a catalog specification
type SpecType string

const (
	SpecTypeCapture    SpecType = "capture"
	SpecTypeCollection SpecType = "collection"
)

// Catalog is an ephemeral set of specifications keyed by catalog name.
// One is built per discover job and never shared.
type Catalog struct {
	Captures    map[string]CaptureDef    `json:"captures,omitempty"`
	Collections map[string]CollectionDef `json:"collections,omitempty"`
}

// CaptureDef is a capture specification
type CaptureDef struct {
	AutoDiscover *AutoDiscover    `json:"autoDiscover,omitempty"`
	Endpoint     CaptureEndpoint  `json:"endpoint"`
	Bindings     []CaptureBinding `json:"bindings"`
	Interval     string           `json:"interval,omitempty"`
	Shards       json.RawMessage  `json:"shards,omitempty"`
}

// AutoDiscover controls periodic re-discovery of a capture
type AutoDiscover struct {
	AddNewBindings                bool `json:"addNewBindings,omitempty"`
	EvolveIncompatibleCollections bool `json:"evolveIncompatibleCollections,omitempty"`
}

// CaptureEndpoint is the connector a capture runs
type CaptureEndpoint struct {
	Connector *ConnectorConfig `json:"connector,omitempty"`
	Local     json.RawMessage  `json:"local,omitempty"`
}

// ConnectorConfig is an image reference plus its opaque endpoint configuration
type ConnectorConfig struct {
	Image  string          `json:"image"`
	Config json.RawMessage `json:"config"`
}

// CaptureBinding binds one external resource to a target collection
type CaptureBinding struct {
	Resource json.RawMessage `json:"resource"`
	Disable  bool            `json:"disable,omitempty"`
	Target   string          `json:"target"`
	Backfill uint32          `json:"backfill,omitempty"`
}

// CollectionDef is a collection specification. A collection either has a
// single Schema, or a split WriteSchema / ReadSchema pair.
type CollectionDef struct {
	Schema      json.RawMessage            `json:"schema,omitempty"`
	WriteSchema json.RawMessage            `json:"writeSchema,omitempty"`
	ReadSchema  json.RawMessage            `json:"readSchema,omitempty"`
	Key         []string                   `json:"key"`
	Projections map[string]json.RawMessage `json:"projections,omitempty"`
	Journals    json.RawMessage            `json:"journals,omitempty"`
	Derive      json.RawMessage            `json:"derive,omitempty"`
}

// ResolvedSpec is the effective current definition of a catalog name:
// the draft version if one exists, otherwise the live one.
type ResolvedSpec struct {
	CatalogName string          `db:"catalog_name"`
	SpecType    SpecType        `db:"spec_type"`
	Spec        json.RawMessage `db:"spec"`
}

// DraftSpec is one encoded specification ready to be written into a draft
type DraftSpec struct {
	CatalogName string
	SpecType    SpecType
	Spec        json.RawMessage
}

// New returns an empty Catalog
func New() *Catalog {
	return &Catalog{
		Captures:    map[string]CaptureDef{},
		Collections: map[string]CollectionDef{},
	}
}

// SpecCount returns the number of captures and collections in the catalog
func (c *Catalog) SpecCount() int {
	return len(c.Captures) + len(c.Collections)
}

// Contains reports whether name is a capture or collection of the catalog
func (c *Catalog) Contains(name string) bool {
	if _, ok := c.Captures[name]; ok {
		return true
	}
	_, ok := c.Collections[name]
	return ok
}

// DraftSpecs encodes every specification of the catalog, ordered by type
// then name so repeated runs produce identical output.
func (c *Catalog) DraftSpecs() ([]DraftSpec, error) {
	specs := make([]DraftSpec, 0, c.SpecCount())

	for _, name := range sortedKeys(c.Captures) {
		raw, err := json.Marshal(c.Captures[name])
		if err != nil {
			return nil, fmt.Errorf("encoding capture %s: %w", name, err)
		}
		specs = append(specs, DraftSpec{CatalogName: name, SpecType: SpecTypeCapture, Spec: raw})
	}

	for _, name := range sortedKeys(c.Collections) {
		raw, err := json.Marshal(c.Collections[name])
		if err != nil {
			return nil, fmt.Errorf("encoding collection %s: %w", name, err)
		}
		specs = append(specs, DraftSpec{CatalogName: name, SpecType: SpecTypeCollection, Spec: raw})
	}

	return specs, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
