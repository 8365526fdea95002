package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DraftError explains why a specification of a draft could not be
// resolved, decoded, or merged.
type DraftError struct {
	CatalogName string `json:"catalog_name" db:"catalog_name"`
	Scope       string `json:"scope,omitempty" db:"scope"`
	Detail      string `json:"detail" db:"detail"`
}

func (e DraftError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s (%s): %s", e.CatalogName, e.Scope, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.CatalogName, e.Detail)
}

// ExtendCatalog decodes resolved specifications into the catalog.
// Every spec is attempted and one DraftError is returned per spec that fails
// to decode; nothing is added for a spec that fails.
func ExtendCatalog(cat *Catalog, resolved []ResolvedSpec) []DraftError {
	var errs []DraftError

	for _, r := range resolved {
		if err := decodeInto(cat, r); err != nil {
			errs = append(errs, DraftError{
				CatalogName: r.CatalogName,
				Detail:      fmt.Sprintf("parsing %s %s: %s", r.SpecType, r.CatalogName, err),
			})
		}
	}

	return errs
}

func decodeInto(cat *Catalog, r ResolvedSpec) error {
	switch r.SpecType {
	case SpecTypeCapture:
		var def CaptureDef
		if err := decodeStrict(r.Spec, &def); err != nil {
			return err
		}
		cat.Captures[r.CatalogName] = def
	case SpecTypeCollection:
		var def CollectionDef
		if err := decodeStrict(r.Spec, &def); err != nil {
			return err
		}
		if len(def.Key) == 0 {
			return errors.New("collection key must have at least one location")
		}
		cat.Collections[r.CatalogName] = def
	default:
		return fmt.Errorf("unsupported spec type %q", r.SpecType)
	}
	return nil
}

// decodeStrict rejects unknown fields and trailing content
func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected content after specification")
	}
	return nil
}
