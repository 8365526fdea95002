package discover

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/discover-agent/internal/catalog"
)

// MergeCapture merges discovered bindings into the existing capture, if any.
//
// A discovered binding whose resource identity matches an existing binding
// keeps that binding, with the discovered resource configuration overlaid on
// the existing one. When the connector declares no resource path pointers,
// an existing binding whose resource contains every key and value of the
// discovered one matches and is kept unchanged. An unmatched binding becomes a new binding targeting
// "<capture prefix>/<recommended name>", unless updateOnly is set, in which
// case it is dropped. The returned bindings align one-to-one with the merged
// capture's bindings.
func MergeCapture(
	captureName string,
	endpoint catalog.CaptureEndpoint,
	discovered []Binding,
	existing *catalog.CaptureDef,
	updateOnly bool,
	resourcePathPointers []string,
) (catalog.CaptureDef, []Binding, error) {
	var merged catalog.CaptureDef
	var existingBindings []catalog.CaptureBinding

	if existing != nil {
		merged = catalog.CaptureDef{
			AutoDiscover: existing.AutoDiscover,
			Interval:     existing.Interval,
			Shards:       existing.Shards,
		}
		existingBindings = existing.Bindings
	}
	merged.Endpoint = endpoint
	merged.Bindings = []catalog.CaptureBinding{}

	// Without pointers, an existing binding matches when its resource
	// contains everything the connector reports, and is kept verbatim.
	legacy := len(resourcePathPointers) == 0

	// Identities of existing bindings. A binding whose resource can't be
	// evaluated simply never matches.
	existingPaths := make([]string, len(existingBindings))
	existingValues := make([]any, len(existingBindings))
	existingOK := make([]bool, len(existingBindings))
	for i, b := range existingBindings {
		if legacy {
			v, err := decodeValue(b.Resource)
			existingValues[i], existingOK[i] = v, err == nil
			continue
		}
		path, err := ResourcePath(resourcePathPointers, b.Resource)
		existingPaths[i], existingOK[i] = path, err == nil
	}

	prefix := collectionPrefix(captureName)
	filtered := make([]Binding, 0, len(discovered))

	for _, d := range discovered {
		path, err := ResourcePath(resourcePathPointers, d.ResourceConfig)
		if err != nil {
			return catalog.CaptureDef{}, nil, fmt.Errorf("discovered binding %q: %w", d.RecommendedName, err)
		}

		var discoveredValue any
		if legacy {
			if discoveredValue, err = decodeValue(d.ResourceConfig); err != nil {
				return catalog.CaptureDef{}, nil, fmt.Errorf("discovered binding %q: %w: %v", d.RecommendedName, ErrInvalidResource, err)
			}
		}

		match := -1
		for i := range existingBindings {
			if !existingOK[i] {
				continue
			}
			if legacy && resourceContains(existingValues[i], discoveredValue) ||
				!legacy && existingPaths[i] == path {
				match = i
				break
			}
		}

		if match >= 0 {
			binding := existingBindings[match]
			if !legacy {
				resource, err := mergeResource(binding.Resource, d.ResourceConfig)
				if err != nil {
					return catalog.CaptureDef{}, nil, fmt.Errorf("%w: binding %q: %v", ErrInvalidResource, d.RecommendedName, err)
				}
				binding.Resource = resource
			}
			merged.Bindings = append(merged.Bindings, binding)
		} else if updateOnly {
			continue
		} else {
			merged.Bindings = append(merged.Bindings, catalog.CaptureBinding{
				Resource: cloneRaw(d.ResourceConfig),
				Disable:  d.Disable,
				Target:   prefix + d.RecommendedName,
			})
		}
		filtered = append(filtered, d)
	}

	return merged, filtered, nil
}

// MergeCollections updates or creates the collection of each target from the
// discovered binding at the same position. Existing collections keep every
// field except their key and (write) schema.
func MergeCollections(
	discovered []Binding,
	existing map[string]catalog.CollectionDef,
	targets []string,
) map[string]catalog.CollectionDef {
	out := make(map[string]catalog.CollectionDef, len(existing)+len(targets))
	for name, def := range existing {
		out[name] = def
	}

	for i, target := range targets {
		if i >= len(discovered) {
			break
		}
		d := discovered[i]
		key := append([]string(nil), d.Key...)

		if def, ok := out[target]; ok {
			def.Key = key
			if len(def.ReadSchema) != 0 {
				def.WriteSchema = cloneRaw(d.DocumentSchema)
			} else {
				def.Schema = cloneRaw(d.DocumentSchema)
			}
			out[target] = def
			continue
		}

		out[target] = catalog.CollectionDef{
			Schema: cloneRaw(d.DocumentSchema),
			Key:    key,
		}
	}

	return out
}

func collectionPrefix(captureName string) string {
	if i := strings.LastIndex(captureName, "/"); i >= 0 {
		return captureName[:i+1]
	}
	return ""
}

// targetsOf lists the target collection of every binding, in order
func targetsOf(capture catalog.CaptureDef) []string {
	targets := make([]string, len(capture.Bindings))
	for i, b := range capture.Bindings {
		targets[i] = b.Target
	}
	return targets
}

// cloneRaw copies raw JSON so merged specs don't share memory with the discovery output
func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
