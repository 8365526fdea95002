package discover

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/go-openapi/jsonpointer"
)

// ErrInvalidResource is returned when a resource configuration cannot be
// evaluated against the connector's resource path pointers.
var ErrInvalidResource = errors.New("invalid resource configuration")

// ResourcePath returns a comparable identity for a resource configuration:
// the canonical encoding of the values found at each pointer. A location that
// does not exist contributes null. With no pointers, the whole configuration
// is the identity.
func ResourcePath(pointers []string, resource json.RawMessage) (string, error) {
	doc, err := decodeValue(resource)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}

	if len(pointers) == 0 {
		return encodeValue(doc)
	}
	if _, ok := doc.(map[string]any); !ok {
		return "", fmt.Errorf("%w: resource is not an object", ErrInvalidResource)
	}

	values := make([]any, 0, len(pointers))
	for _, ptr := range pointers {
		v, err := query(ptr, doc)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidResource, err)
		}
		values = append(values, v)
	}

	return encodeValue(values)
}

func query(ptr string, doc any) (any, error) {
	p, err := jsonpointer.New(ptr)
	if err != nil {
		return nil, fmt.Errorf("resource path pointer %q: %w", ptr, err)
	}

	v := doc
	for _, token := range p.DecodedTokens() {
		switch node := v.(type) {
		case nil:
			return nil, nil
		case map[string]any:
			v = node[token]
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, nil
			}
			v = node[idx]
		default:
			return nil, fmt.Errorf("pointer %q traverses a scalar value", ptr)
		}
	}
	return v, nil
}

// mergeResource overlays a discovered resource configuration onto an existing
// one. Objects merge key by key; any other discovered value replaces the
// existing value. Keys only present in the existing configuration survive.
func mergeResource(existing, discovered json.RawMessage) (json.RawMessage, error) {
	base, err := decodeValue(existing)
	if err != nil {
		return nil, fmt.Errorf("decoding existing resource: %w", err)
	}
	patch, err := decodeValue(discovered)
	if err != nil {
		return nil, fmt.Errorf("decoding discovered resource: %w", err)
	}

	merged, err := encodeValue(mergeValue(base, patch))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(merged), nil
}

func mergeValue(base, patch any) any {
	baseObj, ok1 := base.(map[string]any)
	patchObj, ok2 := patch.(map[string]any)
	if !ok1 || !ok2 {
		return patch
	}

	out := make(map[string]any, len(baseObj)+len(patchObj))
	for k, v := range baseObj {
		out[k] = v
	}
	for k, v := range patchObj {
		if prev, ok := out[k]; ok {
			out[k] = mergeValue(prev, v)
		} else {
			out[k] = v
		}
	}
	return out
}

// resourceContains reports whether every key and value of discovered is
// present in existing. Non-object values must be equal.
func resourceContains(existing, discovered any) bool {
	discoveredObj, ok := discovered.(map[string]any)
	if !ok {
		return reflect.DeepEqual(existing, discovered)
	}
	existingObj, ok := existing.(map[string]any)
	if !ok {
		return false
	}
	for k, dv := range discoveredObj {
		ev, ok := existingObj[k]
		if !ok || !resourceContains(ev, dv) {
			return false
		}
	}
	return true
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// encodeValue produces sorted-key JSON
func encodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
