// Package discover merges the output of a connector discovery into the
// capture and collection specifications a user already has.
package discover

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/discover-agent/internal/catalog"
)

// Binding is one resource reported by a connector's discovery output
type Binding struct {
	RecommendedName string          `json:"recommendedName"`
	ResourceConfig  json.RawMessage `json:"resourceConfig"`
	DocumentSchema  json.RawMessage `json:"documentSchema"`
	Key             []string        `json:"key"`
	Disable         bool            `json:"disable,omitempty"`
}

type response struct {
	Bindings []Binding `json:"bindings"`
}

// ParseResponse decodes discovery output and builds the endpoint of the
// discovered capture from the job's image and raw endpoint configuration.
func ParseResponse(endpointConfig json.RawMessage, imageName, imageTag string, output []byte) (catalog.CaptureEndpoint, []Binding, error) {
	var resp response
	if err := json.Unmarshal(output, &resp); err != nil {
		return catalog.CaptureEndpoint{}, nil, fmt.Errorf("decoding discover response: %w", err)
	}

	for i, b := range resp.Bindings {
		if b.RecommendedName == "" {
			return catalog.CaptureEndpoint{}, nil, fmt.Errorf("discovered binding %d has an empty recommendedName", i)
		}
		if !isObject(b.ResourceConfig) {
			return catalog.CaptureEndpoint{}, nil, fmt.Errorf("discovered binding %q: resourceConfig must be an object", b.RecommendedName)
		}
		if len(b.DocumentSchema) == 0 {
			return catalog.CaptureEndpoint{}, nil, fmt.Errorf("discovered binding %q is missing documentSchema", b.RecommendedName)
		}
	}

	if !json.Valid(endpointConfig) {
		return catalog.CaptureEndpoint{}, nil, fmt.Errorf("endpoint config is not valid JSON")
	}

	endpoint := catalog.CaptureEndpoint{
		Connector: &catalog.ConnectorConfig{
			Image:  imageName + imageTag,
			Config: endpointConfig,
		},
	}

	return endpoint, resp.Bindings, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
