package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendCatalog(t *testing.T) {
	tests := []struct {
		name            string
		resolved        []ResolvedSpec
		wantCaptures    []string
		wantCollections []string
		wantErrs        []string
	}{
		{
			name: "capture and collection decode",
			resolved: []ResolvedSpec{
				{
					CatalogName: "aliceCo/dir/source-thingy",
					SpecType:    SpecTypeCapture,
					Spec: json.RawMessage(`{
						"bindings": [{"resource": {"table": "foo"}, "target": "aliceCo/foo"}],
						"endpoint": {"connector": {"config": {"a": 1}, "image": "old/image"}},
						"interval": "10m"
					}`),
				},
				{
					CatalogName: "aliceCo/foo",
					SpecType:    SpecTypeCollection,
					Spec:        json.RawMessage(`{"key": ["/id"], "writeSchema": false, "readSchema": {"const": 1}}`),
				},
			},
			wantCaptures:    []string{"aliceCo/dir/source-thingy"},
			wantCollections: []string{"aliceCo/foo"},
		},
		{
			name: "key encoded as a string",
			resolved: []ResolvedSpec{
				{CatalogName: "aliceCo/bad", SpecType: SpecTypeCollection, Spec: json.RawMessage(`{"key": "invalid"}`)},
			},
			wantErrs: []string{"aliceCo/bad"},
		},
		{
			name: "every failure is reported",
			resolved: []ResolvedSpec{
				{CatalogName: "aliceCo/one", SpecType: SpecTypeCollection, Spec: json.RawMessage(`{"key": 12}`)},
				{CatalogName: "aliceCo/ok", SpecType: SpecTypeCollection, Spec: json.RawMessage(`{"key": ["/k"], "schema": true}`)},
				{CatalogName: "aliceCo/two", SpecType: SpecTypeCollection, Spec: json.RawMessage(`{"key": ["/k"], "unknown": 1}`)},
				{CatalogName: "aliceCo/three", SpecType: SpecTypeCollection, Spec: json.RawMessage(`{"key": []}`)},
			},
			wantCollections: []string{"aliceCo/ok"},
			wantErrs:        []string{"aliceCo/one", "aliceCo/two", "aliceCo/three"},
		},
		{
			name: "unsupported type",
			resolved: []ResolvedSpec{
				{CatalogName: "aliceCo/mat", SpecType: "materialization", Spec: json.RawMessage(`{}`)},
			},
			wantErrs: []string{"aliceCo/mat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := New()
			errs := ExtendCatalog(cat, tt.resolved)

			var names []string
			for _, e := range errs {
				names = append(names, e.CatalogName)
				assert.Empty(t, e.Scope)
			}
			assert.Equal(t, tt.wantErrs, names)

			for _, name := range tt.wantCaptures {
				assert.Contains(t, cat.Captures, name)
			}
			for _, name := range tt.wantCollections {
				assert.Contains(t, cat.Collections, name)
			}
			assert.Equal(t, len(tt.wantCaptures)+len(tt.wantCollections), cat.SpecCount())
		})
	}
}

func TestExtendCatalog_ErrorDetail(t *testing.T) {
	cat := New()
	errs := ExtendCatalog(cat, []ResolvedSpec{
		{CatalogName: "aliceCo/bad", SpecType: SpecTypeCollection, Spec: json.RawMessage(`{"key": "invalid"}`)},
	})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Detail, "parsing collection aliceCo/bad: ")
	assert.Contains(t, errs[0].Detail, "cannot unmarshal string")
	assert.Equal(t, "aliceCo/bad: "+errs[0].Detail, errs[0].Error())
	assert.Empty(t, cat.Collections)
}

func TestCatalog_DraftSpecs(t *testing.T) {
	cat := New()
	cat.Collections["b/coll"] = CollectionDef{Key: []string{"/id"}, Schema: json.RawMessage(`true`)}
	cat.Collections["a/coll"] = CollectionDef{Key: []string{"/id"}, Schema: json.RawMessage(`false`)}
	cat.Captures["a/capture"] = CaptureDef{
		Endpoint: CaptureEndpoint{Connector: &ConnectorConfig{Image: "img:v1", Config: json.RawMessage(`{}`)}},
		Bindings: []CaptureBinding{{Resource: json.RawMessage(`{"table":"t"}`), Target: "a/coll"}},
	}

	specs, err := cat.DraftSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, "a/capture", specs[0].CatalogName)
	assert.Equal(t, SpecTypeCapture, specs[0].SpecType)
	assert.Equal(t, "a/coll", specs[1].CatalogName)
	assert.Equal(t, "b/coll", specs[2].CatalogName)

	assert.JSONEq(t, `{"key":["/id"],"schema":false}`, string(specs[1].Spec))
	assert.JSONEq(t, `{
		"endpoint": {"connector": {"image": "img:v1", "config": {}}},
		"bindings": [{"resource": {"table": "t"}, "target": "a/coll"}]
	}`, string(specs[0].Spec))
}

func TestCatalog_Contains(t *testing.T) {
	cat := New()
	cat.Captures["acme/source"] = CaptureDef{}
	cat.Collections["acme/users"] = CollectionDef{}

	assert.True(t, cat.Contains("acme/source"))
	assert.True(t, cat.Contains("acme/users"))
	assert.False(t, cat.Contains("acme/unrelated"))
	assert.Equal(t, 2, cat.SpecCount())
}
