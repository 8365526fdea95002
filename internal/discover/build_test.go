package discover

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/discover-agent/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	specs    map[string]catalog.ResolvedSpec
	pointers []string
	err      error
	calls    [][]string
}

func (f *fakeResolver) ResolveMergeTargets(_ context.Context, names []string, specType catalog.SpecType, _, _ string) ([]catalog.ResolvedSpec, error) {
	f.calls = append(f.calls, names)
	if f.err != nil {
		return nil, f.err
	}

	var out []catalog.ResolvedSpec
	for _, name := range names {
		if spec, ok := f.specs[name]; ok && spec.SpecType == specType {
			out = append(out, spec)
		}
	}
	return out, nil
}

func (f *fakeResolver) FetchResourcePathPointers(context.Context, string, string) ([]string, error) {
	return f.pointers, nil
}

func spec(name string, specType catalog.SpecType, body string) catalog.ResolvedSpec {
	return catalog.ResolvedSpec{CatalogName: name, SpecType: specType, Spec: json.RawMessage(body)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const threeResources = `{"bindings": [
	{"documentSchema": {"const": "write!"}, "key": ["/foo"], "recommendedName": "foo", "resourceConfig": {"table": "foo"}},
	{"documentSchema": {"const": "bar"}, "key": ["/bar"], "recommendedName": "bar", "resourceConfig": {"table": "bar"}},
	{"documentSchema": {"const": "quz"}, "key": ["/quz"], "recommendedName": "quz", "resourceConfig": {"table": "quz"}}
]}`

func mergeRequest(captureName, output string) Request {
	return Request{
		CaptureName:    captureName,
		DraftID:        "dddddddd-dddd-dddd-dddd-dddddddddddd",
		UserID:         "11111111-1111-1111-1111-111111111111",
		ImageName:      "ghcr.io/estuary/source-thingy",
		ImageTag:       ":v1",
		EndpointConfig: json.RawMessage(`{"some": "endpoint-config"}`),
		DiscoverOutput: []byte(output),
	}
}

func TestBuildMergedCatalog_MergesWithExistingSpecs(t *testing.T) {
	resolver := &fakeResolver{
		pointers: []string{"/table"},
		specs: map[string]catalog.ResolvedSpec{
			"aliceCo/dir/source-thingy": spec("aliceCo/dir/source-thingy", catalog.SpecTypeCapture, `{
				"bindings": [
					{"resource": {"table": "foo", "modified": 1}, "target": "aliceCo/existing-collection"}
				],
				"endpoint": {"connector": {"config": {"fetched": 1}, "image": "old/image"}},
				"interval": "10m"
			}`),
			"aliceCo/existing-collection": spec("aliceCo/existing-collection", catalog.SpecTypeCollection, `{
				"key": ["/old/key"],
				"writeSchema": false,
				"readSchema": {"const": "read!"}
			}`),
			"aliceCo/dir/quz": spec("aliceCo/dir/quz", catalog.SpecTypeCollection, `{
				"key": ["/old/key"],
				"schema": false,
				"projections": {"a-field": "/some/ptr"}
			}`),
		},
	}

	cat, draftErrs, err := BuildMergedCatalog(context.Background(), resolver, discardLogger(), mergeRequest("aliceCo/dir/source-thingy", threeResources))
	require.NoError(t, err)
	require.Empty(t, draftErrs)
	require.NotNil(t, cat)

	got, err := json.Marshal(cat)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"captures": {
			"aliceCo/dir/source-thingy": {
				"endpoint": {"connector": {"image": "ghcr.io/estuary/source-thingy:v1", "config": {"some": "endpoint-config"}}},
				"bindings": [
					{"resource": {"modified": 1, "table": "foo"}, "target": "aliceCo/existing-collection"},
					{"resource": {"table": "bar"}, "target": "aliceCo/dir/bar"},
					{"resource": {"table": "quz"}, "target": "aliceCo/dir/quz"}
				],
				"interval": "10m"
			}
		},
		"collections": {
			"aliceCo/existing-collection": {
				"key": ["/foo"],
				"writeSchema": {"const": "write!"},
				"readSchema": {"const": "read!"}
			},
			"aliceCo/dir/bar": {
				"key": ["/bar"],
				"schema": {"const": "bar"}
			},
			"aliceCo/dir/quz": {
				"key": ["/quz"],
				"schema": {"const": "quz"},
				"projections": {"a-field": "/some/ptr"}
			}
		}
	}`, string(got))

	// Collections are resolved from the merged capture's targets.
	require.Len(t, resolver.calls, 2)
	assert.Equal(t, []string{"aliceCo/dir/source-thingy"}, resolver.calls[0])
	assert.Equal(t, []string{"aliceCo/existing-collection", "aliceCo/dir/bar", "aliceCo/dir/quz"}, resolver.calls[1])
}

func TestBuildMergedCatalog_IsDeterministic(t *testing.T) {
	newResolver := func() *fakeResolver {
		return &fakeResolver{
			pointers: []string{"/table"},
			specs: map[string]catalog.ResolvedSpec{
				"acme/capture": spec("acme/capture", catalog.SpecTypeCapture, `{
					"bindings": [{"resource": {"table": "foo", "x": {"b": 1, "a": 2}}, "target": "acme/foo"}],
					"endpoint": {"connector": {"config": {}, "image": "old"}}
				}`),
			},
		}
	}

	var outputs []string
	for i := 0; i < 5; i++ {
		cat, draftErrs, err := BuildMergedCatalog(context.Background(), newResolver(), discardLogger(), mergeRequest("acme/capture", threeResources))
		require.NoError(t, err)
		require.Empty(t, draftErrs)

		specs, err := cat.DraftSpecs()
		require.NoError(t, err)
		b, err := json.Marshal(specs)
		require.NoError(t, err)
		outputs = append(outputs, string(b))
	}

	for _, out := range outputs[1:] {
		assert.Equal(t, outputs[0], out)
	}
}

func TestBuildMergedCatalog_BadCollectionSpec(t *testing.T) {
	resolver := &fakeResolver{
		pointers: []string{"/table"},
		specs: map[string]catalog.ResolvedSpec{
			"aliceCo/bad": spec("aliceCo/bad", catalog.SpecTypeCollection, `{"key": "invalid"}`),
		},
	}
	output := `{"bindings": [{"documentSchema": {"const": 42}, "key": ["/key"], "recommendedName": "bad", "resourceConfig": {"table": "bad"}}]}`

	cat, draftErrs, err := BuildMergedCatalog(context.Background(), resolver, discardLogger(), mergeRequest("aliceCo/source-thingy", output))
	require.NoError(t, err)
	assert.Nil(t, cat)
	require.Len(t, draftErrs, 1)
	assert.Equal(t, "aliceCo/bad", draftErrs[0].CatalogName)
	assert.Empty(t, draftErrs[0].Scope)
	assert.Contains(t, draftErrs[0].Detail, "parsing collection aliceCo/bad")
}

func TestBuildMergedCatalog_BadCaptureSpec(t *testing.T) {
	resolver := &fakeResolver{
		specs: map[string]catalog.ResolvedSpec{
			"acme/capture": spec("acme/capture", catalog.SpecTypeCapture, `{"bindings": "nope", "endpoint": {}}`),
		},
	}

	cat, draftErrs, err := BuildMergedCatalog(context.Background(), resolver, discardLogger(), mergeRequest("acme/capture", threeResources))
	require.NoError(t, err)
	assert.Nil(t, cat)
	require.Len(t, draftErrs, 1)
	assert.Equal(t, "acme/capture", draftErrs[0].CatalogName)
	// Collections are never resolved once the capture fails.
	assert.Len(t, resolver.calls, 1)
}

func TestBuildMergedCatalog_InvalidResourceIsDraftError(t *testing.T) {
	resolver := &fakeResolver{pointers: []string{"/table/name"}}
	output := `{"bindings": [{"documentSchema": true, "key": ["/id"], "recommendedName": "foo", "resourceConfig": {"table": "foo"}}]}`

	cat, draftErrs, err := BuildMergedCatalog(context.Background(), resolver, discardLogger(), mergeRequest("acme/capture", output))
	require.NoError(t, err)
	assert.Nil(t, cat)
	require.Len(t, draftErrs, 1)
	assert.Equal(t, "acme/capture", draftErrs[0].CatalogName)
	assert.Contains(t, draftErrs[0].Detail, ErrInvalidResource.Error())
}

func TestBuildMergedCatalog_InfrastructureErrors(t *testing.T) {
	t.Run("malformed discover output", func(t *testing.T) {
		_, _, err := BuildMergedCatalog(context.Background(), &fakeResolver{}, discardLogger(), mergeRequest("acme/capture", `not json`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "converting discovery response into specs")
	})

	t.Run("resolver failure", func(t *testing.T) {
		resolver := &fakeResolver{err: errors.New("connection reset")}
		_, _, err := BuildMergedCatalog(context.Background(), resolver, discardLogger(), mergeRequest("acme/capture", threeResources))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestBuildMergedCatalog_NewCapture(t *testing.T) {
	resolver := &fakeResolver{pointers: []string{"/table"}}

	cat, draftErrs, err := BuildMergedCatalog(context.Background(), resolver, discardLogger(), mergeRequest("acme/source", threeResources))
	require.NoError(t, err)
	require.Empty(t, draftErrs)

	capture := cat.Captures["acme/source"]
	require.Len(t, capture.Bindings, 3)
	assert.Equal(t, "acme/foo", capture.Bindings[0].Target)
	assert.Len(t, cat.Collections, 3)
	assert.Equal(t, []string{"/quz"}, cat.Collections["acme/quz"].Key)
}
