package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/discover-agent/internal/api/domain"
	"github.com/cuongbtq/discover-agent/internal/api/dto"
	"github.com/cuongbtq/discover-agent/internal/api/handler"
	"github.com/cuongbtq/discover-agent/internal/api/model"
	"github.com/cuongbtq/discover-agent/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	draftID = "6f1c2a8e-3b4d-4e5f-8a9b-0c1d2e3f4a5b"
	tagID   = "0d9e8f7a-6b5c-4d3e-2f1a-0b9c8d7e6f5a"
	userID  = "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d"
)

type fakeStorage struct {
	discovers []model.Discover
	createErr error
	filters   []storage.DiscoverFilter
}

func (s *fakeStorage) CreateDiscover(_ context.Context, d *model.Discover) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.discovers = append(s.discovers, *d)
	return nil
}

func (s *fakeStorage) GetDiscoverByID(_ context.Context, id string) (*model.Discover, error) {
	for i := range s.discovers {
		if s.discovers[i].ID == id {
			return &s.discovers[i], nil
		}
	}
	return nil, domain.ErrDiscoverNotFound
}

// ListDiscovers mirrors the storage contract: newest first, PageSize+1 rows
func (s *fakeStorage) ListDiscovers(_ context.Context, filter storage.DiscoverFilter) ([]model.Discover, error) {
	s.filters = append(s.filters, filter)

	var out []model.Discover
	for i := len(s.discovers) - 1; i >= 0; i-- {
		d := s.discovers[i]
		if d.DraftID != filter.DraftID {
			continue
		}
		if filter.Cursor != nil && !d.CreatedAt.Before(filter.Cursor.CreatedAt) {
			continue
		}
		out = append(out, d)
		if len(out) == filter.PageSize+1 {
			break
		}
	}
	return out, nil
}

type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	p.bodies = append(p.bodies, body)
	return p.err
}

type fakeDatabase struct {
	err error
}

func (d fakeDatabase) HealthCheck(context.Context) error {
	return d.err
}

type fakeBroker struct {
	connected bool
}

func (b fakeBroker) IsConnected() bool {
	return b.connected
}

func newTestRouter(store *fakeStorage, publisher *fakePublisher, db fakeDatabase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage:   store,
		Publisher: publisher,
		Database:  db,
		Broker:    fakeBroker{connected: true},
	})
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createBody(captureName, endpointConfig string) string {
	return fmt.Sprintf(`{
		"capture_name": %q,
		"connector_tag_id": %q,
		"endpoint_config": %s,
		"draft_id": %q,
		"user_id": %q,
		"auto_publish": true
	}`, captureName, tagID, endpointConfig, draftID, userID)
}

func TestCreateDiscover(t *testing.T) {
	store := &fakeStorage{}
	publisher := &fakePublisher{}
	r := newTestRouter(store, publisher, fakeDatabase{})

	w := do(r, http.MethodPost, "/api/v1/discovers", createBody("acme/source-hello", `{"greetings": 10}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got dto.DiscoverDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "acme/source-hello", got.CaptureName)
	assert.True(t, got.AutoPublish)
	assert.False(t, got.UpdateOnly)
	assert.JSONEq(t, `{"type":"queued"}`, string(got.JobStatus))
	assert.JSONEq(t, `{"greetings": 10}`, string(got.EndpointConfig))
	assert.NotEmpty(t, got.LogsToken)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	require.Len(t, store.discovers, 1)
	assert.Equal(t, got.ID, store.discovers[0].ID)

	require.Len(t, publisher.bodies, 1)
	assert.JSONEq(t, fmt.Sprintf(`{"discover_id":%q}`, got.ID), string(publisher.bodies[0]))
}

func TestCreateDiscover_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		createErr error
		wantCode  int
	}{
		{
			name:     "malformed body",
			body:     `{"capture_name":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing draft id",
			body:     `{"capture_name":"acme/x","connector_tag_id":"` + tagID + `","endpoint_config":{},"user_id":"` + userID + `"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "capture name without prefix",
			body:     createBody("source-hello", `{}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "endpoint config is not an object",
			body:     createBody("acme/source-hello", `[1, 2]`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:      "unknown connector tag",
			body:      createBody("acme/source-hello", `{}`),
			createErr: domain.ErrConnectorTagNotFound,
			wantCode:  http.StatusNotFound,
		},
		{
			name:      "draft of another user",
			body:      createBody("acme/source-hello", `{}`),
			createErr: domain.ErrDraftNotFound,
			wantCode:  http.StatusNotFound,
		},
		{
			name:      "storage failure",
			body:      createBody("acme/source-hello", `{}`),
			createErr: errors.New("connection refused"),
			wantCode:  http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &fakePublisher{}
			r := newTestRouter(&fakeStorage{createErr: tt.createErr}, publisher, fakeDatabase{})

			w := do(r, http.MethodPost, "/api/v1/discovers", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Empty(t, publisher.bodies)
		})
	}
}

func TestCreateDiscover_PublishFailureStillQueues(t *testing.T) {
	store := &fakeStorage{}
	r := newTestRouter(store, &fakePublisher{err: errors.New("channel closed")}, fakeDatabase{})

	w := do(r, http.MethodPost, "/api/v1/discovers", createBody("acme/source-hello", `{}`))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, store.discovers, 1)
}

func TestGetDiscover(t *testing.T) {
	id := "3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f"
	store := &fakeStorage{discovers: []model.Discover{{
		ID:             id,
		CaptureName:    "acme/source-hello",
		EndpointConfig: json.RawMessage(`{}`),
		DraftID:        draftID,
		JobStatus:      json.RawMessage(`{"type":"success","publication_id":"p-1"}`),
	}}}
	r := newTestRouter(store, &fakePublisher{}, fakeDatabase{})

	tests := []struct {
		name     string
		target   string
		wantCode int
	}{
		{name: "found", target: "/api/v1/discovers/" + id, wantCode: http.StatusOK},
		{name: "not found", target: "/api/v1/discovers/" + tagID, wantCode: http.StatusNotFound},
		{name: "invalid id", target: "/api/v1/discovers/not-a-uuid", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	w := do(r, http.MethodGet, "/api/v1/discovers/"+id, "")
	var got dto.DiscoverDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.JSONEq(t, `{"type":"success","publication_id":"p-1"}`, string(got.JobStatus))
}

func TestListDiscovers_Pagination(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStorage{}
	for i := 0; i < 5; i++ {
		store.discovers = append(store.discovers, model.Discover{
			ID:             fmt.Sprintf("00000000-0000-4000-8000-00000000000%d", i),
			CaptureName:    "acme/source-hello",
			EndpointConfig: json.RawMessage(`{}`),
			DraftID:        draftID,
			JobStatus:      json.RawMessage(`{"type":"queued"}`),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	r := newTestRouter(store, &fakePublisher{}, fakeDatabase{})

	var seen []string
	target := "/api/v1/discovers?draft_id=" + draftID + "&page_size=2"
	for page := 0; page < 3; page++ {
		w := do(r, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp dto.ListDiscoversResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, d := range resp.Discovers {
			seen = append(seen, d.ID)
		}

		if resp.NextCursor == "" {
			break
		}
		target = "/api/v1/discovers?draft_id=" + draftID + "&page_size=2&cursor=" + resp.NextCursor
	}

	assert.Equal(t, []string{
		"00000000-0000-4000-8000-000000000004",
		"00000000-0000-4000-8000-000000000003",
		"00000000-0000-4000-8000-000000000002",
		"00000000-0000-4000-8000-000000000001",
		"00000000-0000-4000-8000-000000000000",
	}, seen)
}

func TestListDiscovers_Validation(t *testing.T) {
	store := &fakeStorage{}
	r := newTestRouter(store, &fakePublisher{}, fakeDatabase{})

	w := do(r, http.MethodGet, "/api/v1/discovers", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/discovers?draft_id="+draftID+"&cursor=not-base64!", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/discovers?draft_id="+draftID+"&page_size=1000", "")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.filters, 1)
	assert.Equal(t, domain.MaxPageSize, store.filters[0].PageSize)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		dbErr      error
		connected  bool
		wantCode   int
		wantStatus string
		wantBroker string
	}{
		{name: "healthy", connected: true, wantCode: http.StatusOK, wantStatus: "healthy", wantBroker: "connected"},
		{name: "broker down", connected: false, wantCode: http.StatusOK, wantStatus: "degraded", wantBroker: "disconnected"},
		{name: "database down", dbErr: errors.New("down"), connected: true, wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy", wantBroker: "connected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := SetupRouter(&handler.Dependencies{
				Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
				Storage:   &fakeStorage{},
				Publisher: &fakePublisher{},
				Database:  fakeDatabase{err: tt.dbErr},
				Broker:    fakeBroker{connected: tt.connected},
			})

			w := do(r, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantBroker, body["rabbitmq"])
			assert.Equal(t, "discover-api-service", body["service"])
		})
	}
}
