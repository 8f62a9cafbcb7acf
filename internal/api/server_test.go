package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgekit/social-discovery/internal/api"
	"github.com/lodgekit/social-discovery/internal/config"
	"github.com/lodgekit/social-discovery/internal/discovery"
	"github.com/lodgekit/social-discovery/internal/store/memory"
)

func newTestServer(t *testing.T, cfg config.Config) (*memory.JobStore, http.Handler) {
	t.Helper()
	store := memory.NewJobStore(3)
	server := api.NewServer(store, cfg, nil)
	return store, server.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t, config.Config{})
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, handler, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitBatch(t *testing.T) {
	t.Parallel()

	store, handler := newTestServer(t, config.Config{})
	rec := doJSON(t, handler, http.MethodPost, "/v1/jobs/batch", map[string]any{
		"name":    "august-import",
		"queue":   "default",
		"domains": []string{"GrandHotel.com", "seaside-inn.com", ""},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		BatchID string   `json:"batch_id"`
		JobIDs  []string `json:"job_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.BatchID)
	require.Len(t, resp.JobIDs, 2)

	job, err := store.GetJob(context.Background(), resp.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "grandhotel.com", job.Domain)
	assert.Equal(t, discovery.JobStatusQueued, job.Status)
}

func TestSubmitBatchRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t, config.Config{})
	rec := doJSON(t, handler, http.MethodPost, "/v1/jobs/batch", map[string]any{"domains": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBatchRejectsBadJSON(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t, config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/batch", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, handler := newTestServer(t, config.Config{})
	batch, err := store.EnqueueBatch(context.Background(), "", "default", []string{"grandhotel.com"}, nil)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/v1/jobs/"+batch.JobIDs[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job discovery.CrawlJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "grandhotel.com", resp.Job.Domain)
}

func TestGetJobInvalidID(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t, config.Config{})
	rec := doJSON(t, handler, http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t, config.Config{})
	rec := doJSON(t, handler, http.MethodGet, "/v1/jobs/2f9c0f6e-8f5c-4f53-9a57-0af0a4a2a001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobResults(t *testing.T) {
	t.Parallel()

	store, handler := newTestServer(t, config.Config{})
	ctx := context.Background()
	batch, err := store.EnqueueBatch(ctx, "", "default", []string{"grandhotel.com"}, nil)
	require.NoError(t, err)

	job, err := store.ReserveNextJob(ctx, "default")
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, job, []discovery.DiscoveredLink{
		{URL: "https://facebook.com/grandhotel", Platform: discovery.PlatformFacebook, LastSeen: time.Now(), Active: true},
	}))

	rec := doJSON(t, handler, http.MethodGet, "/v1/jobs/"+batch.JobIDs[0]+"/results?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job   discovery.CrawlJob         `json:"job"`
		Links []discovery.DiscoveredLink `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, discovery.JobStatusCompleted, resp.Job.Status)
	require.Len(t, resp.Links, 1)
	assert.Equal(t, discovery.PlatformFacebook, resp.Links[0].Platform)
}

func TestGetJobResultsBadLimit(t *testing.T) {
	t.Parallel()

	store, handler := newTestServer(t, config.Config{})
	batch, err := store.EnqueueBatch(context.Background(), "", "default", []string{"grandhotel.com"}, nil)
	require.NoError(t, err)

	rec := doJSON(t, handler, http.MethodGet, "/v1/jobs/"+batch.JobIDs[0]+"/results?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	_, handler := newTestServer(t, cfg)

	rec := doJSON(t, handler, http.MethodPost, "/v1/jobs/batch", map[string]any{"domains": []string{"grandhotel.com"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/batch", bytes.NewBufferString(`{"domains":["grandhotel.com"]}`))
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Health stays open for probes.
	rec = doJSON(t, handler, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
