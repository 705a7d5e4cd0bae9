package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/jobstore/memory"
	"github.com/senka-social/scheduler/internal/scheduler"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%03d", g.n), nil
}

type knownTasks map[string]bool

func (k knownTasks) Known(name string) bool { return k[name] }

func newTestServer(t *testing.T, ready ReadyChecker, cfg Config) (*Server, *memory.Store) {
	t.Helper()
	jobs := memory.New(systemClock{}, &seqIDGen{})
	tasks := knownTasks{scheduler.TaskStorePosts: true, scheduler.TaskSweep: true}
	return NewServer(jobs, tasks, ready, zap.NewNop(), cfg), jobs
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, nil, Config{})
	body := `{"task":"store-posts","payload":{"actor":"alice.example"},"dedup_key":"store-posts:alice.example"}`

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	snap := jobs.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, scheduler.TaskStorePosts, snap[0].Name)
	require.Equal(t, "store-posts:alice.example", snap[0].DedupKey)
}

func TestSubmitJobUnknownTaskRejected(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, nil, Config{})
	body := `{"task":"reticulate-splines"}`

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Empty(t, jobs.Snapshot())
}

func TestSubmitJobInvalidJSON(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobRoundTrip(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, nil, Config{})
	require.NoError(t, jobs.Enqueue(context.Background(), scheduler.TaskSweep, struct{}{},
		scheduler.EnqueueOptions{}))
	id := jobs.Snapshot()[0].ID

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job jobDTO `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp.Job.ID)
	require.Equal(t, string(scheduler.StatePending), resp.Job.State)
}

func TestGetJobMissing(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-999", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobExhausts(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t, nil, Config{})
	require.NoError(t, jobs.Enqueue(context.Background(), scheduler.TaskSweep, struct{}{},
		scheduler.EnqueueOptions{}))
	id := jobs.Snapshot()[0].ID

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+id+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := jobs.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, scheduler.StateExhausted, job.State)

	// A second cancel hits a terminal job.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+id+"/cancel", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil, Config{APIKey: "sekrit"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-001", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-001", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(context.Context) error {
		return fmt.Errorf("postgres unreachable")
	}, Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
