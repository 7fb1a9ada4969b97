package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/subclip/internal/catalog"
	"github.com/MimeLyc/subclip/internal/jobs"
	"github.com/MimeLyc/subclip/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	runs    []persistence.Run
	results map[string][]persistence.VideoResult
	err     error
	limit   int
}

func (f *fakeHistory) ListRuns(_ context.Context, limit int) ([]persistence.Run, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

func (f *fakeHistory) GetRun(_ context.Context, id string) (persistence.Run, bool, error) {
	for _, run := range f.runs {
		if run.ID == id {
			return run, true, nil
		}
	}
	return persistence.Run{}, false, nil
}

func (f *fakeHistory) ListVideoResults(_ context.Context, runID string) ([]persistence.VideoResult, error) {
	return f.results[runID], nil
}

func serve(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	queue := jobs.NewQueue(2, nil)
	queue.Enqueue(jobs.EnqueueRequest{DedupeKey: "a", Payload: jobs.JobPayload{VideoPath: "/m/a.mkv"}})
	srv := NewServer(queue)

	rec := serve(t, srv, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ret healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	assert.Equal(t, "ok", ret.Status)
	assert.Equal(t, 2, ret.Workers)
	assert.Equal(t, 1, ret.Jobs["pending"])

	rec = serve(t, srv, http.MethodPost, "/api/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CreateJob(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	srv := NewServer(queue)

	body := []byte(`{"video_path":"/media/a.mkv"}`)
	rec := serve(t, srv, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var ret struct {
		Created bool           `json:"created"`
		Job     *jobs.VideoJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	require.True(t, ret.Created)
	require.NotNil(t, ret.Job)
	assert.Equal(t, "manual", ret.Job.Source)
	assert.Equal(t, "/media/a.mkv", ret.Job.DedupeKey)
	assert.Equal(t, "/media/a.mkv", ret.Job.Payload.VideoPath)

	rec = serve(t, srv, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, queue.List(), 1)
}

func TestServer_CreateJob_Validation(t *testing.T) {
	srv := NewServer(jobs.NewQueue(1, nil))

	rec := serve(t, srv, http.MethodPost, "/api/jobs", []byte(`{"source":"manual"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, srv, http.MethodPost, "/api/jobs", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, srv, http.MethodDelete, "/api/jobs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ListJobs_FilterByStatus(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	queue.Enqueue(jobs.EnqueueRequest{DedupeKey: "a", Payload: jobs.JobPayload{VideoPath: "/m/a.mkv"}})
	queue.Enqueue(jobs.EnqueueRequest{DedupeKey: "b", Payload: jobs.JobPayload{VideoPath: "/m/b.mkv"}})
	srv := NewServer(queue)

	rec := serve(t, srv, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []*jobs.VideoJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "/m/a.mkv", all[0].Payload.VideoPath)

	rec = serve(t, srv, http.MethodGet, "/api/jobs?status=success", nil)
	var none []*jobs.VideoJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &none))
	assert.Empty(t, none)
}

func TestServer_JobDetail_PagesIndexRecords(t *testing.T) {
	index := filepath.Join(t.TempDir(), "movie.index.json")
	require.NoError(t, catalog.WriteVideoIndex(index, []catalog.Record{
		{ID: "movie-1000", Name: "movie", Ordinal: 1, Text: "a", Sizes: map[string]int64{"gif": 10}},
		{ID: "movie-2000", Name: "movie", Ordinal: 2, Text: "b", Failed: true},
		{ID: "movie-n3", Name: "movie", Ordinal: 3, Text: "c", Skipped: true, Reason: "malformed_timecode"},
	}))

	queue := jobs.NewQueue(1, nil)
	queue.Start(func(context.Context, *jobs.VideoJob) (jobs.Summary, error) {
		return jobs.Summary{State: "done", Index: index, Encoded: 1, Failed: 1, Skipped: 1}, nil
	})
	t.Cleanup(queue.Stop)

	job, _ := queue.Enqueue(jobs.EnqueueRequest{DedupeKey: "movie", Payload: jobs.JobPayload{VideoPath: "/m/movie.mkv"}})
	require.Eventually(t, func() bool {
		got, ok := queue.Get(job.ID)
		return ok && got.Status == jobs.StatusSuccess
	}, time.Second, 10*time.Millisecond)

	srv := NewServer(queue)
	rec := serve(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"?offset=1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ret jobDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	assert.Equal(t, job.ID, ret.Job.ID)
	assert.Equal(t, jobProgressResponse{Total: 3, Clipped: 1, Failed: 1, Skipped: 1}, ret.Progress)
	require.Len(t, ret.Records, 1)
	assert.Equal(t, "movie-2000", ret.Records[0].ID)

	rec = serve(t, srv, http.MethodGet, "/api/jobs/job-999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(t, srv, http.MethodGet, "/api/jobs/"+job.ID+"/extra", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_JobDetail_PendingHasNoRecords(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	job, _ := queue.Enqueue(jobs.EnqueueRequest{DedupeKey: "a", Payload: jobs.JobPayload{VideoPath: "/m/a.mkv"}})
	srv := NewServer(queue)

	rec := serve(t, srv, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ret jobDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	assert.Empty(t, ret.Records)
	assert.Equal(t, 0, ret.Progress.Total)
}

func TestServer_Runs(t *testing.T) {
	history := &fakeHistory{
		runs: []persistence.Run{
			{ID: "run-2", Status: persistence.RunRunning},
			{ID: "run-1", Status: persistence.RunCompleted, Videos: 2},
		},
		results: map[string][]persistence.VideoResult{
			"run-1": {
				{RunID: "run-1", VideoPath: "/m/a.mkv", State: "done"},
				{RunID: "run-1", VideoPath: "/m/b.mkv", State: "warned_and_skipped"},
			},
		},
	}
	srv := NewServer(jobs.NewQueue(1, nil), WithHistory(history))

	rec := serve(t, srv, http.MethodGet, "/api/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []persistence.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, 5, history.limit)

	rec = serve(t, srv, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, history.limit)

	rec = serve(t, srv, http.MethodGet, "/api/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail runDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "run-1", detail.ID)
	assert.Equal(t, 2, detail.Videos)
	require.Len(t, detail.Results, 2)
	assert.Equal(t, "warned_and_skipped", detail.Results[1].State)

	rec = serve(t, srv, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history.err = errors.New("db closed")
	rec = serve(t, srv, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Runs_NotConfigured(t *testing.T) {
	srv := NewServer(jobs.NewQueue(1, nil))

	rec := serve(t, srv, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec = serve(t, srv, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec = serve(t, srv, http.MethodGet, "/api/runs/x", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_TriggerRun(t *testing.T) {
	var calls atomic.Int32
	srv := NewServer(jobs.NewQueue(1, nil), WithTrigger(func() { calls.Add(1) }))

	rec := serve(t, srv, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_JobStream(t *testing.T) {
	queue := jobs.NewQueue(1, nil)
	queue.Start(func(context.Context, *jobs.VideoJob) (jobs.Summary, error) {
		return jobs.Summary{State: "done"}, nil
	})
	t.Cleanup(queue.Stop)

	ts := httptest.NewServer(NewServer(queue).Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSpace(line)
	}

	require.Equal(t, "event: jobs", readEvent())
	require.True(t, strings.HasPrefix(readEvent(), "data: "))
	require.Equal(t, "", readEvent())

	queue.Enqueue(jobs.EnqueueRequest{DedupeKey: "a", Payload: jobs.JobPayload{VideoPath: "/m/a.mkv"}})
	require.Equal(t, "event: job", readEvent())
	data := strings.TrimPrefix(readEvent(), "data: ")
	var job jobs.VideoJob
	require.NoError(t, json.Unmarshal([]byte(data), &job))
	assert.Equal(t, jobs.StatusSuccess, job.Status)
}
