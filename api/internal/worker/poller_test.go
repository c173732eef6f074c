package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-ocr-worker/api/internal/job"
)

type fakeProc struct {
	mu   sync.Mutex
	jobs []job.Job
	resp job.Response
}

func (f *fakeProc) Process(_ context.Context, j job.Job) job.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	return f.resp
}

type queue struct {
	mu      sync.Mutex
	jobs    []string
	takes   []string
	auth    []string
	outputs map[string]json.RawMessage
}

func (q *queue) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/take/", func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.takes = append(q.takes, strings.TrimPrefix(r.URL.Path, "/take/"))
		q.auth = append(q.auth, r.Header.Get("Authorization"))
		if len(q.jobs) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		body := q.jobs[0]
		q.jobs = q.jobs[1:]
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/done/", func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Output json.RawMessage `json:"output"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.outputs == nil {
			q.outputs = map[string]json.RawMessage{}
		}
		q.outputs[strings.TrimPrefix(r.URL.Path, "/done/")] = env.Output
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPoller(srv *httptest.Server, proc Processor) *Poller {
	l := logrus.New()
	l.SetOutput(io.Discard)
	p := NewPoller(srv.URL+"/take/$ID", srv.URL+"/done/$ID", "secret", "pod-1", proc, l)
	p.IdleDelay = time.Millisecond
	return p
}

func TestRunOnceNoJob(t *testing.T) {
	q := &queue{}
	srv := q.server(t)
	proc := &fakeProc{}

	processed, err := newTestPoller(srv, proc).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, proc.jobs)
	assert.Equal(t, []string{"pod-1"}, q.takes)
	assert.Equal(t, []string{"secret"}, q.auth)
}

func TestRunOnceProcessesAndPosts(t *testing.T) {
	q := &queue{jobs: []string{`{"id":"job-42","input":{"pdf_base64":"JVBERi0=","filename":"x.pdf"}}`}}
	srv := q.server(t)
	proc := &fakeProc{resp: job.Response{Text: "hello", Success: true}}

	processed, err := newTestPoller(srv, proc).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	require.Len(t, proc.jobs, 1)
	assert.Equal(t, "job-42", proc.jobs[0].ID)
	assert.Equal(t, "x.pdf", proc.jobs[0].Input.Filename)

	require.Contains(t, q.outputs, "job-42")
	var out job.Response
	require.NoError(t, json.Unmarshal(q.outputs["job-42"], &out))
	assert.True(t, out.Success)
	assert.Equal(t, "hello", out.Text)
}

func TestRunOncePostsFailures(t *testing.T) {
	q := &queue{jobs: []string{`{"id":"bad","input":{}}`}}
	srv := q.server(t)
	proc := &fakeProc{resp: job.Failure("No pdf_base64 provided")}

	_, err := newTestPoller(srv, proc).RunOnce(context.Background())
	require.NoError(t, err)

	var out job.Response
	require.NoError(t, json.Unmarshal(q.outputs["bad"], &out))
	assert.False(t, out.Success)
	assert.Equal(t, "No pdf_base64 provided", out.Error)
}

func TestRunOnceFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.Header().Set("Retry-After", "9")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/garbage":
			_, _ = io.WriteString(w, "{not json")
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	proc := &fakeProc{}

	for _, path := range []string{"/limited", "/garbage", "/fail"} {
		p := newTestPoller(srv, proc)
		p.TakeURL = srv.URL + path
		_, err := p.RunOnce(context.Background())
		assert.Error(t, err, path)
	}
	assert.Empty(t, proc.jobs)

	p := newTestPoller(srv, proc)
	p.TakeURL = srv.URL + "/limited"
	_, err := p.RunOnce(context.Background())
	assert.Contains(t, err.Error(), "retry after 9")
}

func TestRunStopsOnCancel(t *testing.T) {
	q := &queue{jobs: []string{`{"id":"a","input":{}}`, `{"id":"b","input":{}}`}}
	srv := q.server(t)
	proc := &fakeProc{resp: job.Failure("x")}
	p := newTestPoller(srv, proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.outputs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Len(t, proc.jobs, 2)
}

func TestExpandID(t *testing.T) {
	assert.Equal(t, "https://api/job-take/pod?x=1", expandID("https://api/job-take/$ID?x=1", "pod"))
	assert.Equal(t, "https://api/static", expandID("https://api/static", "pod"))
}

func TestRunTestInput(t *testing.T) {
	proc := &fakeProc{resp: job.Response{Text: "t", Success: true}}
	var buf bytes.Buffer

	resp, err := RunTestInput(context.Background(), proc, []byte(`{"input":{"pdf_base64":"abc","output_format":"markdown"}}`), &buf)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, proc.jobs, 1)
	assert.True(t, strings.HasPrefix(proc.jobs[0].ID, "test-"))
	assert.Equal(t, "abc", proc.jobs[0].Input.PDFBase64)
	assert.Equal(t, "markdown", proc.jobs[0].Input.OutputFormat)

	var printed job.Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &printed))
	assert.Equal(t, "t", printed.Text)
}

func TestRunTestInputBareAndFile(t *testing.T) {
	proc := &fakeProc{resp: job.Failure("nope")}

	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"fixed","pdf_base64":"zzz"}`), 0o600))

	resp, err := RunTestInputFile(context.Background(), proc, path, io.Discard)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "fixed", proc.jobs[0].ID)
	assert.Equal(t, "zzz", proc.jobs[0].Input.PDFBase64)

	_, err = RunTestInput(context.Background(), proc, []byte("{"), io.Discard)
	assert.Error(t, err)

	_, err = RunTestInputFile(context.Background(), proc, filepath.Join(t.TempDir(), "missing.json"), io.Discard)
	assert.Error(t, err)
}
