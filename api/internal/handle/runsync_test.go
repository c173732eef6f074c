package handle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/store"
)

func TestRunSync(t *testing.T) {
	h, _ := newTestHandle(t, &fakeConverter{res: convert.Result{Text: "page text", Pages: 1}}, Options{})

	body := `{"input":{"pdf_base64":"` + base64.StdEncoding.EncodeToString(samplePDF) + `","filename":"a.pdf"}}`
	req := httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.RunSync(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp runSyncResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "sync-"))
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.True(t, resp.Output.Success)
	assert.Equal(t, "page text", resp.Output.Text)
	assert.Equal(t, "a.pdf", resp.Output.Metadata.Filename)
}

func TestRunSyncFailedJob(t *testing.T) {
	h, _ := newTestHandle(t, &fakeConverter{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{"id":"given","input":{}}`))
	w := httptest.NewRecorder()
	h.RunSync(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp runSyncResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "given", resp.ID)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.False(t, resp.Output.Success)
	assert.Equal(t, "No pdf_base64 provided", resp.Output.Error)
}

func TestRunSyncRejects(t *testing.T) {
	h, _ := newTestHandle(t, &fakeConverter{}, Options{})

	w := httptest.NewRecorder()
	h.RunSync(w, httptest.NewRequest(http.MethodGet, "/runsync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	h.RunSync(w, httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandle(t, &fakeConverter{}, Options{Engine: "tesseract"})
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "tesseract", body["engine"])
	assert.Equal(t, true, body["converter_loaded"])
}

type statsJournal struct{ memJournal }

func (s *statsJournal) Stats(context.Context, time.Time) (store.JobStats, error) {
	return store.JobStats{Total: 5, Failed: 1, CacheHit: 2}, nil
}

func TestHealthWithJobStats(t *testing.T) {
	h, _ := newTestHandle(t, &fakeConverter{}, Options{Journal: &statsJournal{}})
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Jobs map[string]int64 `json:"jobs_24h"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]int64{"total": 5, "failed": 1, "cache_hit": 2}, body.Jobs)
}

func TestHealthAnswersWhileModelsLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	lazy := convert.NewLazy(func(context.Context) (convert.Converter, error) {
		close(started)
		<-release
		return &fakeConverter{res: convert.Result{Text: "ok"}}, nil
	})
	h := New(lazy, quietLogger(), Options{TmpDir: t.TempDir(), Engine: "tesseract"})

	processed := make(chan bool, 1)
	go func() { processed <- h.Process(context.Background(), pdfJob("slow")).Success }()
	<-started

	w := httptest.NewRecorder()
	answered := make(chan struct{})
	go func() {
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(2 * time.Second):
		t.Fatal("/health blocked while the converter was loading")
	}

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["converter_loaded"])

	close(release)
	assert.True(t, <-processed)
	assert.True(t, lazy.Loaded())
}
