package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdf-ocr-worker/api/internal/job"
	"pdf-ocr-worker/api/internal/store"
)

const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type runSyncReq struct {
	ID    string    `json:"id,omitempty"`
	Input job.Input `json:"input"`
}

type runSyncResp struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output job.Response `json:"output"`
}

// RunSync processes {"input": {...}} synchronously and answers with the job output.
func (h *Handle) RunSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req runSyncReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = "sync-" + uuid.NewString()
	}

	out := h.Process(r.Context(), job.Job{ID: id, Input: req.Input})
	status := StatusCompleted
	if !out.Success {
		status = StatusFailed
	}
	writeJSON(w, http.StatusOK, runSyncResp{ID: id, Status: status, Output: out})
}

// jobStatser is implemented by journals that can summarise recent jobs.
type jobStatser interface {
	Stats(ctx context.Context, since time.Time) (store.JobStats, error)
}

// Health reports liveness and whether the converter models are loaded.
func (h *Handle) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":           "ok",
		"engine":           h.opts.Engine,
		"converter_loaded": h.conv.Loaded(),
	}
	if s, ok := h.opts.Journal.(jobStatser); ok {
		st, err := s.Stats(r.Context(), time.Now().Add(-24*time.Hour))
		if err != nil {
			h.logger.WithError(err).Warn("health: job stats failed")
		} else {
			body["jobs_24h"] = map[string]int64{"total": st.Total, "failed": st.Failed, "cache_hit": st.CacheHit}
		}
	}
	writeJSON(w, http.StatusOK, body)
}
