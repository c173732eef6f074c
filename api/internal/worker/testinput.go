package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"pdf-ocr-worker/api/internal/job"
)

// ParseTestInput accepts a job envelope {"id"?, "input": {...}} or a bare input object.
func ParseTestInput(raw []byte) (job.Job, error) {
	var env struct {
		ID    string          `json:"id"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return job.Job{}, fmt.Errorf("bad json: %w", err)
	}
	var in job.Input
	src := raw
	if len(env.Input) > 0 {
		src = env.Input
	}
	if err := json.Unmarshal(src, &in); err != nil {
		return job.Job{}, fmt.Errorf("bad input: %w", err)
	}
	id := strings.TrimSpace(env.ID)
	if id == "" {
		id = "test-" + uuid.NewString()
	}
	return job.Job{ID: id, Input: in}, nil
}

// RunTestInput runs one job locally and writes the response as indented JSON.
func RunTestInput(ctx context.Context, proc Processor, raw []byte, w io.Writer) (job.Response, error) {
	j, err := ParseTestInput(raw)
	if err != nil {
		return job.Response{}, err
	}
	resp := proc.Process(ctx, j)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// RunTestInputFile is RunTestInput over the contents of path.
func RunTestInputFile(ctx context.Context, proc Processor, path string, w io.Writer) (job.Response, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return job.Response{}, fmt.Errorf("read test input: %w", err)
	}
	return RunTestInput(ctx, proc, raw, w)
}
