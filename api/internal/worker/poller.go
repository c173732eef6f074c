package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/job"
	"pdf-ocr-worker/api/internal/util"
)

// Processor runs one job. *handle.Handle satisfies it.
type Processor interface {
	Process(ctx context.Context, j job.Job) job.Response
}

// Poller speaks the serverless pull protocol: take a job, run it, post the output.
type Poller struct {
	TakeURL  string // may contain $ID, replaced with WorkerID
	DoneURL  string // may contain $ID, replaced with the job id
	APIKey   string
	WorkerID string

	Proc   Processor
	Client *http.Client
	Logger *logrus.Logger

	// IdleDelay is the pause after an empty poll.
	IdleDelay time.Duration
}

type outputEnvelope struct {
	Output job.Response `json:"output"`
}

func NewPoller(takeURL, doneURL, apiKey, workerID string, proc Processor, logger *logrus.Logger) *Poller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		TakeURL:   takeURL,
		DoneURL:   doneURL,
		APIKey:    apiKey,
		WorkerID:  workerID,
		Proc:      proc,
		Client:    &http.Client{Timeout: 90 * time.Second},
		Logger:    logger,
		IdleDelay: 200 * time.Millisecond,
	}
}

func expandID(tmpl, id string) string {
	return strings.ReplaceAll(tmpl, "$ID", id)
}

// Run polls until ctx is cancelled. Fetch errors back off; jobs are never retried.
func (p *Poller) Run(ctx context.Context) error {
	p.Logger.WithField("worker_id", p.WorkerID).Info("worker: polling for jobs")
	for {
		if ctx.Err() != nil {
			p.Logger.Info("worker: context cancelled")
			return nil
		}

		processed, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d := util.ClampDelay(util.RetryDelay(err))
			p.Logger.WithError(err).Warnf("worker: poll error; retry in %v", d)
			util.Sleep(ctx, d)
			continue
		}
		if !processed {
			util.Sleep(ctx, p.IdleDelay)
		}
	}
}

// RunOnce takes at most one job. It returns true when a job was processed.
// Errors come only from taking the job; a failed output post is logged.
func (p *Poller) RunOnce(ctx context.Context) (bool, error) {
	j, err := p.fetch(ctx)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}

	resp := p.Proc.Process(ctx, *j)
	if err := p.post(ctx, j.ID, resp); err != nil {
		p.Logger.WithError(err).WithField("job_id", j.ID).Error("worker: post output failed")
	}
	return true, nil
}

func (p *Poller) fetch(ctx context.Context) (*job.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, expandID(p.TakeURL, p.WorkerID), nil)
	if err != nil {
		return nil, err
	}
	p.authorize(req)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("take job: too many requests: retry after %s", resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("take job: status %d: %s", resp.StatusCode, util.Truncate(string(body), 200))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var j job.Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("take job: bad json: %w", err)
	}
	if j.ID == "" {
		return nil, errors.New("take job: job without id")
	}
	return &j, nil
}

func (p *Poller) post(ctx context.Context, jobID string, out job.Response) error {
	b, err := json.Marshal(outputEnvelope{Output: out})
	if err != nil {
		return err
	}
	// the output must go out even if the job ran into its deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, expandID(p.DoneURL, jobID), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		x, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("post output: status %d: %s", resp.StatusCode, util.Truncate(string(x), 200))
	}
	return nil
}

func (p *Poller) authorize(req *http.Request) {
	if p.APIKey != "" {
		req.Header.Set("Authorization", p.APIKey)
	}
}
