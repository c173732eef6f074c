package store

import (
	"context"
	"database/sql"
	"time"

	"pdf-ocr-worker/api/internal/job"
)

// JobRepo keeps one row per processed job.
type JobRepo struct{ DB *sql.DB }

func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{DB: db} }

func (r *JobRepo) Record(ctx context.Context, rec job.Record) error {
	const q = `
insert into ocr_jobs (job_id, filename, engine, pdf_hash, success, error, cache_hit, duration_ms)
values ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.DB.ExecContext(ctx, q,
		rec.ID, rec.Filename, rec.Engine, rec.PDFHash,
		rec.Success, rec.Error, rec.CacheHit, rec.DurationMS,
	)
	return err
}

type JobStats struct {
	Total    int64
	Failed   int64
	CacheHit int64
}

// Stats counts the jobs recorded since the given time.
func (r *JobRepo) Stats(ctx context.Context, since time.Time) (JobStats, error) {
	const q = `
select count(*),
       count(*) filter (where not success),
       count(*) filter (where cache_hit)
from ocr_jobs
where created_at >= $1`
	var s JobStats
	err := r.DB.QueryRowContext(ctx, q, since).Scan(&s.Total, &s.Failed, &s.CacheHit)
	return s, err
}
