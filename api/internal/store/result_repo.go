package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pdf-ocr-worker/api/internal/convert"
)

var ErrNotFound = sql.ErrNoRows

// ResultRepo caches conversion results by (pdf_hash, engine, options_key).
type ResultRepo struct {
	DB     *sql.DB
	MaxAge time.Duration // 0 = entries never go stale
}

func NewResultRepo(db *sql.DB, maxAge time.Duration) *ResultRepo {
	return &ResultRepo{DB: db, MaxAge: maxAge}
}

type ResultRow struct {
	ID         int64
	CreatedAt  time.Time
	PDFHash    string
	Engine     string
	OptionsKey string
	Filename   string
	Result     convert.Result
}

// FindByHash returns the newest row for the key.
// If maxAge > 0 and the row is older, ErrNotFound is returned.
func (r *ResultRepo) FindByHash(ctx context.Context, pdfHash, engine, optionsKey string, maxAge time.Duration) (*ResultRow, error) {
	const q = `
select id, created_at, pdf_hash, engine, options_key, filename, result_json
from ocr_results
where pdf_hash = $1 and engine = $2 and options_key = $3
order by created_at desc
limit 1`
	var (
		row ResultRow
		js  []byte
	)
	err := r.DB.QueryRowContext(ctx, q, pdfHash, engine, optionsKey).
		Scan(&row.ID, &row.CreatedAt, &row.PDFHash, &row.Engine, &row.OptionsKey, &row.Filename, &js)
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(js, &row.Result); err != nil {
		// a broken cache entry counts as a miss
		return nil, ErrNotFound
	}
	return &row, nil
}

// Upsert stores a result, replacing any row with the same key.
func (r *ResultRepo) Upsert(ctx context.Context, pdfHash, engine, optionsKey, filename string, res convert.Result) error {
	js, err := json.Marshal(res)
	if err != nil {
		return err
	}
	const q = `
insert into ocr_results (pdf_hash, engine, options_key, filename, pages, language, text, result_json)
values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (pdf_hash, engine, options_key) do update
set filename = excluded.filename,
    pages = excluded.pages,
    language = excluded.language,
    text = excluded.text,
    result_json = excluded.result_json,
    created_at = now()`
	_, err = r.DB.ExecContext(ctx, q, pdfHash, engine, optionsKey, filename, res.Pages, res.Language, res.Text, js)
	return err
}

// PurgeOlderThan deletes cache rows older than the given age.
func (r *ResultRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from ocr_results where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

// Find adapts FindByHash to the handler's cache contract: a miss is not an error.
func (r *ResultRepo) Find(ctx context.Context, pdfHash, engine, optionsKey string) (convert.Result, bool, error) {
	row, err := r.FindByHash(ctx, pdfHash, engine, optionsKey, r.MaxAge)
	if errors.Is(err, ErrNotFound) {
		return convert.Result{}, false, nil
	}
	if err != nil {
		return convert.Result{}, false, err
	}
	return row.Result, true, nil
}

func (r *ResultRepo) Save(ctx context.Context, pdfHash, engine, optionsKey, filename string, res convert.Result) error {
	return r.Upsert(ctx, pdfHash, engine, optionsKey, filename, res)
}
