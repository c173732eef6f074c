package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/job"
)

// ResultCache stores conversion results keyed by the PDF content hash.
type ResultCache interface {
	Find(ctx context.Context, pdfHash, engine, optionsKey string) (convert.Result, bool, error)
	Save(ctx context.Context, pdfHash, engine, optionsKey, filename string, res convert.Result) error
}

// Journal records the outcome of every processed job.
type Journal interface {
	Record(ctx context.Context, rec job.Record) error
}

type Options struct {
	Engine      string // converter name, part of the cache key
	TmpDir      string // "" = OS temp dir
	MaxPDFBytes int64  // 0 = unlimited
	JobTimeout  time.Duration
	Cache       ResultCache
	Journal     Journal
}

// Handle runs jobs one at a time against a lazily loaded converter.
type Handle struct {
	conv   *convert.Lazy
	logger *logrus.Logger
	opts   Options

	mu sync.Mutex
}

func New(conv *convert.Lazy, logger *logrus.Logger, opts Options) *Handle {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handle{
		conv:   conv,
		logger: logger,
		opts:   opts,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
