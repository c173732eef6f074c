package convert

import (
	"context"
	"strconv"
	"strings"

	"pdf-ocr-worker/api/internal/job"
)

// Converter turns a PDF on disk into text. Implementations may hold heavy model
// state and are expected to be created once per process.
type Converter interface {
	Name() string
	Convert(ctx context.Context, pdfPath string, opt Options) (Result, error)
}

type Options struct {
	MaxPages     int      // 0 = all pages
	Langs        []string // language hints, ISO-639-1 or Tesseract codes
	OutputFormat string   // job.FormatJSON | job.FormatMarkdown
}

type Result struct {
	Text     string
	Pages    int
	Language string
	TOC      []job.TOCEntry
}

func OptionsFromInput(in job.Input) Options {
	return Options{
		MaxPages:     in.MaxPages,
		Langs:        append([]string(nil), in.Langs...),
		OutputFormat: in.OutputFormat,
	}
}

// Key is a stable string for cache lookups.
func (o Options) Key() string {
	langs := make([]string, len(o.Langs))
	for i, l := range o.Langs {
		langs[i] = strings.ToLower(strings.TrimSpace(l))
	}
	return o.OutputFormat + "|" + strings.Join(langs, ",") + "|" + strconv.Itoa(o.MaxPages)
}
