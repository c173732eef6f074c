package layered

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/job"
)

// Recognizer reads text from a single page image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string, langs []string) (string, error)
}

// Converter reads the embedded text layer of each page and falls back to OCR
// of the page images when a page has no usable text.
type Converter struct {
	rec          Recognizer
	defaultLangs []string
	tmpDir       string // page images are extracted here; "" = OS temp dir
	conf         *model.Configuration
	logger       *logrus.Logger

	// pages with fewer characters than this are OCR'd
	minTextChars int
}

func New(rec Recognizer, defaultLangs []string, tmpDir string, logger *logrus.Logger) *Converter {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if logger == nil {
		logger = logrus.New()
	}
	return &Converter{
		rec:          rec,
		defaultLangs: defaultLangs,
		tmpDir:       tmpDir,
		conf:         conf,
		logger:       logger,
		minTextChars: 16,
	}
}

func (c *Converter) Name() string { return "tesseract" }

func (c *Converter) Convert(ctx context.Context, pdfPath string, opt convert.Options) (convert.Result, error) {
	total, err := c.pageCount(pdfPath)
	if err != nil {
		return convert.Result{}, err
	}
	n := total
	if opt.MaxPages > 0 && opt.MaxPages < n {
		n = opt.MaxPages
	}
	langs := opt.Langs
	if len(langs) == 0 {
		langs = c.defaultLangs
	}

	texts := textLayer(pdfPath, n, c.logger)

	var missing []int
	for i, t := range texts {
		if len([]rune(strings.TrimSpace(t))) < c.minTextChars {
			missing = append(missing, i+1)
		}
	}
	if len(missing) > 0 && c.rec != nil {
		if err := ctx.Err(); err != nil {
			return convert.Result{}, err
		}
		ocrd, err := c.ocrPages(ctx, pdfPath, missing, langs)
		if err != nil {
			return convert.Result{}, err
		}
		for page, txt := range ocrd {
			if strings.TrimSpace(txt) != "" {
				texts[page-1] = txt
			}
		}
	}

	toc, err := c.toc(pdfPath)
	if err != nil {
		c.logger.WithError(err).Debug("no outline in document")
		toc = []job.TOCEntry{}
	}

	return convert.Result{
		Text:     assemble(texts, opt.OutputFormat),
		Pages:    total,
		Language: isoLanguage(langs),
		TOC:      toc,
	}, nil
}

func (c *Converter) pageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err == nil && n > 0 {
		return n, nil
	}
	// pdfcpu is stricter than the text-layer reader; give it a second chance
	if m, err2 := numPages(pdfPath); err2 == nil && m > 0 {
		c.logger.WithError(err).Debug("pdfcpu page count failed, using text-layer reader")
		return m, nil
	}
	if err == nil {
		err = errors.New("document has no pages")
	}
	return 0, fmt.Errorf("read pdf: %w", err)
}

// ocrPages extracts the images of the given pages into a scoped temp dir and
// recognizes them. The result maps 1-based page numbers to text.
func (c *Converter) ocrPages(ctx context.Context, pdfPath string, pages []int, langs []string) (map[int]string, error) {
	dir, err := os.MkdirTemp(c.tmpDir, "ocr-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.logger.WithError(err).Warn("failed to clean up image dir")
		}
	}()

	sel := make([]string, len(pages))
	for i, p := range pages {
		sel[i] = strconv.Itoa(p)
	}
	if err := api.ExtractImagesFile(pdfPath, dir, sel, c.conf); err != nil {
		return nil, fmt.Errorf("extract page images: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list page images: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	byPage := groupImagesByPage(baseName(pdfPath), names)

	out := make(map[int]string, len(pages))
	for _, p := range pages {
		var parts []string
		for _, name := range byPage[p] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			txt, err := c.rec.Recognize(ctx, filepath.Join(dir, name), langs)
			if err != nil {
				return nil, fmt.Errorf("ocr page %d: %w", p, err)
			}
			if s := strings.TrimSpace(txt); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			c.logger.WithField("page", p).Debug("page has neither text nor recognizable images")
			continue
		}
		out[p] = strings.Join(parts, "\n")
	}
	return out, nil
}

func (c *Converter) toc(pdfPath string) ([]job.TOCEntry, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bms, err := api.Bookmarks(f, c.conf)
	if err != nil {
		return nil, err
	}
	return flattenBookmarks(bms), nil
}

func baseName(p string) string {
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}
