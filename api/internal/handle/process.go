package handle

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/job"
	"pdf-ocr-worker/api/internal/util"
)

var (
	ErrNoPayload = errors.New("No pdf_base64 provided")
	ErrNotPDF    = errors.New("payload is not a PDF document")
)

// Process runs a single job: decode, write temp file, convert, clean up.
// It never returns an error; failures are reported in the response.
func (h *Handle) Process(ctx context.Context, j job.Job) job.Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	in := j.Input.WithDefaults()
	log := h.logger.WithFields(logrus.Fields{
		"job_id":   j.ID,
		"filename": in.Filename,
	})

	if strings.TrimSpace(j.Input.PDFBase64) == "" {
		log.Warn("job without pdf_base64")
		h.record(ctx, j, in, "", false, ErrNoPayload.Error(), false, start)
		return job.Failure(ErrNoPayload.Error())
	}

	if h.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.JobTimeout)
		defer cancel()
	}

	var (
		pdfHash  string
		cacheHit bool
	)
	res, err := func() (convert.Result, error) {
		data, _, err := util.DecodeBase64MaybeDataURL(j.Input.PDFBase64)
		if err != nil {
			return convert.Result{}, eris.Wrap(err, "decode pdf_base64")
		}
		if h.opts.MaxPDFBytes > 0 && int64(len(data)) > h.opts.MaxPDFBytes {
			return convert.Result{}, eris.Errorf("pdf is %d bytes, limit is %d", len(data), h.opts.MaxPDFBytes)
		}
		if !util.IsPDF(data) {
			if kind := util.SniffMimeForOCR(data); kind != "" {
				return convert.Result{}, eris.Wrapf(ErrNotPDF, "validate payload (got %s)", kind)
			}
			return convert.Result{}, eris.Wrap(ErrNotPDF, "validate payload")
		}
		pdfHash = util.SHA256Hex(data)
		opt := convert.OptionsFromInput(in)

		if r, ok := h.cached(ctx, log, pdfHash, opt); ok {
			cacheHit = true
			return r, nil
		}

		r, err := h.convertBytes(ctx, log, data, in.Filename, opt)
		if err != nil {
			return convert.Result{}, err
		}
		h.store(ctx, log, pdfHash, opt, in.Filename, r)
		return r, nil
	}()

	if err != nil {
		log.WithError(err).Error("error processing pdf")
		h.record(ctx, j, in, pdfHash, false, err.Error(), false, start)
		return job.Response{
			Error:     err.Error(),
			Traceback: eris.ToString(err, true),
			Success:   false,
		}
	}

	if strings.TrimSpace(res.Text) == "" {
		log.Warn("converter returned empty text")
	}
	log.WithFields(logrus.Fields{
		"pages":       res.Pages,
		"cache_hit":   cacheHit,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("successfully processed")
	h.record(ctx, j, in, pdfHash, true, "", cacheHit, start)

	return job.Response{
		Text:     res.Text,
		Metadata: metadata(in.Filename, res),
		Success:  true,
	}
}

// convertBytes owns the temp file: it is removed on every return path.
func (h *Handle) convertBytes(ctx context.Context, log *logrus.Entry, data []byte, filename string, opt convert.Options) (res convert.Result, err error) {
	tmp, err := os.CreateTemp(h.opts.TmpDir, "job-*.pdf")
	if err != nil {
		return convert.Result{}, eris.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.WithError(rmErr).WithField("path", tmpPath).Warn("failed to remove temp file")
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return convert.Result{}, eris.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return convert.Result{}, eris.Wrap(err, "close temp file")
	}

	// model loading runs native code too, so it is covered as well
	defer func() {
		if rec := recover(); rec != nil {
			res, err = convert.Result{}, eris.Errorf("converter panic: %v", rec)
		}
	}()
	conv, err := h.conv.Get(ctx)
	if err != nil {
		return convert.Result{}, eris.Wrap(err, "load converter")
	}

	log.WithField("engine", conv.Name()).Infof("processing %s", filename)
	res, err = conv.Convert(ctx, tmpPath, opt)
	if err != nil {
		return convert.Result{}, eris.Wrapf(err, "convert %s", filename)
	}
	return res, nil
}

func (h *Handle) cached(ctx context.Context, log *logrus.Entry, pdfHash string, opt convert.Options) (convert.Result, bool) {
	if h.opts.Cache == nil {
		return convert.Result{}, false
	}
	r, ok, err := h.opts.Cache.Find(ctx, pdfHash, h.opts.Engine, opt.Key())
	if err != nil {
		log.WithError(err).Warn("result cache lookup failed")
		return convert.Result{}, false
	}
	return r, ok
}

func (h *Handle) store(ctx context.Context, log *logrus.Entry, pdfHash string, opt convert.Options, filename string, r convert.Result) {
	if h.opts.Cache == nil {
		return
	}
	if err := h.opts.Cache.Save(ctx, pdfHash, h.opts.Engine, opt.Key(), filename, r); err != nil {
		log.WithError(err).Warn("result cache save failed")
	}
}

func (h *Handle) record(ctx context.Context, j job.Job, in job.Input, pdfHash string, ok bool, errMsg string, cacheHit bool, start time.Time) {
	if h.opts.Journal == nil {
		return
	}
	// the job context may already be past its deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	rec := job.Record{
		ID:         j.ID,
		Filename:   in.Filename,
		Engine:     h.opts.Engine,
		PDFHash:    pdfHash,
		Success:    ok,
		Error:      errMsg,
		CacheHit:   cacheHit,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := h.opts.Journal.Record(ctx, rec); err != nil {
		h.logger.WithError(err).WithField("job_id", j.ID).Warn("job journal write failed")
	}
}

func metadata(filename string, r convert.Result) *job.Metadata {
	lang := strings.TrimSpace(r.Language)
	if lang == "" {
		lang = job.DefaultLanguage
	}
	toc := r.TOC
	if toc == nil {
		toc = []job.TOCEntry{}
	}
	return &job.Metadata{
		Filename: filename,
		Pages:    r.Pages,
		Language: lang,
		TOC:      toc,
	}
}
