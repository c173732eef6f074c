package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/job"
	"pdf-ocr-worker/api/internal/util"
)

const systemPrompt = `You are an OCR engine. You receive one PDF document (scanned or digital).
Transcribe ALL readable text in reading order, page by page. Do not summarise, translate or correct.
Keep tables as plain rows separated by " | ". Mark unreadable fragments as [illegible].
Return ONLY JSON:
{
  "text": string,          // full transcription; pages separated by a form feed (\f)
  "pages": integer,        // number of pages you saw
  "language": string,      // dominant language, ISO-639-1 (e.g. "en")
  "toc": [{"title": string, "level": integer, "page": integer}] // headings, empty if none
}`

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type Converter struct {
	model  string
	gen    generator
	closer func() error
	logger *logrus.Logger

	attempts int
	backoff  time.Duration
}

// New creates the client once; it is reused for every job.
func New(ctx context.Context, apiKey, model string, logger *logrus.Logger) (*Converter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	m := cl.GenerativeModel(strings.TrimSpace(model))
	if m == nil {
		_ = cl.Close()
		return nil, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(util.LoadPrompt("ocr", "system", "gemini", systemPrompt))},
	}
	return newWithGenerator(model, m, cl.Close, logger), nil
}

func newWithGenerator(model string, gen generator, closer func() error, logger *logrus.Logger) *Converter {
	api.DisableConfigDir()
	if logger == nil {
		logger = logrus.New()
	}
	return &Converter{
		model:    model,
		gen:      gen,
		closer:   closer,
		logger:   logger,
		attempts: 3,
		backoff:  300 * time.Millisecond,
	}
}

func (c *Converter) Name() string     { return "gemini" }
func (c *Converter) GetModel() string { return c.model }

func (c *Converter) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

type output struct {
	Text     string         `json:"text"`
	Pages    int            `json:"pages"`
	Language string         `json:"language"`
	TOC      []job.TOCEntry `json:"toc"`
}

func (c *Converter) Convert(ctx context.Context, pdfPath string, opt convert.Options) (convert.Result, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return convert.Result{}, fmt.Errorf("gemini: read pdf: %w", err)
	}

	user := "Transcribe the attached PDF. Answer strictly with the JSON object described in the instructions."
	if opt.MaxPages > 0 {
		user += fmt.Sprintf(" Only transcribe the first %d page(s).", opt.MaxPages)
	}
	if len(opt.Langs) > 0 {
		user += fmt.Sprintf(" Expected languages: %s.", strings.Join(opt.Langs, ", "))
	}
	parts := []genai.Part{
		genai.Text(user),
		&genai.Blob{MIMEType: "application/pdf", Data: data},
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.gen.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			c.logger.WithError(err).WithField("attempt", attempt).Warn("gemini: generate failed")
			if attempt == c.attempts {
				break
			}
			select {
			case <-ctx.Done():
				return convert.Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
			continue
		}
		out, err := parseOutput(firstText(resp))
		if err != nil {
			return convert.Result{}, err
		}
		return c.result(pdfPath, out, opt), nil
	}
	return convert.Result{}, fmt.Errorf("gemini: %w", lastErr)
}

func (c *Converter) result(pdfPath string, out output, opt convert.Options) convert.Result {
	pages, err := api.PageCountFile(pdfPath)
	if err != nil || pages <= 0 {
		c.logger.WithError(err).Debug("gemini: pdfcpu page count unavailable, using model count")
		pages = out.Pages
	}
	text := strings.TrimSpace(out.Text)
	if opt.OutputFormat == job.FormatMarkdown {
		text = markdownPages(text)
	} else {
		text = strings.ReplaceAll(text, "\f", "\n\n")
	}
	toc := out.TOC
	if toc == nil {
		toc = []job.TOCEntry{}
	}
	lang := strings.ToLower(strings.TrimSpace(out.Language))
	if lang == "" {
		lang = job.DefaultLanguage
	}
	return convert.Result{Text: text, Pages: pages, Language: lang, TOC: toc}
}

func parseOutput(txt string) (output, error) {
	txt = util.StripCodeFences(strings.TrimSpace(txt))
	if txt == "" {
		return output{}, errors.New("gemini: empty response")
	}
	var out output
	if err := json.Unmarshal([]byte(txt), &out); err != nil {
		// model answered with plain text instead of JSON
		return output{Text: txt}, nil
	}
	return out, nil
}

// markdownPages splits the transcription on form feeds and adds page headings.
func markdownPages(text string) string {
	pages := strings.Split(text, "\f")
	if len(pages) == 1 {
		return "## Page 1\n\n" + text
	}
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Page %d\n\n%s", i+1, strings.TrimSpace(p))
	}
	return b.String()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
