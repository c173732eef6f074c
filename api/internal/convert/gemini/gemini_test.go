package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/job"
)

type fakeGen struct {
	errs  []error
	text  string
	calls int
	parts []genai.Part
}

func (f *fakeGen) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.parts = parts
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(f.text)}},
		}},
	}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func writeFakePDF(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\n%%EOF\n"), 0o600))
	return p
}

func TestConvertParsesJSON(t *testing.T) {
	gen := &fakeGen{text: "```json\n{\"text\":\"Hello\\fWorld\",\"pages\":2,\"language\":\"DE\",\"toc\":[{\"title\":\"Intro\",\"level\":1,\"page\":1}]}\n```"}
	c := newWithGenerator("gemini-test", gen, nil, quietLogger())

	res, err := c.Convert(context.Background(), writeFakePDF(t), convert.Options{OutputFormat: job.FormatJSON, MaxPages: 1, Langs: []string{"de"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello\n\nWorld", res.Text)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "de", res.Language)
	assert.Equal(t, []job.TOCEntry{{Title: "Intro", Level: 1, Page: 1}}, res.TOC)

	require.Len(t, gen.parts, 2)
	prompt, ok := gen.parts[0].(genai.Text)
	require.True(t, ok)
	assert.Contains(t, string(prompt), "first 1 page(s)")
	assert.Contains(t, string(prompt), "de")
}

func TestConvertMarkdownAndPlainFallback(t *testing.T) {
	gen := &fakeGen{text: "just some text"}
	c := newWithGenerator("gemini-test", gen, nil, quietLogger())

	res, err := c.Convert(context.Background(), writeFakePDF(t), convert.Options{OutputFormat: job.FormatMarkdown})
	require.NoError(t, err)
	assert.Equal(t, "## Page 1\n\njust some text", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.NotNil(t, res.TOC)
}

func TestConvertRetriesTransientErrors(t *testing.T) {
	gen := &fakeGen{errs: []error{errors.New("503")}, text: `{"text":"ok"}`}
	c := newWithGenerator("gemini-test", gen, nil, quietLogger())
	c.backoff = time.Millisecond

	res, err := c.Convert(context.Background(), writeFakePDF(t), convert.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, gen.calls)
}

func TestConvertGivesUp(t *testing.T) {
	boom := errors.New("quota")
	gen := &fakeGen{errs: []error{boom, boom, boom}}
	c := newWithGenerator("gemini-test", gen, nil, quietLogger())
	c.backoff = time.Millisecond

	_, err := c.Convert(context.Background(), writeFakePDF(t), convert.Options{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, gen.calls)
}

func TestConvertNoWaitAfterLastAttempt(t *testing.T) {
	boom := errors.New("unavailable")
	gen := &fakeGen{errs: []error{boom, boom}}
	c := newWithGenerator("gemini-test", gen, nil, quietLogger())
	c.attempts = 1
	c.backoff = time.Hour
	pdfPath := writeFakePDF(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Convert(context.Background(), pdfPath, convert.Options{})
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("Convert waited after the final attempt")
	}
	assert.Equal(t, 1, gen.calls)
}

func TestConvertEmptyResponse(t *testing.T) {
	c := newWithGenerator("gemini-test", &fakeGen{text: "  "}, nil, quietLogger())
	_, err := c.Convert(context.Background(), writeFakePDF(t), convert.Options{})
	assert.ErrorContains(t, err, "empty response")
}

func TestConvertMissingFile(t *testing.T) {
	c := newWithGenerator("gemini-test", &fakeGen{}, nil, quietLogger())
	_, err := c.Convert(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), convert.Options{})
	assert.ErrorContains(t, err, "read pdf")
}

func TestMarkdownPages(t *testing.T) {
	assert.Equal(t, "## Page 1\n\na\n\n## Page 2\n\nb", markdownPages("a\f b"))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), " ", "gemini-2.5-flash", nil)
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}
