package tesseract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Recognizer owns a single Tesseract client. The client keeps the loaded
// language data between calls, so it is created once and reused.
type Recognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
	langs  []string
}

// Check fails when the Tesseract library cannot be used at all.
func Check() (version string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tesseract unavailable: %v", rec)
		}
	}()
	v := strings.TrimSpace(gosseract.Version())
	if v == "" {
		return "", errors.New("tesseract unavailable: empty version")
	}
	return v, nil
}

func New(langs []string) (*Recognizer, error) {
	langs = TesseractLangs(langs)
	c := gosseract.NewClient()
	if err := c.SetLanguage(langs...); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	return &Recognizer{client: c, langs: langs}, nil
}

func (r *Recognizer) Recognize(ctx context.Context, imagePath string, langs []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(langs) > 0 {
		want := TesseractLangs(langs)
		if !slices.Equal(want, r.langs) {
			if err := r.client.SetLanguage(want...); err != nil {
				return "", fmt.Errorf("set languages: %w", err)
			}
			r.langs = want
		}
	}
	if err := r.client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}
