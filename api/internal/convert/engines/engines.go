package engines

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/config"
	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/convert/gemini"
	"pdf-ocr-worker/api/internal/convert/layered"
	"pdf-ocr-worker/api/internal/convert/tesseract"
)

// Check reports whether the engine's native dependencies are usable.
// Gemini runs remotely and needs no local library.
func Check(name string) (string, error) {
	switch name {
	case config.EngineTesseract:
		return tesseract.Check()
	case config.EngineGemini:
		return "remote", nil
	default:
		return "", fmt.Errorf("unknown engine %q", name)
	}
}

// Loader returns the loader for the configured engine. Nothing heavy happens
// until the loader is called.
func Loader(cfg *config.Config, logger *logrus.Logger) (convert.Loader, error) {
	switch cfg.Engine {
	case config.EngineTesseract:
		langs, tmpDir := cfg.OCRLangs, cfg.TmpDir
		return func(ctx context.Context) (convert.Converter, error) {
			logger.WithField("langs", langs).Info("loading tesseract models")
			rec, err := tesseract.New(langs)
			if err != nil {
				return nil, fmt.Errorf("tesseract: %w", err)
			}
			return layered.New(rec, langs, tmpDir, logger), nil
		}, nil
	case config.EngineGemini:
		key, model := cfg.GeminiAPIKey, cfg.GeminiModel
		return func(ctx context.Context) (convert.Converter, error) {
			c, err := gemini.New(ctx, key, model, logger)
			if err != nil {
				return nil, fmt.Errorf("gemini: %w", err)
			}
			logger.WithField("model", c.GetModel()).Info("gemini client ready")
			return c, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}
