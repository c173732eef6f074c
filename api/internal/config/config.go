package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port     string
	LogLevel string

	// OCR
	Engine       string
	OCRLangs     []string
	GeminiAPIKey string
	GeminiModel  string

	// Jobs
	TmpDir      string
	MaxPDFBytes int64
	JobTimeout  time.Duration

	// Optional Postgres result cache
	DatabaseURL    string
	ResultCacheTTL time.Duration

	// Optional Telegram front end
	TelegramBotToken string

	// Serverless worker protocol
	JobTakeURL   string
	JobDoneURL   string
	WorkerAPIKey string
	WorkerID     string
}

const (
	EngineTesseract = "tesseract"
	EngineGemini    = "gemini"

	defaultMaxPDFBytes = int64(200 * 1024 * 1024)
)

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt64(k string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getEnvList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' || r == ' ' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Engine:       strings.ToLower(getEnv("OCR_ENGINE", EngineTesseract)),
		OCRLangs:     getEnvList("OCR_LANGS", []string{"eng"}),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		TmpDir:      getEnv("TMP_DIR", ""),
		MaxPDFBytes: getEnvInt64("MAX_PDF_BYTES", defaultMaxPDFBytes),
		JobTimeout:  time.Duration(getEnvInt64("JOB_TIMEOUT_SEC", 600)) * time.Second,

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		ResultCacheTTL: time.Duration(getEnvInt64("RESULT_CACHE_TTL_HOURS", 168)) * time.Hour,

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		JobTakeURL:   getEnv("RUNPOD_WEBHOOK_GET_JOB", ""),
		JobDoneURL:   getEnv("RUNPOD_WEBHOOK_POST_OUTPUT", ""),
		WorkerAPIKey: getEnv("RUNPOD_AI_API_KEY", ""),
		WorkerID:     getEnv("RUNPOD_POD_ID", ""),
	}
}

// Validate checks the settings every mode depends on.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineTesseract:
	case EngineGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("missing required env GEMINI_API_KEY for engine %q", c.Engine)
		}
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q; use %q or %q", c.Engine, EngineTesseract, EngineGemini)
	}
	if c.TmpDir != "" {
		st, err := os.Stat(c.TmpDir)
		if err != nil {
			return fmt.Errorf("TMP_DIR: %w", err)
		}
		if !st.IsDir() {
			return fmt.Errorf("TMP_DIR %s is not a directory", c.TmpDir)
		}
	}
	return nil
}

// ValidateWorker checks the pull-protocol settings.
func (c *Config) ValidateWorker() error {
	if c.JobTakeURL == "" {
		return errors.New("missing required env RUNPOD_WEBHOOK_GET_JOB")
	}
	if c.JobDoneURL == "" {
		return errors.New("missing required env RUNPOD_WEBHOOK_POST_OUTPUT")
	}
	return nil
}

// ParseLogLevel maps LOG_LEVEL to a logrus level, defaulting to info.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(ParseLogLevel(level))
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}
