package telegram

import (
	"strings"
	"sync"

	"pdf-ocr-worker/api/internal/job"
)

// chatPrefs holds per-chat job options set with /format and /lang.
type chatPrefs struct {
	Format string
	Langs  []string
}

type prefsStore struct {
	m sync.Map // chatID -> chatPrefs
}

func (s *prefsStore) get(chatID int64) chatPrefs {
	if v, ok := s.m.Load(chatID); ok {
		return v.(chatPrefs)
	}
	return chatPrefs{Format: job.FormatJSON}
}

func (s *prefsStore) setFormat(chatID int64, format string) {
	p := s.get(chatID)
	p.Format = format
	s.m.Store(chatID, p)
}

func (s *prefsStore) setLangs(chatID int64, langs []string) {
	p := s.get(chatID)
	p.Langs = langs
	s.m.Store(chatID, p)
}

func parseLangs(arg string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' || r == '+' }) {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}
