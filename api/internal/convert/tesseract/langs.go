package tesseract

import "strings"

var fromISO = map[string]string{
	"en": "eng", "de": "deu", "fr": "fra", "es": "spa", "it": "ita", "pt": "por",
	"nl": "nld", "pl": "pol", "ru": "rus", "uk": "ukr", "tr": "tur", "ar": "ara",
	"ja": "jpn", "ko": "kor", "zh": "chi_sim", "hi": "hin", "cs": "ces", "sv": "swe",
}

// TesseractLangs converts ISO-639-1 hints to Tesseract traineddata names.
// Unknown codes pass through unchanged; an empty list means English.
func TesseractLangs(langs []string) []string {
	out := make([]string, 0, len(langs))
	seen := make(map[string]bool, len(langs))
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if t, ok := fromISO[l]; ok {
			l = t
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{"eng"}
	}
	return out
}
