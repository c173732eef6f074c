package util

import (
	"encoding/base64"
	"errors"
	"strings"
)

// SniffMimeForOCR maps the leading bytes to the short type names OCR backends expect.
func SniffMimeForOCR(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "JPEG"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "PNG"
	}
	// PDF
	if IsPDF(b) {
		return "PDF"
	}
	return ""
}

// IsPDF reports whether b starts with the %PDF- header. Leading whitespace is
// tolerated since some producers emit a BOM or newline first.
func IsPDF(b []byte) bool {
	if len(b) > 1024 {
		b = b[:1024]
	}
	s := strings.TrimLeft(string(b), "\ufeff\r\n\t ")
	return strings.HasPrefix(s, "%PDF-")
}

// DecodeBase64MaybeDataURL decodes base64. For a data: URI the MIME from the prefix is returned too.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if s == "" {
		return nil, hintMIME, errors.New("empty base64 payload")
	}
	// line-wrapped payloads are common from shell tools
	s = strings.NewReplacer("\n", "", "\r", "", " ", "").Replace(s)

	// standard, then URL-safe, then unpadded variants
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else if b3, err3 := base64.RawStdEncoding.DecodeString(s); err3 == nil {
		return b3, hintMIME, nil
	} else if b4, err4 := base64.RawURLEncoding.DecodeString(s); err4 == nil {
		return b4, hintMIME, nil
	} else {
		return nil, "", err
	}
}
