package util

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBase64MaybeDataURL(t *testing.T) {
	raw := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	got, mime, err := DecodeBase64MaybeDataURL(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Empty(t, mime)

	got, mime, err = DecodeBase64MaybeDataURL("data:application/pdf;base64," + base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, "application/pdf", mime)

	got, _, err = DecodeBase64MaybeDataURL(base64.RawStdEncoding.EncodeToString([]byte("%PDF-1")))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1"), got)

	wrapped := base64.StdEncoding.EncodeToString(raw)
	wrapped = wrapped[:8] + "\n" + wrapped[8:]
	got, _, err = DecodeBase64MaybeDataURL(wrapped)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, _, err = DecodeBase64MaybeDataURL("not base64 at all!")
	assert.Error(t, err)

	_, _, err = DecodeBase64MaybeDataURL("data:application/pdf;base64,")
	assert.Error(t, err)
}

func TestSniffMimeForOCR(t *testing.T) {
	assert.Equal(t, "PDF", SniffMimeForOCR([]byte("%PDF-1.7")))
	assert.Equal(t, "PDF", SniffMimeForOCR([]byte("\n%PDF-1.7")))
	assert.Equal(t, "JPEG", SniffMimeForOCR([]byte{0xFF, 0xD8, 0x00}))
	assert.Equal(t, "PNG", SniffMimeForOCR([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}))
	assert.Equal(t, "", SniffMimeForOCR([]byte("hello")))
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `plain`, StripCodeFences("  plain "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))
	// never splits a multi-byte rune
	assert.Equal(t, "п…", Truncate("привет", 3))
}

func TestSHA256Hex(t *testing.T) {
	h := SHA256Hex([]byte("x"))
	assert.Len(t, h, 64)
	assert.Equal(t, h, SHA256Hex([]byte("x")))
}

func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROMPT_DIR", dir)

	assert.Equal(t, "builtin", LoadPrompt("ocr", "system", "gemini", " builtin\n"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gemini"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gemini", "ocr.system.txt"), []byte("from file\n"), 0o600))
	assert.Equal(t, "from file", LoadPrompt("ocr", "system", "Gemini", "builtin"))

	assert.Equal(t, "builtin", LoadPrompt("ocr", "system", "", "builtin"))
}
