package layered

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/job"
)

func numPages(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return r.NumPage(), nil
}

// textLayer returns the embedded text of pages 1..n. A page that cannot be
// read yields an empty string so it is picked up by OCR.
func textLayer(path string, n int, logger *logrus.Logger) []string {
	out := make([]string, n)
	f, r, err := pdf.Open(path)
	if err != nil {
		logger.WithError(err).Debug("text layer unavailable")
		return out
	}
	defer func() { _ = f.Close() }()

	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= n && i <= r.NumPage(); i++ {
		txt, err := pageText(r, i, fonts)
		if err != nil {
			logger.WithError(err).WithField("page", i).Debug("text layer read failed")
			continue
		}
		out[i-1] = strings.TrimSpace(txt)
	}
	return out
}

// pageText guards against panics the reader raises on malformed content streams.
func pageText(r *pdf.Reader, i int, fonts map[string]*pdf.Font) (txt string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", i, rec)
		}
	}()
	p := r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			f := p.Font(name)
			fonts[name] = &f
		}
	}
	return p.GetPlainText(fonts)
}

// groupImagesByPage maps extracted image file names to their 1-based page.
// Both "<base>_page_3_Im0.png" and "<base>_3_Im0.png" layouts are understood.
func groupImagesByPage(base string, names []string) map[int][]string {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `_(?:page_)?0*(\d+)_`)
	out := make(map[int][]string)
	for _, name := range names {
		m := re.FindStringSubmatch(name)
		if len(m) != 2 {
			continue
		}
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out[page] = append(out[page], name)
	}
	for p := range out {
		sort.Strings(out[p])
	}
	return out
}

func assemble(pages []string, format string) string {
	var b strings.Builder
	for i, t := range pages {
		t = strings.TrimSpace(t)
		if format == job.FormatMarkdown {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "## Page %d\n\n", i+1)
			b.WriteString(t)
			continue
		}
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return strings.TrimSpace(b.String())
}

func flattenBookmarks(bms []pdfcpu.Bookmark) []job.TOCEntry {
	out := make([]job.TOCEntry, 0, len(bms))
	var walk func([]pdfcpu.Bookmark, int)
	walk = func(list []pdfcpu.Bookmark, level int) {
		for _, bm := range list {
			out = append(out, job.TOCEntry{
				Title: strings.TrimSpace(bm.Title),
				Level: level,
				Page:  bm.PageFrom,
			})
			walk(bm.Kids, level+1)
		}
	}
	walk(bms, 1)
	return out
}

var iso639 = map[string]string{
	"eng": "en", "deu": "de", "ger": "de", "fra": "fr", "fre": "fr", "spa": "es",
	"ita": "it", "por": "pt", "nld": "nl", "pol": "pl", "rus": "ru", "ukr": "uk",
	"tur": "tr", "ara": "ar", "jpn": "ja", "kor": "ko", "chi_sim": "zh", "chi_tra": "zh",
	"hin": "hi", "ces": "cs", "swe": "sv",
}

// isoLanguage returns the ISO-639-1 code of the first hint, "en" when unknown.
func isoLanguage(langs []string) string {
	if len(langs) == 0 {
		return job.DefaultLanguage
	}
	l := strings.ToLower(strings.TrimSpace(langs[0]))
	if len(l) == 2 {
		return l
	}
	if iso, ok := iso639[l]; ok {
		return iso
	}
	return job.DefaultLanguage
}
