package job

import "strings"

const (
	DefaultFilename     = "document.pdf"
	DefaultOutputFormat = FormatJSON
	DefaultLanguage     = "en"

	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Input is the payload of one job:
//
//	{"pdf_base64": "...", "filename": "document.pdf", "output_format": "json"}
type Input struct {
	PDFBase64    string   `json:"pdf_base64"`
	Filename     string   `json:"filename,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"` // "json" | "markdown"
	MaxPages     int      `json:"max_pages,omitempty"`     // 0 = all pages
	Langs        []string `json:"langs,omitempty"`
}

// Job is the envelope the dispatch framework hands to the worker.
type Job struct {
	ID    string `json:"id"`
	Input Input  `json:"input"`
}

type TOCEntry struct {
	Title string `json:"title"`
	Level int    `json:"level"`
	Page  int    `json:"page"`
}

type Metadata struct {
	Filename string     `json:"filename"`
	Pages    int        `json:"pages"`
	Language string     `json:"language"`
	TOC      []TOCEntry `json:"toc"`
}

// Response is either a result (Success=true) or a structured error.
type Response struct {
	Text      string    `json:"text,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Error     string    `json:"error,omitempty"`
	Traceback string    `json:"traceback,omitempty"`
	Success   bool      `json:"success"`
}

// WithDefaults fills the optional fields the way the worker always has.
func (in Input) WithDefaults() Input {
	if strings.TrimSpace(in.Filename) == "" {
		in.Filename = DefaultFilename
	}
	switch strings.ToLower(strings.TrimSpace(in.OutputFormat)) {
	case FormatMarkdown, "md":
		in.OutputFormat = FormatMarkdown
	default:
		in.OutputFormat = DefaultOutputFormat
	}
	if in.MaxPages < 0 {
		in.MaxPages = 0
	}
	return in
}

func Failure(msg string) Response {
	return Response{Error: msg, Success: false}
}

// Record is one line of the job journal.
type Record struct {
	ID         string
	Filename   string
	Engine     string
	PDFHash    string
	Success    bool
	Error      string
	CacheHit   bool
	DurationMS int64
}
