package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"pdf-ocr-worker/api/internal/job"
	"pdf-ocr-worker/api/internal/util"
)

const (
	maxReplyChars = 3900
	pollIdle      = 200 * time.Millisecond
	// Bot API refuses to serve files above 20 MB.
	maxDownloadBytes = 20 * 1024 * 1024
)

// Bot is the subset of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

type Processor interface {
	Process(ctx context.Context, j job.Job) job.Response
}

type Router struct {
	Bot    Bot
	Token  string
	Proc   Processor
	Engine string
	Logger *logrus.Logger

	// FileURL is a printf template taking the token and the file path.
	FileURL string
	Client  *http.Client
	// MaxFileBytes caps both the announced and the downloaded document size.
	MaxFileBytes int64

	prefs prefsStore
}

func NewRouter(bot Bot, token string, proc Processor, engine string, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		Bot:     bot,
		Token:   token,
		Proc:    proc,
		Engine:  engine,
		Logger:  logger,
		FileURL:      "https://api.telegram.org/file/bot%s/%s",
		Client:       &http.Client{Timeout: 60 * time.Second},
		MaxFileBytes: maxDownloadBytes,
	}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	if upd.Message.IsCommand() {
		r.HandleCommand(upd)
		return
	}
	if upd.Message.Document != nil {
		r.acceptDocument(ctx, *upd.Message)
		return
	}
	if len(upd.Message.Photo) > 0 {
		r.send(upd.Message.Chat.ID, "Send the scan as a PDF document, not as a photo.")
	}
}

func (r *Router) HandleCommand(upd tgbotapi.Update) {
	cid := upd.Message.Chat.ID
	args := strings.TrimSpace(upd.Message.CommandArguments())
	switch upd.Message.Command() {
	case "start", "help":
		r.send(cid, "Send me a PDF document and I will return its text.\nCommands: /health, /format json|markdown, /lang en,de")
	case "health":
		r.send(cid, "✅ OK ("+r.Engine+")")
	case "format":
		switch strings.ToLower(args) {
		case job.FormatJSON:
			r.prefs.setFormat(cid, job.FormatJSON)
		case job.FormatMarkdown, "md":
			r.prefs.setFormat(cid, job.FormatMarkdown)
		default:
			r.send(cid, "Usage: /format json|markdown (current: "+r.prefs.get(cid).Format+")")
			return
		}
		r.send(cid, "✅ Output format: "+r.prefs.get(cid).Format)
	case "lang":
		langs := parseLangs(args)
		r.prefs.setLangs(cid, langs)
		if len(langs) == 0 {
			r.send(cid, "✅ Language hints cleared")
			return
		}
		r.send(cid, "✅ Language hints: "+strings.Join(langs, ", "))
	default:
		r.send(cid, "Unknown command")
	}
}

func isPDFDocument(d *tgbotapi.Document) bool {
	if strings.EqualFold(d.MimeType, "application/pdf") {
		return true
	}
	return strings.EqualFold(path.Ext(d.FileName), ".pdf")
}

func (r *Router) acceptDocument(ctx context.Context, msg tgbotapi.Message) {
	cid := msg.Chat.ID
	doc := msg.Document
	if !isPDFDocument(doc) {
		r.send(cid, "Only PDF documents are supported.")
		return
	}
	if int64(doc.FileSize) > r.MaxFileBytes {
		r.send(cid, fmt.Sprintf("The file is too large (%d bytes). Limit is %d.", doc.FileSize, r.MaxFileBytes))
		return
	}

	file, err := r.Bot.GetFile(tgbotapi.FileConfig{FileID: doc.FileID})
	if err != nil {
		r.SendError(cid, err)
		return
	}
	data, err := r.download(ctx, fmt.Sprintf(r.FileURL, r.Token, file.FilePath))
	if err != nil {
		r.SendError(cid, err)
		return
	}

	r.send(cid, "PDF received, processing…")
	prefs := r.prefs.get(cid)
	j := job.Job{
		ID: fmt.Sprintf("tg-%d-%d", cid, msg.MessageID),
		Input: job.Input{
			PDFBase64:    base64.StdEncoding.EncodeToString(data),
			Filename:     doc.FileName,
			OutputFormat: prefs.Format,
			Langs:        prefs.Langs,
		},
	}
	resp := r.Proc.Process(ctx, j)
	if !resp.Success {
		r.SendError(cid, errors.New(resp.Error))
		return
	}
	r.SendResult(cid, resp)
}

func (r *Router) SendResult(chatID int64, resp job.Response) {
	var b strings.Builder
	b.WriteString("📝 Extracted text")
	if m := resp.Metadata; m != nil {
		fmt.Fprintf(&b, " (%s, pages: %d, language: %s)", m.Filename, m.Pages, m.Language)
	}
	b.WriteString(":\n\n")
	txt := strings.TrimSpace(resp.Text)
	if txt == "" {
		txt = "(empty)"
	}
	b.WriteString(util.Truncate(txt, maxReplyChars))
	r.send(chatID, b.String())
}

func (r *Router) SendError(chatID int64, err error) {
	r.send(chatID, fmt.Sprintf("OCR error: %v", err))
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		r.Logger.WithError(err).WithField("chat_id", chatID).Warn("telegram: send failed")
	}
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download: status %d: %s", resp.StatusCode, string(b))
	}
	// FileSize is optional in updates, so the body is the real check
	b, err := io.ReadAll(io.LimitReader(resp.Body, r.MaxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > r.MaxFileBytes {
		return nil, fmt.Errorf("file too large: more than %d bytes", r.MaxFileBytes)
	}
	return b, nil
}
