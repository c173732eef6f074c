package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"pdf-ocr-worker/api/internal/config"
	"pdf-ocr-worker/api/internal/convert"
	"pdf-ocr-worker/api/internal/convert/engines"
	"pdf-ocr-worker/api/internal/handle"
	"pdf-ocr-worker/api/internal/httpserver"
	"pdf-ocr-worker/api/internal/job"
	"pdf-ocr-worker/api/internal/store"
	"pdf-ocr-worker/api/internal/telegram"
	"pdf-ocr-worker/api/internal/worker"
)

var Version = "dev"

// app holds what every command needs.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	h      *handle.Handle
	db     *sql.DB
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:    "ocr-worker",
		Usage:   "PDF to text OCR job worker",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load before reading the environment"},
			&cli.StringFlag{Name: "engine", Usage: "OCR engine (tesseract or gemini), overrides OCR_ENGINE"},
			&cli.StringFlag{Name: "log-level", Usage: "log level, overrides LOG_LEVEL"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the local job API (/runsync, /health)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen port, overrides PORT"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.close()
					return a.serve(c.Context)
				},
			},
			{
				Name:  "worker",
				Usage: "pull jobs from the serverless queue",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "with-api", Usage: "also run the local job API"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.close()
					if err := a.cfg.ValidateWorker(); err != nil {
						return err
					}
					g, gctx := errgroup.WithContext(c.Context)
					g.Go(func() error { return a.poller().Run(gctx) })
					if c.Bool("with-api") {
						g.Go(func() error { return a.serve(gctx) })
					}
					return g.Wait()
				},
			},
			{
				Name:  "bot",
				Usage: "run the Telegram front end together with the local job API",
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.close()
					r, err := a.router()
					if err != nil {
						return err
					}
					g, gctx := errgroup.WithContext(c.Context)
					g.Go(func() error { return r.Run(gctx) })
					g.Go(func() error { return a.serve(gctx) })
					return g.Wait()
				},
			},
			{
				Name:  "run",
				Usage: "process one test job and print the response",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "test-input", Usage: "job JSON, e.g. '{\"input\":{\"pdf_base64\":\"...\"}}'"},
					&cli.StringFlag{Name: "test-input-file", Usage: "path to a job JSON file"},
				},
				Action: func(c *cli.Context) error {
					a, err := setup(c)
					if err != nil {
						return err
					}
					defer a.close()

					var resp job.Response
					switch {
					case c.String("test-input") != "":
						resp, err = worker.RunTestInput(c.Context, a.h, []byte(c.String("test-input")), os.Stdout)
					case c.String("test-input-file") != "":
						resp, err = worker.RunTestInputFile(c.Context, a.h, c.String("test-input-file"), os.Stdout)
					default:
						return errors.New("one of --test-input or --test-input-file is required")
					}
					if err != nil {
						return err
					}
					if !resp.Success {
						return cli.Exit("job failed: "+resp.Error, 1)
					}
					return nil
				},
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		logrus.WithError(err).Fatal("ocr-worker failed")
	}
}

// setup loads configuration, checks the engine and wires the handler.
// The converter itself is only loaded by the first job.
func setup(c *cli.Context) (*app, error) {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return nil, fmt.Errorf("load %s: %w", c.String("env-file"), err)
	}
	cfg := config.Load()
	if v := c.String("engine"); v != "" {
		cfg.Engine = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("port"); v != "" {
		cfg.Port = v
	}

	logger := config.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version, err := engines.Check(cfg.Engine)
	if err != nil {
		// without the OCR library no job can ever succeed
		logger.WithError(err).Fatal("ocr engine unavailable")
	}
	logger.WithFields(logrus.Fields{"engine": cfg.Engine, "version": version}).Info("ocr engine available")

	loader, err := engines.Loader(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	opts := handle.Options{
		Engine:      cfg.Engine,
		TmpDir:      cfg.TmpDir,
		MaxPDFBytes: cfg.MaxPDFBytes,
		JobTimeout:  cfg.JobTimeout,
	}
	if cfg.DatabaseURL != "" {
		db, err := store.Open(c.Context, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("database unavailable")
		}
		logger.Infof("db connected: %s", store.SafeDSNSummary(cfg.DatabaseURL))
		if err := store.EnsureSchema(c.Context, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		results := store.NewResultRepo(db, cfg.ResultCacheTTL)
		purgeStale(c.Context, results, cfg.ResultCacheTTL, logger)

		a.db = db
		opts.Cache = results
		opts.Journal = store.NewJobRepo(db)
	}

	a.h = handle.New(convert.NewLazy(loader), logger, opts)
	return a, nil
}

func purgeStale(ctx context.Context, repo *store.ResultRepo, ttl time.Duration, logger *logrus.Logger) {
	if ttl <= 0 {
		return
	}
	n, err := repo.PurgeOlderThan(ctx, ttl)
	if err != nil {
		logger.WithError(err).Warn("purge stale results failed")
		return
	}
	if n > 0 {
		logger.Infof("purged %d stale cached results", n)
	}
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/runsync", a.h.RunSync)
	mux.HandleFunc("/health", a.h.Health)
	return httpserver.Run(ctx, ":"+a.cfg.Port, mux, a.logger)
}

func (a *app) poller() *worker.Poller {
	return worker.NewPoller(a.cfg.JobTakeURL, a.cfg.JobDoneURL, a.cfg.WorkerAPIKey, a.cfg.WorkerID, a.h, a.logger)
}

func (a *app) router() (*telegram.Router, error) {
	if a.cfg.TelegramBotToken == "" {
		return nil, errors.New("missing required env TELEGRAM_BOT_TOKEN")
	}
	bot, err := tgbotapi.NewBotAPI(a.cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false
	a.logger.Infof("telegram: authorized as @%s", bot.Self.UserName)
	return telegram.NewRouter(bot, a.cfg.TelegramBotToken, a.h, a.cfg.Engine, a.logger), nil
}
