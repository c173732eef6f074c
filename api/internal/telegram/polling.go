package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pdf-ocr-worker/api/internal/util"
)

// Run long-polls for updates until ctx is cancelled, backing off on errors.
func (r *Router) Run(ctx context.Context) error {
	offset := 0
	for {
		if ctx.Err() != nil {
			r.Logger.Info("polling: context cancelled")
			return nil
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30

		updates, err := r.Bot.GetUpdates(u)
		if err != nil {
			d := util.ClampDelay(util.RetryDelay(err))
			r.Logger.WithError(err).Warnf("polling error; retry in %v", d)
			util.Sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			r.HandleUpdate(ctx, upd)
		}
		if len(updates) == 0 {
			util.Sleep(ctx, pollIdle)
		}
	}
}
