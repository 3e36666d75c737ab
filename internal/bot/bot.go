package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gotd/td/telegram"
	"golang.org/x/sync/errgroup"

	"telegram-story-bot/internal/config"
	"telegram-story-bot/internal/handler"
	"telegram-story-bot/internal/logging"
	"telegram-story-bot/internal/storage"
	"telegram-story-bot/internal/stories"
	"telegram-story-bot/internal/tasks"
	"telegram-story-bot/internal/usersession"
)

// drainTimeout bounds how long shutdown waits for running downloads.
const drainTimeout = 30 * time.Second

// Run starts the user session and the bot poller and blocks until ctx is
// cancelled or one of them fails. Downloads still running at shutdown are
// given drainTimeout to finish before the user session is closed.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := stories.EnsureDir(cfg.DownloadDir); err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()

	sess, err := usersession.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("user session: %w", err)
	}
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{SessionStorage: sess})
	reg := tasks.NewRegistry()

	// The user session must outlive the poller so that running tasks can
	// finish after polling stops.
	sessCtx, stopSession := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSession()

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan *stories.Client, 1)

	g.Go(func() error {
		return client.Run(sessCtx, func(ctx context.Context) error {
			if err := stories.Authenticate(ctx, client, cfg.Phone); err != nil {
				return err
			}
			logging.Log.Info().Str("event", "user_session_ready").Msg("user session authorized")
			ready <- stories.NewClient(client.API(), cfg.DownloadDir)
			<-ctx.Done()
			return nil
		})
	})

	g.Go(func() error {
		defer stopSession()

		var src *stories.Client
		select {
		case src = <-ready:
		case <-gctx.Done():
			return nil
		}

		h := handler.New(src, store, reg, handler.Options{Devs: cfg.Devs, UpdatesURL: cfg.UpdatesURL})
		b, err := tgbot.New(cfg.BotToken,
			tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
				h.HandleUpdate(ctx, b, upd)
			}),
			tgbot.WithErrorsHandler(func(err error) {
				logging.Log.Error().Err(err).Str("event", "telegram_error").Msg("bot api error")
			}),
		)
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		logging.Log.Info().Str("event", "bot_started").Msg("bot started")
		b.Start(gctx)

		logging.Log.Info().Str("event", "bot_stopping").Int("chats", reg.Chats()).Msg("waiting for running downloads")
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := reg.Wait(drainCtx); err != nil {
			logging.Log.Warn().Err(err).Msg("downloads still running at shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
