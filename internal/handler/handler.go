package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-story-bot/internal/extract"
	"telegram-story-bot/internal/logging"
	"telegram-story-bot/internal/storage"
	"telegram-story-bot/internal/stories"
	"telegram-story-bot/internal/tasks"
)

const (
	welcomeText  = "Welcome! Send me a Telegram username or profile link to download stories."
	guidanceText = "Please send a valid Telegram username or profile link."
	internalText = "Something went wrong, please try again later."
)

// Bot is the subset of *tg.Bot the handler talks to.
type Bot interface {
	SendMessage(ctx context.Context, params *tg.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *tg.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *tg.DeleteMessageParams) (bool, error)
	SendPhoto(ctx context.Context, params *tg.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *tg.SendVideoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *tg.SendDocumentParams) (*models.Message, error)
}

// StorySource lists stories and downloads their media to local files.
type StorySource interface {
	FetchActiveStories(ctx context.Context, handle string) ([]stories.Story, error)
	DownloadMedia(ctx context.Context, m stories.Media, v stories.Variant) (string, error)
}

type Store interface {
	AddUser(ctx context.Context, userID, accessHash int64) (bool, error)
	RecordDownloadedFile(ctx context.Context) error
	Status(ctx context.Context) (storage.Status, error)
}

type Options struct {
	// Devs may query /status.
	Devs       []int64
	UpdatesURL string
}

// Handler routes bot updates. It is created once at startup and owns the
// task registry and the process start time.
type Handler struct {
	stories    StorySource
	store      Store
	tasks      *tasks.Registry
	devs       map[int64]bool
	updatesURL string
	startedAt  time.Time
	now        func() time.Time
}

func New(src StorySource, store Store, reg *tasks.Registry, opts Options) *Handler {
	devs := make(map[int64]bool, len(opts.Devs))
	for _, id := range opts.Devs {
		devs[id] = true
	}
	return &Handler{
		stories:    src,
		store:      store,
		tasks:      reg,
		devs:       devs,
		updatesURL: opts.UpdatesURL,
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

// HandleUpdate processes a Telegram update. Every message is dispatched to
// exactly one of /status, /start or the generic message handler.
func (h *Handler) HandleUpdate(ctx context.Context, b Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	ctx = logging.WithChat(logging.Context(ctx), msg.Chat.ID)
	if msg.From != nil {
		ctx = logging.WithUser(ctx, msg.From.ID)
	}
	log := logging.Ctx(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", "handler_panic").Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
			if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: msg.Chat.ID, Text: internalText}); err != nil {
				log.Error().Err(err).Msg("send failure notice failed")
			}
		}
	}()

	log.Info().Str("event", "telegram_request").Str("snippet", logging.Snippet(msg.Text, 30)).Msg("incoming message")

	h.recordUser(ctx, msg.From)

	cmd, _, isCmd := parseCommand(msg)
	switch {
	case isCmd && cmd == "status" && msg.From != nil && h.devs[msg.From.ID]:
		h.handleStatus(ctx, b, msg)
	case isCmd && cmd == "start" && msg.Chat.Type == models.ChatTypePrivate:
		h.handleStart(ctx, b, msg)
	default:
		h.handleMessage(ctx, b, msg)
	}
}

// recordUser stores the sender. The Bot API does not expose access hashes,
// so 0 is stored.
func (h *Handler) recordUser(ctx context.Context, from *models.User) {
	if from == nil {
		return
	}
	added, err := h.store.AddUser(ctx, from.ID, 0)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("record user failed")
		return
	}
	if added {
		logging.Ctx(ctx).Info().Str("event", "new_user").Msg("user registered")
	}
}

func (h *Handler) handleStart(ctx context.Context, b Bot, msg *models.Message) {
	params := &tg.SendMessageParams{
		ChatID:          msg.Chat.ID,
		Text:            welcomeText,
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	}
	if h.updatesURL != "" {
		params.ReplyMarkup = &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{{Text: "Updates", URL: h.updatesURL}}},
		}
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("send welcome failed")
	}
}

func (h *Handler) handleMessage(ctx context.Context, b Bot, msg *models.Message) {
	if strings.HasPrefix(msg.Text, "/") || msg.Chat.Type != models.ChatTypePrivate {
		return
	}
	handle, ok := extract.Handle(msg.Text)
	if !ok {
		if _, err := b.SendMessage(ctx, &tg.SendMessageParams{
			ChatID:          msg.Chat.ID,
			Text:            guidanceText,
			ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
		}); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("send guidance failed")
		}
		return
	}
	h.startDownload(ctx, b, msg.Chat.ID, handle)
}

// parseCommand returns the command at the start of the message without the
// leading slash and the @bot suffix.
func parseCommand(msg *models.Message) (cmd, args string, ok bool) {
	if msg.Text == "" {
		return "", "", false
	}
	end := -1
	for _, e := range msg.Entities {
		if e.Type == models.MessageEntityTypeBotCommand && e.Offset == 0 && e.Length <= len(msg.Text) {
			end = e.Length
			break
		}
	}
	if end < 0 {
		if !strings.HasPrefix(msg.Text, "/") {
			return "", "", false
		}
		end = len(msg.Text)
		if i := strings.IndexAny(msg.Text, " \n\t"); i >= 0 {
			end = i
		}
	}
	cmd = strings.TrimPrefix(msg.Text[:end], "/")
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd == "" {
		return "", "", false
	}
	return strings.ToLower(cmd), strings.TrimSpace(msg.Text[end:]), true
}

func failureText(handle string) string {
	return fmt.Sprintf("Failed to download story from %s", handle)
}
