package handler

import (
	"context"
	"fmt"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-story-bot/internal/logging"
	"telegram-story-bot/internal/storage"
)

func (h *Handler) handleStatus(ctx context.Context, b Bot, msg *models.Message) {
	log := logging.Ctx(ctx)
	st, err := h.store.Status(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read status failed")
		if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: msg.Chat.ID, Text: "Failed to read bot status."}); err != nil {
			log.Error().Err(err).Msg("send status failure notice failed")
		}
		return
	}
	uptime := h.now().Sub(h.startedAt)
	if _, err := b.SendMessage(ctx, &tg.SendMessageParams{
		ChatID:          msg.Chat.ID,
		Text:            statusReport(st, uptime),
		ParseMode:       models.ParseModeHTML,
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	}); err != nil {
		log.Error().Err(err).Msg("send status failed")
		return
	}
	log.Info().Str("event", "status").Int64("users", st.Users).Int64("files", st.Files).Msg("status reported")
}

func statusReport(st storage.Status, uptime time.Duration) string {
	return fmt.Sprintf(
		"<b>Total users:</b> <code>%d</code>\n"+
			"<b>Downloaded files:</b> <code>%d</code>\n"+
			"<b>Uptime:</b> <code>%s</code>\n"+
			"<b>Database size:</b> <code>%.2f MB (%.2f KB)</code>",
		st.Users, st.Files, uptime.Truncate(time.Second), st.SizeMB(), st.SizeKB(),
	)
}
