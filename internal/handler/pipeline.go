package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"telegram-story-bot/internal/logging"
	"telegram-story-bot/internal/stories"
)

// maxCaption is the Bot API limit for media captions, in characters.
const maxCaption = 1024

// DownloadRequest is one "send me the stories of HANDLE" request.
type DownloadRequest struct {
	ChatID            int64
	Handle            string
	TrackingMessageID int
}

// mediaFiles holds the local files of one story. Fields stay empty until the
// matching download succeeds, so release can always run.
type mediaFiles struct {
	File  string
	Thumb string
}

func (m *mediaFiles) release(ctx context.Context) {
	for _, p := range []*string{&m.File, &m.Thumb} {
		if *p == "" {
			continue
		}
		if err := os.Remove(*p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Ctx(ctx).Warn().Err(err).Str("path", *p).Msg("remove media file failed")
		}
		*p = ""
	}
}

// startDownload posts the tracking message and hands the request to a
// background task. It returns as soon as the task is registered.
func (h *Handler) startDownload(ctx context.Context, b Bot, chatID int64, handle string) {
	ctx = logging.WithHandle(ctx, handle)
	log := logging.Ctx(ctx)

	msg, err := b.SendMessage(ctx, &tg.SendMessageParams{
		ChatID:    chatID,
		Text:      fmt.Sprintf("<b>Downloading story from</b> <code>%s</code>", handle),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		log.Error().Err(err).Msg("send tracking message failed")
		h.notifyFailure(ctx, b, chatID, handle)
		return
	}

	req := DownloadRequest{ChatID: chatID, Handle: handle, TrackingMessageID: msg.ID}
	// The task outlives the update that started it.
	task := h.tasks.Go(context.WithoutCancel(ctx), chatID, handle, func(ctx context.Context) {
		h.runDownload(ctx, b, req)
	})
	log.Info().Str("event", "download_start").Str("task_id", task.ID).Msg("download task started")
}

func (h *Handler) runDownload(ctx context.Context, b Bot, req DownloadRequest) {
	log := logging.Ctx(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", "download_panic").Interface("panic", r).Bytes("stack", debug.Stack()).Msg("download task panicked")
			h.notifyFailure(ctx, b, req.ChatID, req.Handle)
		}
	}()

	items, err := h.stories.FetchActiveStories(ctx, req.Handle)
	if err != nil {
		log.Error().Err(err).Str("event", "fetch_failed").Msg("fetch stories failed")
		h.notifyFailure(ctx, b, req.ChatID, req.Handle)
		return
	}

	if len(items) == 0 {
		if _, err := b.EditMessageText(ctx, &tg.EditMessageTextParams{
			ChatID:    req.ChatID,
			MessageID: req.TrackingMessageID,
			Text:      fmt.Sprintf("<b>No stories found for</b> <code>%s</code>", req.Handle),
			ParseMode: models.ParseModeHTML,
		}); err != nil {
			log.Error().Err(err).Msg("edit tracking message failed")
		}
		log.Info().Str("event", "download_done").Int("stories", 0).Msg("no stories")
		return
	}

	delivered := 0
	for _, s := range items {
		if err := h.deliverStory(ctx, b, req.ChatID, s); err != nil {
			log.Error().Err(err).Str("event", "story_failed").Int("story_id", s.ID).Str("kind", s.Media.Kind.String()).Msg("story not delivered")
			continue
		}
		delivered++
		log.Info().Str("event", "story_uploaded").Int("story_id", s.ID).Msg("story uploaded")
	}

	if _, err := b.DeleteMessage(ctx, &tg.DeleteMessageParams{ChatID: req.ChatID, MessageID: req.TrackingMessageID}); err != nil {
		log.Warn().Err(err).Msg("delete tracking message failed")
	}
	if _, err := b.SendMessage(ctx, &tg.SendMessageParams{
		ChatID:    req.ChatID,
		Text:      fmt.Sprintf("All stories from <code>%s</code> have been uploaded.", req.Handle),
		ParseMode: models.ParseModeHTML,
	}); err != nil {
		log.Error().Err(err).Msg("send completion failed")
	}
	log.Info().Str("event", "download_done").Int("stories", len(items)).Int("delivered", delivered).Msg("download finished")
}

// deliverStory downloads, uploads and cleans up one story. Local files are
// removed on every path.
func (h *Handler) deliverStory(ctx context.Context, b Bot, chatID int64, s stories.Story) (err error) {
	var files mediaFiles
	defer files.release(ctx)

	if files.File, err = h.stories.DownloadMedia(ctx, s.Media, stories.Full); err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	if files.Thumb, err = h.stories.DownloadMedia(ctx, s.Media, stories.Thumbnail); err != nil {
		if !errors.Is(err, stories.ErrNoThumbnail) {
			return fmt.Errorf("download thumbnail: %w", err)
		}
		files.Thumb = ""
	}

	if err := sendStory(ctx, b, chatID, s, files); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := h.store.RecordDownloadedFile(ctx); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int("story_id", s.ID).Msg("record downloaded file failed")
	}
	return nil
}

// sendStory uploads the story as a photo, a video or a plain document,
// keeping the original attributes and caption.
func sendStory(ctx context.Context, b Bot, chatID int64, s stories.Story, files mediaFiles) error {
	f, err := os.Open(files.File)
	if err != nil {
		return err
	}
	defer f.Close()

	attrs := s.Media.Attributes
	name := filepath.Base(files.File)
	if attrs != nil && attrs.FileName != "" {
		name = attrs.FileName
	}
	media := &models.InputFileUpload{Filename: name, Data: f}

	var thumb models.InputFile
	if files.Thumb != "" {
		tf, err := os.Open(files.Thumb)
		if err != nil {
			return err
		}
		defer tf.Close()
		thumb = &models.InputFileUpload{Filename: filepath.Base(files.Thumb), Data: tf}
	}
	caption := truncate(s.Caption, maxCaption)

	switch {
	case s.Media.Kind == stories.KindPhoto:
		_, err = b.SendPhoto(ctx, &tg.SendPhotoParams{ChatID: chatID, Photo: media, Caption: caption})
	case attrs != nil && attrs.Video:
		_, err = b.SendVideo(ctx, &tg.SendVideoParams{
			ChatID:            chatID,
			Video:             media,
			Duration:          int(math.Round(attrs.Duration)),
			Width:             attrs.Width,
			Height:            attrs.Height,
			Thumbnail:         thumb,
			Caption:           caption,
			SupportsStreaming: attrs.SupportsStreaming,
		})
	default:
		_, err = b.SendDocument(ctx, &tg.SendDocumentParams{ChatID: chatID, Document: media, Thumbnail: thumb, Caption: caption})
	}
	return err
}

func (h *Handler) notifyFailure(ctx context.Context, b Bot, chatID int64, handle string) {
	if _, err := b.SendMessage(ctx, &tg.SendMessageParams{ChatID: chatID, Text: failureText(handle)}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("send failure notice failed")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
