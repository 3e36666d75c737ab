package stories

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"

	"telegram-story-bot/internal/logging"
)

// Client fetches stories and their media with an authorized user session.
type Client struct {
	api    *tg.Client
	sender *message.Sender
	dl     *downloader.Downloader
	dir    string
}

// NewClient downloads into dir, which must exist.
func NewClient(api *tg.Client, dir string) *Client {
	return &Client{
		api:    api,
		sender: message.NewSender(api),
		dl:     downloader.NewDownloader(),
		dir:    dir,
	}
}

// EnsureDir creates the download directory.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir %s: %w", dir, err)
	}
	return nil
}

// FetchActiveStories returns the active stories of handle in the order
// Telegram lists them.
func (c *Client) FetchActiveStories(ctx context.Context, handle string) ([]Story, error) {
	peer, err := c.sender.Resolve(handle).AsInputPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", handle, err)
	}
	res, err := c.api.StoriesGetPeerStories(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("get stories of %s: %w", handle, err)
	}
	items, err := c.fillSkipped(ctx, peer, res.Stories.Stories)
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Debug().Str("handle", handle).Int("count", len(items)).Msg("stories fetched")
	return mapStories(handle, items), nil
}

// fillSkipped replaces the items Telegram only announced by id with the full
// story, keeping the original order.
func (c *Client) fillSkipped(ctx context.Context, peer tg.InputPeerClass, items []tg.StoryItemClass) ([]tg.StoryItemClass, error) {
	var ids []int
	for _, item := range items {
		if s, ok := item.(*tg.StoryItemSkipped); ok {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return items, nil
	}
	res, err := c.api.StoriesGetStoriesByID(ctx, &tg.StoriesGetStoriesByIDRequest{Peer: peer, ID: ids})
	if err != nil {
		return nil, fmt.Errorf("get stories by id: %w", err)
	}
	return mergeSkipped(items, res.Stories), nil
}

func mergeSkipped(items, full []tg.StoryItemClass) []tg.StoryItemClass {
	byID := make(map[int]tg.StoryItemClass, len(full))
	for _, s := range full {
		byID[s.GetID()] = s
	}
	out := make([]tg.StoryItemClass, 0, len(items))
	for _, item := range items {
		if _, skipped := item.(*tg.StoryItemSkipped); skipped {
			if f, ok := byID[item.GetID()]; ok {
				out = append(out, f)
			}
			continue
		}
		out = append(out, item)
	}
	return out
}

// DownloadMedia writes the variant of m to a new file in the download
// directory and returns its path. A failed download leaves no file behind.
func (c *Client) DownloadMedia(ctx context.Context, m Media, v Variant) (string, error) {
	loc, ext, cached, err := m.location(v)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.dir, uuid.NewString()+ext)
	if cached != nil {
		if err := os.WriteFile(path, cached, 0o600); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("write cached thumbnail: %w", err)
		}
		return path, nil
	}
	if _, err := c.dl.Download(c.api, loc).ToPath(ctx, path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("download %s: %w", m.Kind, err)
	}
	return path, nil
}
