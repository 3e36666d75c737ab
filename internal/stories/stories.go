// Package stories talks to Telegram through the secondary user session:
// it lists the active stories of an account and downloads their media.
package stories

import (
	"errors"
	"mime"
	"path/filepath"

	"github.com/gotd/td/tg"
)

var (
	ErrNotAuthorized    = errors.New("user session is not authorized")
	ErrUnsupportedMedia = errors.New("unsupported story media")
	ErrNoThumbnail      = errors.New("media has no thumbnail")
)

type MediaKind int

const (
	KindUnsupported MediaKind = iota
	KindPhoto
	KindVideo
	KindDocument
)

func (k MediaKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	}
	return "unsupported"
}

// Attributes are the document attributes carried over to the upload.
type Attributes struct {
	FileName          string
	MimeType          string
	Duration          float64
	Width             int
	Height            int
	Video             bool
	SupportsStreaming bool
}

// Media references the downloadable part of a story. Attributes is nil for
// photos.
type Media struct {
	Kind       MediaKind
	Attributes *Attributes

	photo *tg.Photo
	doc   *tg.Document
}

type Story struct {
	ID      int
	Handle  string
	Caption string
	Media   Media
}

type Variant int

const (
	Full Variant = iota
	// Thumbnail is the last (representative) thumbnail of the media.
	Thumbnail
)

func mapStories(handle string, items []tg.StoryItemClass) []Story {
	out := make([]Story, 0, len(items))
	for _, item := range items {
		s, ok := item.(*tg.StoryItem)
		if !ok {
			continue
		}
		out = append(out, Story{
			ID:      s.ID,
			Handle:  handle,
			Caption: s.Caption,
			Media:   mediaFromTG(s.Media),
		})
	}
	return out
}

func mediaFromTG(m tg.MessageMediaClass) Media {
	switch m := m.(type) {
	case *tg.MessageMediaPhoto:
		if p, ok := m.Photo.(*tg.Photo); ok {
			return Media{Kind: KindPhoto, photo: p}
		}
	case *tg.MessageMediaDocument:
		if d, ok := m.Document.(*tg.Document); ok {
			attrs := documentAttributes(d)
			kind := KindDocument
			if attrs.Video {
				kind = KindVideo
			}
			return Media{Kind: kind, Attributes: attrs, doc: d}
		}
	}
	return Media{Kind: KindUnsupported}
}

func documentAttributes(d *tg.Document) *Attributes {
	a := &Attributes{MimeType: d.MimeType}
	for _, attr := range d.Attributes {
		switch attr := attr.(type) {
		case *tg.DocumentAttributeFilename:
			a.FileName = attr.FileName
		case *tg.DocumentAttributeVideo:
			a.Video = true
			a.Duration = attr.Duration
			a.Width = attr.W
			a.Height = attr.H
			a.SupportsStreaming = attr.SupportsStreaming
		case *tg.DocumentAttributeImageSize:
			if a.Width == 0 && a.Height == 0 {
				a.Width, a.Height = attr.W, attr.H
			}
		}
	}
	return a
}

// location returns the file location for the variant and the extension of
// the file it points to. cached is set when the thumbnail bytes are inlined
// and need no download.
func (m Media) location(v Variant) (loc tg.InputFileLocationClass, ext string, cached []byte, err error) {
	switch {
	case m.photo != nil:
		sizes := m.photo.Sizes
		var size tg.PhotoSizeClass
		if v == Thumbnail {
			size = lastThumb(sizes)
		} else {
			size = largestSize(sizes)
		}
		if size == nil {
			if v == Thumbnail {
				return nil, "", nil, ErrNoThumbnail
			}
			return nil, "", nil, ErrUnsupportedMedia
		}
		if c, ok := size.(*tg.PhotoCachedSize); ok {
			return nil, ".jpg", c.Bytes, nil
		}
		return &tg.InputPhotoFileLocation{
			ID:            m.photo.ID,
			AccessHash:    m.photo.AccessHash,
			FileReference: m.photo.FileReference,
			ThumbSize:     size.GetType(),
		}, ".jpg", nil, nil

	case m.doc != nil:
		loc := &tg.InputDocumentFileLocation{
			ID:            m.doc.ID,
			AccessHash:    m.doc.AccessHash,
			FileReference: m.doc.FileReference,
		}
		if v == Full {
			return loc, fileExt(m.Attributes), nil, nil
		}
		size := lastThumb(m.doc.Thumbs)
		if size == nil {
			return nil, "", nil, ErrNoThumbnail
		}
		if c, ok := size.(*tg.PhotoCachedSize); ok {
			return nil, ".jpg", c.Bytes, nil
		}
		loc.ThumbSize = size.GetType()
		return loc, ".jpg", nil, nil
	}
	return nil, "", nil, ErrUnsupportedMedia
}

func largestSize(sizes []tg.PhotoSizeClass) tg.PhotoSizeClass {
	var best tg.PhotoSizeClass
	area := -1
	for _, s := range sizes {
		var w, h int
		switch s := s.(type) {
		case *tg.PhotoSize:
			w, h = s.W, s.H
		case *tg.PhotoSizeProgressive:
			w, h = s.W, s.H
		default:
			continue
		}
		if w*h > area {
			area = w * h
			best = s
		}
	}
	return best
}

// lastThumb picks the last size that can be written to a file; stripped
// previews are skipped.
func lastThumb(sizes []tg.PhotoSizeClass) tg.PhotoSizeClass {
	for i := len(sizes) - 1; i >= 0; i-- {
		switch sizes[i].(type) {
		case *tg.PhotoSize, *tg.PhotoSizeProgressive, *tg.PhotoCachedSize:
			return sizes[i]
		}
	}
	return nil
}

func fileExt(a *Attributes) string {
	if a == nil {
		return ".bin"
	}
	if ext := filepath.Ext(a.FileName); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(a.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if a.Video {
		return ".mp4"
	}
	return ".bin"
}
