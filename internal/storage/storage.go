package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedURL is returned by Open for connection strings with an
// unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Status holds the aggregates reported by /status.
type Status struct {
	Users     int64
	Files     int64
	SizeBytes int64
}

// SizeKB returns the store size in kilobytes.
func (s Status) SizeKB() float64 {
	return float64(s.SizeBytes) / 1024
}

// SizeMB returns the store size in megabytes.
func (s Status) SizeMB() float64 {
	return s.SizeKB() / 1024
}

// Store persists known users and the downloaded-file counter.
type Store interface {
	// AddUser records the user if it is not known yet and reports whether it
	// was inserted. A concurrent duplicate insert resolves to false, nil.
	AddUser(ctx context.Context, userID, accessHash int64) (bool, error)
	// RecordDownloadedFile appends one row to the downloaded-file counter.
	RecordDownloadedFile(ctx context.Context) error
	// Status returns user count, file count and on-disk size.
	Status(ctx context.Context) (Status, error)
	Close() error
}

// Open opens the store described by rawURL:
//
//	bolt://path/to/file.db or a bare path   bolt
//	sqlite://path, sqlite+aiosqlite:///path  sqlite
//	postgres://..., postgresql+asyncpg://... postgres
func Open(ctx context.Context, rawURL string) (Store, error) {
	kind, dsn, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "bolt":
		s, err := OpenBolt(dsn)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", dsn, err)
		}
		return s, nil
	case "sqlite":
		return openSQL(ctx, sqliteDialect, dsn)
	default:
		return openSQL(ctx, postgresDialect, dsn)
	}
}

func parseURL(rawURL string) (kind, dsn string, err error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", "", fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}
	if !strings.Contains(rawURL, "://") {
		return "bolt", rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	scheme, _, _ := strings.Cut(strings.ToLower(u.Scheme), "+")
	switch scheme {
	case "bolt", "sqlite":
		p := u.Host + u.Path
		if u.Host == "" {
			// sqlalchemy style: three slashes relative, four absolute
			p = strings.TrimPrefix(u.Path, "/")
		}
		if p == "" {
			return "", "", fmt.Errorf("%w: missing path in %q", ErrUnsupportedURL, rawURL)
		}
		return scheme, p, nil
	case "postgres", "postgresql":
		u.Scheme = "postgres"
		return "postgres", u.String(), nil
	}
	return "", "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
}
