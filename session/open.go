package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/deepmedical/core/session/redisstore"
	"github.com/deepmedical/core/session/sqlite"
)

// Open dispatches on databaseURL's scheme to construct a Store:
// sqlite://path/to/file.db or redis://[:password@]host:port/db.
// An empty scheme (a bare path) is treated as sqlite for convenience.
func Open(databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("session: database url is required")
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid database url: %w", err)
	}

	switch u.Scheme {
	case "", "sqlite", "file":
		path := databaseURL
		if u.Scheme != "" {
			path = u.Opaque
			if path == "" {
				path = u.Path
			}
		}
		return sqlite.New(path)
	case "redis", "rediss":
		opts := []redisstore.Option{}
		if u.User != nil {
			if pw, ok := u.User.Password(); ok {
				opts = append(opts, redisstore.WithPassword(pw))
			}
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			var n int
			if _, err := fmt.Sscanf(db, "%d", &n); err == nil {
				opts = append(opts, redisstore.WithDB(n))
			}
		}
		return redisstore.New(u.Host, opts...)
	default:
		return nil, fmt.Errorf("session: unsupported database scheme %q", u.Scheme)
	}
}
