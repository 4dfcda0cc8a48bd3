// Package storage is the optional persistence layer. When enabled it
// durably keeps dedup fingerprints and pending notifications so a
// restart neither re-escalates answered threads nor double-notifies
// on webhook redelivery. With storage disabled the engine runs fully
// in-memory and a restart starts cold; that loss window is accepted
// and logged at startup.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty or "none" driver disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// PendingRecord is the persisted shape of a pending notification:
// enough of the original event to reconstruct the forward-back path
// after a restart.
type PendingRecord struct {
	NotificationID int
	ChannelID      string
	PostID         string
	AuthorID       string
	Text           string
	ArrivedAt      time.Time
	SentAt         time.Time
	Deadline       time.Time
}

// Store is the minimal persistence API used by the bridge.
type Store interface {
	PutDedup(ctx context.Context, fingerprint string, seenAt time.Time) error
	ListDedup(ctx context.Context) (map[string]time.Time, error)
	PruneDedup(ctx context.Context, before time.Time) error

	PutPending(ctx context.Context, rec PendingRecord) error
	DeletePending(ctx context.Context, notificationID int) error
	ListPending(ctx context.Context) ([]PendingRecord, error)

	Close() error
}

// Open initializes the configured store. Returns (nil, nil) when
// storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
