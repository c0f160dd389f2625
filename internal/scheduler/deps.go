package scheduler

import (
	"context"

	"github.com/google/uuid"

	"github.com/JakeFAU/tg-ingest/internal/images"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/settings"
	"github.com/JakeFAU/tg-ingest/internal/telegram"
)

// Settings is the runtime configuration source.
type Settings interface {
	ForceRefresh(ctx context.Context) error
	GetAll(ctx context.Context) *settings.Snapshot
}

// Session keeps the platform connection authenticated.
type Session interface {
	EnsureConnected(ctx context.Context, cfg ingest.TelegramConfig) error
	State() telegram.State
}

// Fetcher resolves targets and walks their history.
type Fetcher interface {
	Resolve(ctx context.Context, target ingest.ChannelTarget) (ingest.Channel, error)
	Iterate(ctx context.Context, ch ingest.Channel, limit int) (telegram.MessageIterator, error)
}

// Ledger answers and records "already processed".
type Ledger interface {
	IsProcessed(ctx context.Context, channelID int64, messageID int) bool
	MarkProcessed(ctx context.Context, channelID int64, messageID int) error
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// Parser turns a post body into structured fields.
type Parser interface {
	Parse(text string) ingest.ParsedMessage
}

// ImageProcessor relocates one message photo.
type ImageProcessor interface {
	Process(ctx context.Context, msg ingest.RawMessage, dateBucket string, cfg ingest.ImageConfig) (images.Result, error)
}

// IDGenerator issues cycle ids.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
