// Package ingest defines the domain types shared by the ingestion pipeline:
// channel targets, raw platform messages, parsed messages, stored articles and
// the typed per-cycle configuration assembled from the settings store.
package ingest

import (
	"time"
)

// TargetKind classifies how a configured channel line identifies its channel.
type TargetKind int

// Supported channel identifier forms.
const (
	TargetHandle TargetKind = iota
	TargetNumericID
	TargetURL
)

func (k TargetKind) String() string {
	switch k {
	case TargetNumericID:
		return "numeric_id"
	case TargetURL:
		return "url"
	default:
		return "handle"
	}
}

// ChannelTarget is one configured channel line.
type ChannelTarget struct {
	// Raw is the trimmed configuration line as written by the operator.
	Raw string
	// Kind selects which of Identifier / NumericID is meaningful.
	Kind TargetKind
	// Identifier carries a handle ("@name"), a "-100..." id string, or a URL.
	Identifier string
	// NumericID is set when Kind is TargetNumericID.
	NumericID int64
	// Limit is the per-cycle message cap for this target.
	Limit int
}

// Channel is a resolved broadcast channel.
type Channel struct {
	ID         int64
	AccessHash int64
	Title      string
	Username   string
}

// PhotoRef locates the largest thumbnail of a message photo on the platform.
type PhotoRef struct {
	ID            int64
	AccessHash    int64
	FileReference []byte
	ThumbSize     string
	Size          int64
}

// RawMessage is one channel post as returned by the platform.
type RawMessage struct {
	ID        int
	ChannelID int64
	Date      time.Time
	Text      string
	Photo     *PhotoRef
}

// HasPhoto reports whether the message carries photo media.
func (m RawMessage) HasPhoto() bool {
	return m.Photo != nil
}

// Empty reports whether the message has neither text nor photo (service posts).
func (m RawMessage) Empty() bool {
	return m.Text == "" && m.Photo == nil
}

// ParsedMessage holds the structured fields extracted from a post body.
type ParsedMessage struct {
	Title       string
	Description string
	SizeLabel   string
	Link        string
	LinkHTML    string
	Tags        []string
	CategoryID  *int
}

// Article is the row written to the article store.
type Article struct {
	Title      string
	Content    string
	Tags       []string
	CategoryID *int
	ImageURL   string
	CreatedAt  time.Time
}

// ProcessedRecord is one dedup ledger entry.
type ProcessedRecord struct {
	ChannelID   int64
	MessageID   int
	ProcessedAt time.Time
}

// CycleStats accumulates counters for a single ingestion cycle.
type CycleStats struct {
	Total              int   `json:"total"`
	Duplicate          int   `json:"duplicate"`
	New                int   `json:"new"`
	BlockedTagsRemoved int   `json:"blocked_tags_removed"`
	SkippedTargets     int   `json:"skipped_targets"`
	Images             int   `json:"images"`
	ImageFallbacks     int   `json:"image_fallbacks"`
	Cleaned            int64 `json:"cleaned"`
}

// ArticleCreated is the notification payload published after an article is stored.
type ArticleCreated struct {
	CycleID   string    `json:"cycle_id"`
	ChannelID int64     `json:"channel_id"`
	MessageID int       `json:"message_id"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TopicArticleCreated names the article notification event.
const TopicArticleCreated = "article.created"
