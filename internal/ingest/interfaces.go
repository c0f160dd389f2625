package ingest

import (
	"context"
	"time"
)

// Clock abstracts time so waits can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Publisher emits notifications about stored articles.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces deterministic content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator returns unique identifiers for cycles.
type IDGenerator interface {
	NewID() (string, error)
}

// ArticleStore persists an article and marks its ledger entry in one unit of work.
type ArticleStore interface {
	SaveAndMark(ctx context.Context, article Article, record ProcessedRecord) error
}

// RetryPolicy decides whether and when to retry a failed operation.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
