package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// SaveAndMark inserts the article and its ledger row in one transaction.
func (s *Store) SaveAndMark(ctx context.Context, article ingest.Article, record ingest.ProcessedRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (title, content, tags, sort_id, image_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, s.tables.Article)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return datastoreErr("begin article save", err)
	}
	if _, err := tx.Exec(ctx, query,
		article.Title,
		article.Content,
		strings.Join(article.Tags, ", "),
		article.CategoryID,
		article.ImageURL,
		article.CreatedAt,
	); err != nil {
		rollback(ctx, tx)
		return datastoreErr("insert article", err)
	}
	if _, err := tx.Exec(ctx, s.ledgerInsertSQL(), record.ChannelID, record.MessageID, record.ProcessedAt); err != nil {
		rollback(ctx, tx)
		return datastoreErr("mark processed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return datastoreErr("commit article save", err)
	}
	return nil
}
