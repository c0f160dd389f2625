package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/config"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/ledger"
	"github.com/JakeFAU/tg-ingest/internal/settings"
	"github.com/JakeFAU/tg-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/tg-ingest/internal/storage/postgres"
	"github.com/JakeFAU/tg-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/tg-ingest/internal/store"
	"github.com/JakeFAU/tg-ingest/internal/telegram"
)

// Datastore is everything the service reads from and writes to the shared
// relational store.
type Datastore interface {
	settings.Source
	telegram.VerificationStore
	ledger.Store
	ingest.ArticleStore
	store.CycleRepository
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
}

// OpenDatastore connects the configured driver. The returned func releases it.
func OpenDatastore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Datastore, func(), error) {
	tables := store.Tables{
		Config:  cfg.ConfigTable,
		Ledger:  cfg.LedgerTable,
		Article: cfg.ArticleTable,
		Cycle:   cfg.CycleTable,
	}.WithDefaults()
	if err := tables.Validate(); err != nil {
		return nil, nil, fmt.Errorf("datastore tables: %w", err)
	}

	switch cfg.Driver {
	case "postgres":
		pg, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			Tables:          tables,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres init failed: %w", err)
		}
		logger.Info("postgres datastore initialized", zap.String("articles", tables.Article), zap.String("ledger", tables.Ledger))
		return pg, pg.Close, nil
	case "sqlite":
		lite, err := sqlite.Open(ctx, cfg.DSN, tables)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		logger.Info("sqlite datastore initialized", zap.String("path", cfg.DSN))
		return lite, func() {
			if err := lite.Close(); err != nil {
				logger.Warn("sqlite close failed", zap.Error(err))
			}
		}, nil
	case "memory":
		logger.Warn("using in-memory datastore; nothing survives a restart")
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
