package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/progress"
	"github.com/JakeFAU/tg-ingest/internal/store"
)

// StoreSink persists cycle history via a store.CycleRepository. Message and
// image events are collapsed per channel before writing.
type StoreSink struct {
	repo   store.CycleRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CycleRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch to the repository. Cycle starts are written before
// channel rows and completions after them, so a batch holding a whole cycle
// lands in order.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[channelKey]*channelDelta)
	var completions []progress.Event

	for _, evt := range batch {
		cycleID := evt.CycleUUID()
		switch evt.Stage {
		case progress.StageCycleStart:
			if err := s.repo.StartCycle(ctx, cycleID, evt.TS); err != nil {
				return fmt.Errorf("start cycle: %w", err)
			}
		case progress.StageCycleDone, progress.StageCycleError:
			completions = append(completions, evt)
		case progress.StageMessageNew, progress.StageMessageDuplicate, progress.StageImageUploaded:
			recordChannelDelta(deltas, cycleID, evt)
		}
	}

	for key, d := range deltas {
		if d.delta.Zero() {
			continue
		}
		if err := s.repo.UpsertChannelStats(ctx, key.cycleID, key.channel, d.delta, d.at); err != nil {
			return fmt.Errorf("upsert channel stats: %w", err)
		}
	}

	for _, evt := range completions {
		if err := s.complete(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	status := store.CycleSuccess
	var note *string
	if evt.Stage == progress.StageCycleError {
		status = store.CycleError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	var stats ingest.CycleStats
	if evt.Stats != nil {
		stats = *evt.Stats
	}
	if err := s.repo.CompleteCycle(ctx, evt.CycleUUID(), evt.TS, status, stats, note); err != nil {
		return fmt.Errorf("complete cycle: %w", err)
	}
	return nil
}

func recordChannelDelta(deltas map[channelKey]*channelDelta, cycleID uuid.UUID, evt progress.Event) {
	key := channelKey{cycleID: cycleID, channel: evt.Channel}
	d := deltas[key]
	if d == nil {
		d = &channelDelta{}
		deltas[key] = d
	}
	switch evt.Stage {
	case progress.StageMessageNew:
		d.delta.New++
	case progress.StageMessageDuplicate:
		d.delta.Duplicate++
	case progress.StageImageUploaded:
		d.delta.Images++
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type channelKey struct {
	cycleID uuid.UUID
	channel string
}

type channelDelta struct {
	delta store.ChannelDelta
	at    time.Time
}
