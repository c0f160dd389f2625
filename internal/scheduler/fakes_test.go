package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/clock/fake"
	iduuid "github.com/JakeFAU/tg-ingest/internal/id/uuid"
	"github.com/JakeFAU/tg-ingest/internal/images"
	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/ledger"
	"github.com/JakeFAU/tg-ingest/internal/parser"
	"github.com/JakeFAU/tg-ingest/internal/progress"
	pubmemory "github.com/JakeFAU/tg-ingest/internal/publisher/memory"
	"github.com/JakeFAU/tg-ingest/internal/settings"
	"github.com/JakeFAU/tg-ingest/internal/storage/memory"
	"github.com/JakeFAU/tg-ingest/internal/telegram"
)

var epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeSession struct {
	mu    sync.Mutex
	err   error
	calls int
	cfgs  []ingest.TelegramConfig
}

func (f *fakeSession) EnsureConnected(_ context.Context, cfg ingest.TelegramConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cfgs = append(f.cfgs, cfg)
	return f.err
}

func (f *fakeSession) State() telegram.State {
	return telegram.StateAuthenticated
}

func (f *fakeSession) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChannel struct {
	channel  ingest.Channel
	messages []ingest.RawMessage
	err      error
}

type fakeFetcher struct {
	channels map[string]fakeChannel
	limits   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{channels: map[string]fakeChannel{}, limits: map[string]int{}}
}

func (f *fakeFetcher) add(raw string, ch ingest.Channel, msgs ...ingest.RawMessage) {
	f.channels[raw] = fakeChannel{channel: ch, messages: msgs}
}

func (f *fakeFetcher) Resolve(_ context.Context, target ingest.ChannelTarget) (ingest.Channel, error) {
	c, ok := f.channels[target.Identifier]
	if !ok {
		return ingest.Channel{}, errors.Join(ingest.ErrChannelResolution, errors.New(target.Raw))
	}
	f.limits[target.Identifier] = target.Limit
	return c.channel, c.err
}

func (f *fakeFetcher) Iterate(_ context.Context, ch ingest.Channel, limit int) (telegram.MessageIterator, error) {
	for _, c := range f.channels {
		if c.channel.ID == ch.ID {
			msgs := c.messages
			if limit < len(msgs) {
				msgs = msgs[:limit]
			}
			return &sliceIterator{msgs: msgs, pos: -1}, nil
		}
	}
	return nil, errors.New("unknown channel")
}

type sliceIterator struct {
	msgs []ingest.RawMessage
	pos  int
}

func (it *sliceIterator) Next(context.Context) bool {
	it.pos++
	return it.pos < len(it.msgs)
}

func (it *sliceIterator) Message() ingest.RawMessage { return it.msgs[it.pos] }

func (it *sliceIterator) Err() error { return nil }

type fakeImages struct {
	outcome images.Outcome
	err     error
	calls   int
	buckets []string
}

func (f *fakeImages) Process(_ context.Context, _ ingest.RawMessage, bucket string, _ ingest.ImageConfig) (images.Result, error) {
	f.calls++
	f.buckets = append(f.buckets, bucket)
	if f.err != nil {
		return images.Result{}, f.err
	}
	ref := "![](https://img.example.com/p.webp)"
	if f.outcome == images.OutcomeFallback {
		ref = "![](images/20250314/photo.webp)"
	}
	return images.Result{Ref: ref, Outcome: f.outcome}, nil
}

type failingArticles struct{}

func (failingArticles) SaveAndMark(context.Context, ingest.Article, ingest.ProcessedRecord) error {
	return ingest.ErrDatastore
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type harness struct {
	clock     *fake.Clock
	store     *memory.Store
	session   *fakeSession
	fetcher   *fakeFetcher
	images    *fakeImages
	publisher *pubmemory.Publisher
	emitter   *recordingEmitter
	deps      Deps
}

func newHarness() *harness {
	clk := fake.New(epoch)
	st := memory.New()
	h := &harness{
		clock:     clk,
		store:     st,
		session:   &fakeSession{},
		fetcher:   newFakeFetcher(),
		images:    &fakeImages{},
		publisher: pubmemory.New(),
		emitter:   &recordingEmitter{},
	}
	h.deps = Deps{
		Settings:  settings.NewManager(st, clk, 30*time.Second, zap.NewNop()),
		Session:   h.session,
		Fetcher:   h.fetcher,
		Ledger:    ledger.New(st, clk, zap.NewNop()),
		Parser:    parser.New(nil),
		Images:    h.images,
		Articles:  st,
		Publisher: h.publisher,
		Progress:  h.emitter,
		IDs:       iduuid.NewUUIDGenerator(),
		Clock:     clk,
	}
	return h
}

func (h *harness) credentials() {
	_ = h.store.Save(context.Background(), map[string]string{
		settings.KeyAPIID:   "12345",
		settings.KeyAPIHash: "hash",
		settings.KeyPhone:   "+10000000000",
	})
}

func (h *harness) set(key, value string) {
	_ = h.store.Save(context.Background(), map[string]string{key: value})
}

func (h *harness) scheduler() *Scheduler {
	return New(h.deps, Config{FallbackInterval: time.Hour}, zap.NewNop())
}

func post(title string, tags string) string {
	return "名称：" + title + "\n描述：desc\n链接：https://pan.example.com/s/x\n📁 大小：1 GB\n🏷 标签：" + tags + "\n"
}

type staticIDs struct{ err error }

func (s staticIDs) NewRawID() (uuid.UUID, error) { return uuid.Nil, s.err }
