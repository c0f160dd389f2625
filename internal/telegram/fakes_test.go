package telegram

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

type memVerificationStore struct {
	mu     sync.Mutex
	values map[string]string
	saves  []map[string]string
	err    error
}

func newMemVerificationStore() *memVerificationStore {
	return &memVerificationStore{values: make(map[string]string)}
}

func (m *memVerificationStore) Load(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memVerificationStore) Save(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := make(map[string]string, len(values))
	for k, v := range values {
		m.values[k] = v
		cp[k] = v
	}
	m.saves = append(m.saves, cp)
	return nil
}

func (m *memVerificationStore) get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

func (m *memVerificationStore) submit(valueKey, submittedKey, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[valueKey] = value
	m.values[submittedKey] = "true"
}

type fakeClient struct {
	mu sync.Mutex

	sessionPath string
	connectErr  error
	authorized  bool
	selfErr     error
	loginErr    error
	// loginWrites makes a successful Login create the session blob.
	loginWrites bool
	askPassword bool
	// stall makes Connect, Authorized and Self block until ctx is done.
	stall bool
	// stallHistory makes history iteration block until ctx is done.
	stallHistory bool
	// stallDownload makes DownloadPhoto block until ctx is done.
	stallDownload bool

	gotCode     string
	gotPassword string
	closed      bool

	channels map[string]ingest.Channel
	history  []ingest.RawMessage
	pages    int
}

func (c *fakeClient) stalled(ctx context.Context) error {
	c.mu.Lock()
	stall := c.stall
	c.mu.Unlock()
	if !stall {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if err := c.stalled(ctx); err != nil {
		return err
	}
	return c.connectErr
}

func (c *fakeClient) Authorized(ctx context.Context) (bool, error) {
	if err := c.stalled(ctx); err != nil {
		return false, err
	}
	return c.authorized, nil
}

func (c *fakeClient) Self(ctx context.Context) (Identity, error) {
	if err := c.stalled(ctx); err != nil {
		return Identity{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfErr != nil {
		return Identity{}, c.selfErr
	}
	return Identity{ID: 42, Username: "ingest_bot"}, nil
}

func (c *fakeClient) Login(ctx context.Context, _ string, code, password PromptFunc) error {
	v, err := code(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.gotCode = v
	c.mu.Unlock()
	if c.askPassword {
		pw, err := password(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.gotPassword = pw
		c.mu.Unlock()
	}
	if c.loginErr != nil {
		return c.loginErr
	}
	if c.loginWrites {
		return os.WriteFile(c.sessionPath, []byte("{}"), 0o600)
	}
	return nil
}

func (c *fakeClient) Resolve(_ context.Context, target ingest.ChannelTarget) (ingest.Channel, error) {
	ch, ok := c.channels[target.Identifier]
	if !ok {
		return ingest.Channel{}, errors.New("USERNAME_NOT_OCCUPIED")
	}
	return ch, nil
}

func (c *fakeClient) History(_ context.Context, _ ingest.Channel, _ int) (MessageIterator, error) {
	c.mu.Lock()
	c.pages++
	stall := c.stallHistory
	c.mu.Unlock()
	if stall {
		return &blockingIterator{}, nil
	}
	return &sliceIterator{msgs: c.history}, nil
}

func (c *fakeClient) DownloadPhoto(ctx context.Context, _ *ingest.PhotoRef, _ string) error {
	if c.stallDownload {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type sliceIterator struct {
	msgs []ingest.RawMessage
	pos  int
	cur  ingest.RawMessage
}

func (s *sliceIterator) Next(context.Context) bool {
	if s.pos >= len(s.msgs) {
		return false
	}
	s.cur = s.msgs[s.pos]
	s.pos++
	return true
}

func (s *sliceIterator) Message() ingest.RawMessage { return s.cur }

func (s *sliceIterator) Err() error { return nil }

// blockingIterator never yields; each Next waits for ctx like a stalled page request.
type blockingIterator struct {
	err error
}

func (b *blockingIterator) Next(ctx context.Context) bool {
	<-ctx.Done()
	b.err = ctx.Err()
	return false
}

func (b *blockingIterator) Message() ingest.RawMessage { return ingest.RawMessage{} }

func (b *blockingIterator) Err() error { return b.err }

type countingPacer struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *countingPacer) Wait(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[key]++
	return nil
}
