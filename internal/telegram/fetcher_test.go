package telegram

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

func connectedFetcher(t *testing.T, client *fakeClient, batch int) (*Fetcher, *countingPacer) {
	t.Helper()
	return connectedFetcherWithTimeout(t, client, batch, time.Second)
}

func connectedFetcherWithTimeout(t *testing.T, client *fakeClient, batch int, timeout time.Duration) (*Fetcher, *countingPacer) {
	t.Helper()
	h := newHarness(t)
	h.writeBlob(t)
	client.authorized = true
	h.next = func(string) *fakeClient { return client }
	require.NoError(t, h.session.EnsureConnected(context.Background(), testConfig()))

	pacer := &countingPacer{}
	return NewFetcher(h.session, pacer, FetcherConfig{BatchSize: batch, RequestTimeout: timeout}, zap.NewNop()), pacer
}

func TestFetcherResolve(t *testing.T) {
	t.Parallel()

	client := &fakeClient{channels: map[string]ingest.Channel{"@known": {ID: 7, Title: "Known"}}}
	f, pacer := connectedFetcher(t, client, 10)

	ch, err := f.Resolve(context.Background(), ingest.ChannelTarget{Raw: "@known", Identifier: "@known"})
	require.NoError(t, err)
	require.EqualValues(t, 7, ch.ID)

	_, err = f.Resolve(context.Background(), ingest.ChannelTarget{Raw: "@missing", Identifier: "@missing"})
	require.ErrorIs(t, err, ingest.ErrChannelResolution)
	require.Equal(t, 2, pacer.calls[keyResolve])
}

func TestFetcherResolveRequiresSession(t *testing.T) {
	t.Parallel()

	f := NewFetcher(NewSession(nil, nil, t.TempDir(), nil), &countingPacer{}, FetcherConfig{}, nil)
	_, err := f.Resolve(context.Background(), ingest.ChannelTarget{Raw: "@x", Identifier: "@x"})
	require.ErrorIs(t, err, ingest.ErrChannelResolution)
}

func TestFetcherIterateHonorsLimitAndPaces(t *testing.T) {
	t.Parallel()

	var msgs []ingest.RawMessage
	for id := 10; id > 0; id-- {
		msgs = append(msgs, ingest.RawMessage{ID: id, ChannelID: 7, Text: "m"})
	}
	client := &fakeClient{history: msgs}
	f, pacer := connectedFetcher(t, client, 3)

	it, err := f.Iterate(context.Background(), ingest.Channel{ID: 7}, 7)
	require.NoError(t, err)
	var ids []int
	for it.Next(context.Background()) {
		ids = append(ids, it.Message().ID)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []int{10, 9, 8, 7, 6, 5, 4}, ids)
	require.Equal(t, 3, pacer.calls[keyHistory])

	// A fresh call starts again from the newest message.
	it, err = f.Iterate(context.Background(), ingest.Channel{ID: 7}, 2)
	require.NoError(t, err)
	require.True(t, it.Next(context.Background()))
	require.Equal(t, 10, it.Message().ID)
	require.Equal(t, 2, client.pages)
}

func TestFetcherIterateBoundsStalledPage(t *testing.T) {
	t.Parallel()

	client := &fakeClient{stallHistory: true}
	f, _ := connectedFetcherWithTimeout(t, client, 10, 50*time.Millisecond)

	it, err := f.Iterate(context.Background(), ingest.Channel{ID: 7}, 5)
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() { done <- it.Next(context.Background()) }()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("history page still blocked past the request timeout")
	}
	require.ErrorIs(t, it.Err(), context.DeadlineExceeded)
}

func TestFetcherDownloadPhotoBoundsStalledCall(t *testing.T) {
	t.Parallel()

	client := &fakeClient{stallDownload: true}
	f, pacer := connectedFetcherWithTimeout(t, client, 10, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- f.DownloadPhoto(context.Background(), &ingest.PhotoRef{ID: 1}, filepath.Join(t.TempDir(), "p.jpg"))
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("photo download still blocked past the request timeout")
	}
	require.Equal(t, 1, pacer.calls[keyDownload])
}
