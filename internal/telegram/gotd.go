package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/messages"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

const (
	closeTimeout    = 10 * time.Second
	dialogBatchSize = 100
)

// rateLimitCodes are RPC errors that mean no further login code will be sent.
var rateLimitCodes = []string{"SEND_CODE_UNAVAILABLE", "PHONE_NUMBER_FLOOD"}

// NewGotdFactory returns a ClientFactory backed by github.com/gotd/td with a
// JSON file session storage.
func NewGotdFactory(logger *zap.Logger) ClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(cfg ingest.TelegramConfig, sessionPath string) (Client, error) {
		client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
			SessionStorage: &session.FileStorage{Path: sessionPath},
			Logger:         logger.Named("gotd"),
		})
		return &gotdClient{client: client, logger: logger}, nil
	}
}

type gotdClient struct {
	client *telegram.Client
	api    *tg.Client
	peers  *peers.Manager
	warm   *dialogWarmup
	cancel context.CancelFunc
	done   chan error
	logger *zap.Logger
}

// Connect starts the client run loop in the background and returns once it is ready.
func (c *gotdClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
		c.cancel, c.done = cancel, done
		c.api = c.client.API()
		c.peers = peers.Options{Logger: c.logger.Named("peers")}.Build(c.api)
		c.warm = &dialogWarmup{
			fill:     c.fillPeers,
			isMiss:   isPeerMiss,
			now:      time.Now,
			interval: dialogRefreshInterval,
		}
		return nil
	case err := <-done:
		cancel()
		return fmt.Errorf("run client: %w", err)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (c *gotdClient) Authorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

func (c *gotdClient) Self(ctx context.Context) (Identity, error) {
	me, err := c.client.Self(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("self: %w", err)
	}
	return Identity{ID: me.ID, Username: me.Username, FirstName: me.FirstName}, nil
}

func (c *gotdClient) Login(ctx context.Context, phone string, code, password PromptFunc) error {
	flow := auth.NewFlow(authenticator{phone: phone, code: code, password: password}, auth.SendCodeOptions{})
	if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
		return classifyAuthError(err)
	}
	return nil
}

func (c *gotdClient) Resolve(ctx context.Context, target ingest.ChannelTarget) (ingest.Channel, error) {
	if target.Kind == ingest.TargetNumericID {
		id := BareChannelID(target.NumericID)
		return c.warm.resolve(ctx, func(ctx context.Context) (ingest.Channel, error) {
			ch, err := c.peers.ResolveChannelID(ctx, id)
			if err != nil {
				return ingest.Channel{}, err
			}
			return channelOf(ch), nil
		})
	}
	peer, err := c.peers.Resolve(ctx, target.Identifier)
	if err != nil {
		return ingest.Channel{}, err
	}
	ch, ok := peer.(peers.Channel)
	if !ok {
		return ingest.Channel{}, fmt.Errorf("%s is not a channel", target.Identifier)
	}
	return channelOf(ch), nil
}

func channelOf(ch peers.Channel) ingest.Channel {
	raw := ch.Raw()
	username, _ := ch.Username()
	return ingest.Channel{
		ID:         raw.ID,
		AccessHash: raw.AccessHash,
		Title:      ch.VisibleName(),
		Username:   username,
	}
}

// fillPeers walks every dialog of the account and feeds the users and
// channels it sees into the peer cache, which records their access hashes.
func (c *gotdClient) fillPeers(ctx context.Context) error {
	users := make(map[int64]tg.UserClass)
	chats := make(map[int64]tg.ChatClass)
	it := query.GetDialogs(c.api).BatchSize(dialogBatchSize).Iter()
	for it.Next(ctx) {
		ents := it.Value().Entities
		for id, u := range ents.Users() {
			users[id] = u
		}
		for id, ch := range ents.Channels() {
			chats[id] = ch
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate dialogs: %w", err)
	}
	userList := make([]tg.UserClass, 0, len(users))
	for _, u := range users {
		userList = append(userList, u)
	}
	chatList := make([]tg.ChatClass, 0, len(chats))
	for _, ch := range chats {
		chatList = append(chatList, ch)
	}
	if err := c.peers.Apply(ctx, userList, chatList); err != nil {
		return fmt.Errorf("apply dialog peers: %w", err)
	}
	c.logger.Info("peer cache filled from dialogs", zap.Int("channels", len(chatList)), zap.Int("users", len(userList)))
	return nil
}

// isPeerMiss reports a lookup that failed for want of a cached access hash.
func isPeerMiss(err error) bool {
	var notFound *peers.PeerNotFoundError
	return errors.As(err, &notFound) || tgerr.Is(err, tg.ErrChannelInvalid)
}

func (c *gotdClient) History(_ context.Context, ch ingest.Channel, batchSize int) (MessageIterator, error) {
	peer := &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	it := query.NewQuery(c.api).Messages().GetHistory(peer).BatchSize(batchSize).Iter()
	return &gotdIterator{it: it, channelID: ch.ID}, nil
}

func (c *gotdClient) DownloadPhoto(ctx context.Context, photo *ingest.PhotoRef, dst string) error {
	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     photo.ThumbSize,
	}
	if _, err := downloader.NewDownloader().Download(c.api, loc).ToPath(ctx, dst); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

func (c *gotdClient) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case err := <-c.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-time.After(closeTimeout):
		return errors.New("client did not stop in time")
	}
}

// classifyAuthError maps provider throttling to ingest.ErrProviderRateLimited.
func classifyAuthError(err error) error {
	if tgerr.Is(err, rateLimitCodes...) {
		return fmt.Errorf("%w: %v", ingest.ErrProviderRateLimited, err)
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("%w: flood wait %s: %v", ingest.ErrProviderRateLimited, d, err)
	}
	return err
}

type authenticator struct {
	phone    string
	code     PromptFunc
	password PromptFunc
}

func (a authenticator) Phone(context.Context) (string, error) {
	return a.phone, nil
}

func (a authenticator) Password(ctx context.Context) (string, error) {
	return a.password(ctx)
}

func (a authenticator) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.code(ctx)
}

func (a authenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a authenticator) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("account sign up is not supported")
}

type gotdIterator struct {
	it        *messages.Iterator
	channelID int64
	current   ingest.RawMessage
}

func (g *gotdIterator) Next(ctx context.Context) bool {
	for g.it.Next(ctx) {
		msg, ok := g.it.Value().Msg.(*tg.Message)
		if !ok {
			// Service messages carry neither text nor media.
			g.current = ingest.RawMessage{ID: g.it.Value().Msg.GetID(), ChannelID: g.channelID}
			return true
		}
		g.current = convertMessage(msg, g.channelID)
		return true
	}
	return false
}

func (g *gotdIterator) Message() ingest.RawMessage { return g.current }

func (g *gotdIterator) Err() error { return g.it.Err() }

func convertMessage(msg *tg.Message, channelID int64) ingest.RawMessage {
	out := ingest.RawMessage{
		ID:        msg.ID,
		ChannelID: channelID,
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
		Text:      msg.Message,
	}
	if media, ok := msg.Media.(*tg.MessageMediaPhoto); ok {
		if photo, ok := media.Photo.(*tg.Photo); ok {
			out.Photo = photoRef(photo)
		}
	}
	return out
}

// photoRef picks the largest stored size of photo.
func photoRef(photo *tg.Photo) *ingest.PhotoRef {
	var (
		best string
		size int64
	)
	for _, s := range photo.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if int64(v.Size) >= size {
				best, size = v.Type, int64(v.Size)
			}
		case *tg.PhotoSizeProgressive:
			if n := len(v.Sizes); n > 0 && int64(v.Sizes[n-1]) >= size {
				best, size = v.Type, int64(v.Sizes[n-1])
			}
		}
	}
	if best == "" {
		return nil
	}
	return &ingest.PhotoRef{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     best,
		Size:          size,
	}
}
