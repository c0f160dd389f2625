// Package telegram owns the authenticated platform session: login with an
// operator-assisted verification relay, channel resolution and history
// iteration. The platform connection is used by one caller at a time.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// State is the lifecycle position of the session.
type State int32

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingVerification
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by platform calls made before EnsureConnected succeeded.
var ErrNotConnected = errors.New("telegram session not connected")

// RateLimitGuidance is appended to ErrProviderRateLimited failures.
const RateLimitGuidance = "wait 24h before logging in again"

// Identity is the logged-in account.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
}

// Name returns the username, or the first name when there is none.
func (i Identity) Name() string {
	if i.Username != "" {
		return i.Username
	}
	return i.FirstName
}

// PromptFunc supplies a login secret on demand.
type PromptFunc func(ctx context.Context) (string, error)

// Client is the platform surface the pipeline needs.
type Client interface {
	Connect(ctx context.Context) error
	Authorized(ctx context.Context) (bool, error)
	Self(ctx context.Context) (Identity, error)
	Login(ctx context.Context, phone string, code, password PromptFunc) error
	Resolve(ctx context.Context, target ingest.ChannelTarget) (ingest.Channel, error)
	History(ctx context.Context, ch ingest.Channel, batchSize int) (MessageIterator, error)
	DownloadPhoto(ctx context.Context, photo *ingest.PhotoRef, dst string) error
	Close() error
}

// ClientFactory builds an unconnected client persisting its session blob at sessionPath.
type ClientFactory func(cfg ingest.TelegramConfig, sessionPath string) (Client, error)

// Session drives the login state machine and owns the single live client.
type Session struct {
	mu      sync.Mutex
	state   atomic.Int32
	client  Client
	factory ClientFactory
	relay   *Relay
	dir     string
	timeout time.Duration
	logger  *zap.Logger
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithRequestTimeout bounds each connect, authorization and identity call.
// Login itself is bounded by the relay timeout instead.
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession wires a Session storing blobs under dir.
func NewSession(factory ClientFactory, relay *Relay, dir string, logger *zap.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		factory: factory,
		relay:   relay,
		dir:     dir,
		timeout: DefaultRequestTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultRequestTimeout bounds session calls when no timeout is configured.
const DefaultRequestTimeout = 30 * time.Second

func (s *Session) connect(ctx context.Context, client Client) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return client.Connect(cctx)
}

func (s *Session) authorized(ctx context.Context, client Client) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return client.Authorized(cctx)
}

func (s *Session) self(ctx context.Context, client Client) (Identity, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return client.Self(cctx)
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("session state", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

// SessionPath is where the blob for name is persisted.
func (s *Session) SessionPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// EnsureConnected returns once the session is authenticated, reusing the live
// client or a saved blob when possible and otherwise running a full login.
func (s *Session) EnsureConnected(ctx context.Context, cfg ingest.TelegramConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.State() == StateAuthenticated {
		me, err := s.self(ctx, s.client)
		if err == nil {
			s.logger.Debug("session alive", zap.String("user", me.Name()))
			return nil
		}
		s.logger.Info("live session check failed, reconnecting", zap.Error(err))
		s.dropClient()
	}

	if err := validateConfig(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	path := s.SessionPath(cfg.SessionName)
	s.setState(StateConnecting)
	if _, err := os.Stat(path); err == nil {
		client, err := s.resume(ctx, cfg, path)
		if err == nil {
			s.client = client
			s.setState(StateAuthenticated)
			return nil
		}
		s.logger.Warn("saved session unusable, discarding",
			zap.String("path", path),
			zap.Error(fmt.Errorf("%w: %v", ingest.ErrSessionInvalid, err)),
		)
		s.removeBlob(path)
	}
	return s.login(ctx, cfg, path)
}

func (s *Session) resume(ctx context.Context, cfg ingest.TelegramConfig, path string) (Client, error) {
	client, err := s.factory(cfg, path)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	if err := s.connect(ctx, client); err != nil {
		s.closeClient(client)
		return nil, fmt.Errorf("connect: %w", err)
	}
	ok, err := s.authorized(ctx, client)
	if err != nil || !ok {
		s.closeClient(client)
		if err == nil {
			err = errors.New("not authorized")
		}
		return nil, fmt.Errorf("authorization check: %w", err)
	}
	me, err := s.self(ctx, client)
	if err != nil {
		s.closeClient(client)
		return nil, fmt.Errorf("identity check: %w", err)
	}
	s.logger.Info("resumed saved session", zap.String("user", me.Name()), zap.Int64("user_id", me.ID))
	return client, nil
}

func (s *Session) login(ctx context.Context, cfg ingest.TelegramConfig, path string) error {
	s.logger.Info("starting login", zap.String("session", path))
	client, err := s.factory(cfg, path)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("build client: %w", err)
	}
	if err := s.connect(ctx, client); err != nil {
		s.closeClient(client)
		s.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}

	code := func(ctx context.Context) (string, error) {
		s.setState(StateAwaitingVerification)
		defer s.setState(StateConnecting)
		return s.relay.Await(ctx, CodeChallenge)
	}
	password := func(ctx context.Context) (string, error) {
		if cfg.TwoFactorPassword != "" {
			return cfg.TwoFactorPassword, nil
		}
		s.setState(StateAwaitingVerification)
		defer s.setState(StateConnecting)
		return s.relay.Await(ctx, PasswordChallenge)
	}

	if err := client.Login(ctx, cfg.Phone, code, password); err != nil {
		s.closeClient(client)
		s.setState(StateDisconnected)
		return s.loginFailed(ctx, path, err)
	}

	me, err := s.self(ctx, client)
	if err != nil {
		s.closeClient(client)
		s.setState(StateDisconnected)
		return fmt.Errorf("identity after login: %w", err)
	}
	if err := s.relay.Complete(ctx); err != nil {
		s.logger.Warn("mark verification complete", zap.Error(err))
	}
	s.client = client
	s.setState(StateAuthenticated)
	s.logger.Info("login succeeded", zap.String("user", me.Name()), zap.Int64("user_id", me.ID), zap.String("session", path))
	return nil
}

func (s *Session) loginFailed(ctx context.Context, path string, err error) error {
	switch {
	case IsRateLimited(err):
		s.removeBlob(path)
		if cerr := s.relay.Clear(ctx); cerr != nil {
			s.logger.Warn("clear verification state", zap.Error(cerr))
		}
		s.logger.Error("login rate limited by provider", zap.Error(err))
		if errors.Is(err, ingest.ErrProviderRateLimited) {
			return fmt.Errorf("%w; %s", err, RateLimitGuidance)
		}
		return fmt.Errorf("%w: %v; %s", ingest.ErrProviderRateLimited, err, RateLimitGuidance)
	case errors.Is(err, ingest.ErrVerificationTimeout), errors.Is(err, context.Canceled):
		return err
	default:
		s.removeBlob(path)
		return fmt.Errorf("telegram login: %w", err)
	}
}

// IsRateLimited reports whether err is the provider refusing further login codes.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ingest.ErrProviderRateLimited) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "ResendCodeRequest") || strings.Contains(msg, "all available options")
}

// Client returns the live client or ErrNotConnected.
func (s *Session) Client() (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.State() != StateAuthenticated {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// Close disconnects the live client, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	return nil
}

func (s *Session) dropClient() {
	s.closeClient(s.client)
	s.client = nil
	s.setState(StateDisconnected)
}

func (s *Session) closeClient(c Client) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		s.logger.Debug("close client", zap.Error(err))
	}
}

func (s *Session) removeBlob(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove session blob", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("session blob removed", zap.String("path", path))
}

func validateConfig(cfg ingest.TelegramConfig) error {
	var missing []string
	if cfg.APIID <= 0 {
		missing = append(missing, "api id")
	}
	if cfg.APIHash == "" {
		missing = append(missing, "api hash")
	}
	if cfg.Phone == "" {
		missing = append(missing, "phone")
	}
	if cfg.SessionName == "" {
		missing = append(missing, "session name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ingest.ErrConfigIncomplete, strings.Join(missing, ", "))
	}
	return nil
}
