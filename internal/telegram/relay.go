package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/settings"
)

// Relay timing defaults.
const (
	DefaultPollInterval        = 2 * time.Second
	DefaultVerificationTimeout = 300 * time.Second
)

// VerificationStore reads and writes relay keys in the shared settings table.
type VerificationStore interface {
	Load(ctx context.Context, keys ...string) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

// Challenge names the three keys of one out-of-band prompt and what counts as
// an acceptable answer.
type Challenge struct {
	Name         string
	RequiredKey  string
	ValueKey     string
	SubmittedKey string
	Accept       func(string) bool
}

// CodeChallenge asks the operator for the 5-digit login code.
var CodeChallenge = Challenge{
	Name:         "verification code",
	RequiredKey:  settings.KeyVerificationRequired,
	ValueKey:     settings.KeyVerificationCode,
	SubmittedKey: settings.KeyVerificationSubmitted,
	Accept:       isLoginCode,
}

// PasswordChallenge asks the operator for the two-factor password.
var PasswordChallenge = Challenge{
	Name:         "two-factor password",
	RequiredKey:  settings.KeyPasswordRequired,
	ValueKey:     settings.KeyPassword,
	SubmittedKey: settings.KeyPasswordSubmitted,
	Accept:       func(v string) bool { return v != "" },
}

func isLoginCode(v string) bool {
	if len(v) != 5 {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// RelayConfig tunes polling.
type RelayConfig struct {
	Poll    time.Duration
	Timeout time.Duration
}

// Relay hands a login prompt to a human through the datastore and waits for the answer.
type Relay struct {
	store   VerificationStore
	clock   ingest.Clock
	poll    time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewRelay wires a Relay. Zero durations use the defaults.
func NewRelay(store VerificationStore, clock ingest.Clock, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVerificationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:   store,
		clock:   clock,
		poll:    cfg.Poll,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Await publishes ch as required and polls until an acceptable value is
// submitted. On timeout it returns ingest.ErrVerificationTimeout and leaves the
// flags as they are so the operator UI still shows the pending request.
func (r *Relay) Await(ctx context.Context, ch Challenge) (string, error) {
	if err := r.store.Save(ctx, map[string]string{
		ch.RequiredKey:  "true",
		ch.ValueKey:     "",
		ch.SubmittedKey: "false",
	}); err != nil {
		return "", fmt.Errorf("%w: publish %s request: %v", ingest.ErrDatastore, ch.Name, err)
	}
	r.logger.Info("waiting for operator input", zap.String("challenge", ch.Name), zap.Duration("timeout", r.timeout))

	deadline := r.clock.After(r.timeout)
	var rejected string
	for {
		if v, ok := r.check(ctx, ch, &rejected); ok {
			if err := r.store.Save(ctx, map[string]string{
				ch.RequiredKey:  "false",
				ch.SubmittedKey: "false",
			}); err != nil {
				r.logger.Warn("reset request flags", zap.String("challenge", ch.Name), zap.Error(err))
			}
			r.logger.Info("operator input received", zap.String("challenge", ch.Name))
			return v, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("await %s: %w", ch.Name, ctx.Err())
		case <-deadline:
			r.logger.Error("operator input timed out", zap.String("challenge", ch.Name))
			return "", fmt.Errorf("%w: %s after %s", ingest.ErrVerificationTimeout, ch.Name, r.timeout)
		case <-r.clock.After(r.poll):
		}
	}
}

// check reads the submission once. Rejections are logged once per distinct value.
func (r *Relay) check(ctx context.Context, ch Challenge, rejected *string) (string, bool) {
	vals, err := r.store.Load(ctx, ch.SubmittedKey, ch.ValueKey)
	if err != nil {
		r.logger.Warn("poll operator input", zap.String("challenge", ch.Name), zap.Error(err))
		return "", false
	}
	v := strings.TrimSpace(vals[ch.ValueKey])
	if !settings.ParseBool(vals[ch.SubmittedKey]) || v == "" {
		return "", false
	}
	if !ch.Accept(v) {
		if v != *rejected {
			*rejected = v
			r.logger.Warn("rejected operator input", zap.String("challenge", ch.Name), zap.Int("length", len(v)))
		}
		return "", false
	}
	return v, true
}

// Complete clears every verification field and marks the session valid.
func (r *Relay) Complete(ctx context.Context) error {
	vals := clearedFields()
	vals[settings.KeySessionValid] = "true"
	if err := r.store.Save(ctx, vals); err != nil {
		return fmt.Errorf("%w: mark verification complete: %v", ingest.ErrDatastore, err)
	}
	return nil
}

// Clear resets the verification fields and marks the session invalid.
func (r *Relay) Clear(ctx context.Context) error {
	vals := clearedFields()
	vals[settings.KeySessionValid] = "false"
	if err := r.store.Save(ctx, vals); err != nil {
		return fmt.Errorf("%w: clear verification state: %v", ingest.ErrDatastore, err)
	}
	return nil
}

func clearedFields() map[string]string {
	return map[string]string{
		settings.KeyVerificationRequired:  "false",
		settings.KeyVerificationCode:      "",
		settings.KeyVerificationSubmitted: "false",
		settings.KeyPasswordRequired:      "false",
		settings.KeyPassword:              "",
		settings.KeyPasswordSubmitted:     "false",
	}
}
