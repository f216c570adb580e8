// Package otp implements the one-time-passcode lifecycle: generation,
// storage, verification, attempt counting, and block state, plus the
// order-confirmation variant bound to an order id.
package otp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
	"github.com/kossrlive/isignin/internal/store"
)

// Store key families owned by this package.
const (
	keyRecord    = "otp:"          // otp:<identity>, the active code
	keyAttempts  = "otp:attempts:" // otp:attempts:<identity>, mismatches against the active code
	keyFailures  = "otp:fail:"     // otp:fail:<identity>, cumulative failures across issuances
	keyBlock     = "otp:block:"    // otp:block:<identity>, presence blocks issue and verify
	keySendBlock = "sms:block:"    // sms:block:<identity>, send-rate block owned by the send gate
)

// record is the stored OTPRecord. The attempt counter lives in its own key
// so increments stay atomic under concurrent verifies.
type record struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds the engine's tunable limits. Zero values fall back to the
// domain defaults.
type Config struct {
	CodeLength         int
	CodeTTL            time.Duration
	MaxAttemptsPerCode int
	MaxFailures        int
	FailureWindow      time.Duration
	BlockDuration      time.Duration
}

func (c Config) withDefaults() Config {
	if c.CodeLength == 0 {
		c.CodeLength = domain.OTPLength
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = domain.OTPValidityDuration
	}
	if c.MaxAttemptsPerCode == 0 {
		c.MaxAttemptsPerCode = domain.OTPMaxAttemptsPerCode
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = domain.OTPMaxFailures
	}
	if c.FailureWindow == 0 {
		c.FailureWindow = domain.OTPFailureWindow
	}
	if c.BlockDuration == 0 {
		c.BlockDuration = domain.OTPBlockDuration
	}
	return c
}

// Engine issues and verifies one-time passcodes for an identity.
type Engine struct {
	store    store.Store
	clock    domain.Clock
	cfg      Config
	generate func(length int) (string, error)
}

// NewEngine creates an Engine on the given store and clock.
func NewEngine(st store.Store, clock domain.Clock, cfg Config) *Engine {
	return &Engine{
		store:    st,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		generate: GenerateCode,
	}
}

// WithGenerator overrides code generation. Use only in tests.
func (e *Engine) WithGenerator(gen func(length int) (string, error)) *Engine {
	e.generate = gen
	return e
}

// Issue draws a fresh code for identity and stores it, superseding any
// prior record and resetting its attempt counter. Fails with
// domain.ErrBlocked while a verification block is active and with
// domain.ErrSendRateLimit while a send block is active.
func (e *Engine) Issue(ctx context.Context, identity string) (string, error) {
	if err := e.checkBlocked(ctx, identity); err != nil {
		return "", err
	}

	sendBlocked, err := e.store.Exists(ctx, keySendBlock+identity)
	if err != nil {
		return "", fmt.Errorf("check send block: %w", err)
	}
	if sendBlocked {
		return "", e.withBlockTTL(ctx, keySendBlock+identity, domain.ErrSendRateLimit)
	}

	code, err := e.generate(e.cfg.CodeLength)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(record{Code: code, CreatedAt: e.clock.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("encode otp record: %w", err)
	}

	if err := e.store.Set(ctx, keyRecord+identity, string(raw), e.cfg.CodeTTL); err != nil {
		return "", fmt.Errorf("store otp record: %w", err)
	}
	// The new code starts with a clean attempt count.
	if err := e.store.Del(ctx, keyAttempts+identity); err != nil {
		return "", fmt.Errorf("reset attempt counter: %w", err)
	}

	return code, nil
}

// Verify checks candidate against the active code for identity. A match
// consumes the record. The third consecutive mismatch invalidates the
// record; the fifth cumulative failure inside the failure window creates a
// block that rejects both Issue and Verify until it expires.
func (e *Engine) Verify(ctx context.Context, identity, candidate string) error {
	if err := e.checkBlocked(ctx, identity); err != nil {
		return err
	}

	raw, err := e.store.Get(ctx, keyRecord+identity)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return domain.ErrCodeExpired
		}
		return fmt.Errorf("read otp record: %w", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("decode otp record: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(rec.Code)) == 1 {
		if err := e.store.Del(ctx, keyRecord+identity, keyAttempts+identity); err != nil {
			return fmt.Errorf("consume otp record: %w", err)
		}
		return nil
	}

	return e.recordMismatch(ctx, identity)
}

func (e *Engine) recordMismatch(ctx context.Context, identity string) error {
	attempts, err := e.store.Incr(ctx, keyAttempts+identity)
	if err != nil {
		return fmt.Errorf("count attempt: %w", err)
	}
	if attempts == 1 {
		// The counter dies with the record it guards.
		if err := e.store.Expire(ctx, keyAttempts+identity, e.cfg.CodeTTL); err != nil {
			return fmt.Errorf("expire attempt counter: %w", err)
		}
	}
	if attempts >= int64(e.cfg.MaxAttemptsPerCode) {
		if err := e.store.Del(ctx, keyRecord+identity, keyAttempts+identity); err != nil {
			return fmt.Errorf("invalidate otp record: %w", err)
		}
	}

	failures, err := e.store.Incr(ctx, keyFailures+identity)
	if err != nil {
		return fmt.Errorf("count failure: %w", err)
	}
	if failures == 1 {
		if err := e.store.Expire(ctx, keyFailures+identity, e.cfg.FailureWindow); err != nil {
			return fmt.Errorf("expire failure counter: %w", err)
		}
	}
	if failures >= int64(e.cfg.MaxFailures) {
		if _, err := e.store.SetNX(ctx, keyBlock+identity, "1", e.cfg.BlockDuration); err != nil {
			return fmt.Errorf("set block: %w", err)
		}
		if err := e.store.Del(ctx, keyFailures+identity); err != nil {
			return fmt.Errorf("reset failure counter: %w", err)
		}
	}

	return domain.ErrCodeMismatch
}

func (e *Engine) checkBlocked(ctx context.Context, identity string) error {
	blocked, err := e.store.Exists(ctx, keyBlock+identity)
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if blocked {
		return e.withBlockTTL(ctx, keyBlock+identity, domain.ErrBlocked)
	}
	return nil
}

// withBlockTTL attaches the remaining block duration so callers can report
// it in seconds. The TTL read is best-effort.
func (e *Engine) withBlockTTL(ctx context.Context, key string, sentinel error) error {
	ttl, err := e.store.PTTL(ctx, key)
	if err != nil || ttl <= 0 {
		return sentinel
	}
	return domain.WithRetryAfter(sentinel, int(ttl.Round(time.Second).Seconds()))
}
