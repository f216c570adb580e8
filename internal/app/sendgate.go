package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kossrlive/isignin/internal/domain"
)

// Store key families for send abuse prevention. The OTP engine reads the
// send-block key too; the gate owns all writes.
const (
	keySendAttempts = "sms:attempts:" // sms:attempts:<identity>
	keySendBlock    = "sms:block:"    // sms:block:<identity>
	keyCooldown     = "sms:cooldown:" // sms:cooldown:<identity>
)

// allowSend admits one SMS send for identity: rejects while a send block
// or the 30-second cooldown is active, counts the attempt inside the
// sliding window, blocks when the cap is exceeded, and arms the cooldown.
func (s *Service) allowSend(ctx context.Context, identity string) error {
	blocked, err := s.store.Exists(ctx, keySendBlock+identity)
	if err != nil {
		return fmt.Errorf("check send block: %w", err)
	}
	if blocked {
		return s.denyWithTTL(ctx, keySendBlock+identity, domain.ErrSendRateLimit)
	}

	cooling, err := s.store.Exists(ctx, keyCooldown+identity)
	if err != nil {
		return fmt.Errorf("check cooldown: %w", err)
	}
	if cooling {
		return s.denyWithTTL(ctx, keyCooldown+identity, domain.ErrCooldownActive)
	}

	attempts, err := s.store.Incr(ctx, keySendAttempts+identity)
	if err != nil {
		return fmt.Errorf("count send attempt: %w", err)
	}
	if attempts == 1 {
		if err := s.store.Expire(ctx, keySendAttempts+identity, domain.SMSSendWindow); err != nil {
			return fmt.Errorf("expire send attempt counter: %w", err)
		}
	}
	if attempts > domain.SMSMaxSendAttempts {
		if _, err := s.store.SetNX(ctx, keySendBlock+identity, "1", domain.SMSSendBlockDuration); err != nil {
			return fmt.Errorf("set send block: %w", err)
		}
		return domain.WithRetryAfter(domain.ErrSendRateLimit, int(domain.SMSSendBlockDuration.Seconds()))
	}

	if err := s.store.Set(ctx, keyCooldown+identity, "1", domain.SMSResendCooldown); err != nil {
		return fmt.Errorf("arm cooldown: %w", err)
	}
	return nil
}

// denyWithTTL attaches the denial key's remaining TTL in seconds.
func (s *Service) denyWithTTL(ctx context.Context, key string, sentinel error) error {
	ttl, err := s.store.PTTL(ctx, key)
	if err != nil || ttl <= 0 {
		return sentinel
	}
	return domain.WithRetryAfter(sentinel, int(ttl.Round(time.Second).Seconds()))
}
