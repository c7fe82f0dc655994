// Package ratelimit throttles OTP generation per email using redis counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTooSoon = errors.New("please wait before requesting another OTP")
	ErrBlocked = errors.New("too many OTP requests; try again later")
)

// OTPLimiter enforces a cooldown between requests and a cap per window.
type OTPLimiter struct {
	client      redis.UniversalClient
	prefix      string
	window      time.Duration
	maxInWindow int
	cooldown    time.Duration
}

// NewOTPLimiter constructs an OTPLimiter. A non-positive max disables the window cap.
func NewOTPLimiter(client redis.UniversalClient, window time.Duration, max int, cooldown time.Duration) *OTPLimiter {
	return &OTPLimiter{
		client:      client,
		prefix:      "otp_rate",
		window:      window,
		maxInWindow: max,
		cooldown:    cooldown,
	}
}

// NewRedisClient connects to a single redis node.
func NewRedisClient(addr, password string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

// Allow returns nil when email may request another code and records the request.
func (l *OTPLimiter) Allow(ctx context.Context, email string) error {
	blockKey := l.key("block", email)
	lastKey := l.key("last", email)
	countKey := l.key("count", email)

	if ttl, err := l.client.TTL(ctx, blockKey).Result(); err != nil {
		return err
	} else if ttl > 0 {
		return fmt.Errorf("%w (retry in %ds)", ErrBlocked, int(ttl.Seconds()))
	}

	if ttl, err := l.client.TTL(ctx, lastKey).Result(); err != nil {
		return err
	} else if ttl > 0 {
		return fmt.Errorf("%w (retry in %ds)", ErrTooSoon, int(ttl.Seconds()))
	}

	if l.maxInWindow > 0 {
		cnt, err := l.client.Incr(ctx, countKey).Result()
		if err != nil {
			return err
		}
		if cnt == 1 {
			_ = l.client.Expire(ctx, countKey, l.window).Err()
		}
		if int(cnt) > l.maxInWindow {
			_ = l.client.Set(ctx, blockKey, "1", l.window*3).Err()
			return fmt.Errorf("%w (retry in %ds)", ErrBlocked, int((l.window * 3).Seconds()))
		}
	}

	if l.cooldown > 0 {
		if err := l.client.Set(ctx, lastKey, "1", l.cooldown).Err(); err != nil {
			return err
		}
	}
	return nil
}

// IsLimited reports whether err came from the limiter rather than redis.
func IsLimited(err error) bool {
	return errors.Is(err, ErrTooSoon) || errors.Is(err, ErrBlocked)
}

func (l *OTPLimiter) key(kind, email string) string {
	return l.prefix + ":" + kind + ":" + email
}
