package utils

import (
	"context"
	"fmt"
	"time"
)

// Retry runs fn up to attempts times, sleeping base, 2*base, 4*base... between
// tries. It returns nil on the first success, the last error once attempts are
// exhausted, and the context error if cancelled mid-wait. The engine's core
// pipeline does not retry in place (failed pages wait for the next re-crawl);
// this exists for callers that want backoff on a specific network call.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts <= 0 {
		return fmt.Errorf("retry attempts must be > 0, got %d", attempts)
	}
	var lastErr error
	delay := base
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

// Truncate cuts s to at most limit bytes without splitting the trailing rune.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		if limit <= 0 {
			return ""
		}
		return s
	}
	cut := s[:limit]
	// Back off partial UTF-8 sequences at the boundary.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}
