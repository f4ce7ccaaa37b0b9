// Package retryx provides retry logic with exponential backoff and jitter
// for transient market-data errors.
package retryx

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config bounds the retry/backoff policy for one adapter call.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default policy: the initial attempt plus up to 3
// retries (4 attempts in all), backoff delays of about 1s, 2s, 4s before
// jitter, overall per-call timeout of 30s.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     4 * time.Second,
	Timeout:        30 * time.Second,
}

// Do runs fn, retrying on transient errors with exponential backoff and
// jitter up to cfg.MaxRetries times, bounded by cfg.Timeout overall. If fn
// still fails after the final attempt (transient or not), Do returns the
// last error — callers at the adapter boundary convert this into NoData
// rather than propagate it further.
func Do(ctx context.Context, cfg Config, log *logrus.Logger, op string, fn func(ctx context.Context) error) error {
	cfg = sanitize(cfg)
	if log == nil {
		log = logrus.StandardLogger()
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	backoff := cfg.InitialBackoff
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-callCtx.Done():
			return fmt.Errorf("%s timed out after %v: %w", op, cfg.Timeout, callCtx.Err())
		default:
		}

		lastErr = fn(callCtx)
		attempts++
		if lastErr == nil {
			return nil
		}

		log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"of":      cfg.MaxRetries + 1,
		}).WithError(lastErr).Warn("adapter call failed")

		if !isTransientError(lastErr) || attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff, cfg.MaxBackoff)
		case <-callCtx.Done():
			return fmt.Errorf("%s timed out during backoff: %w", op, callCtx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

func nextBackoff(current, max time.Duration) time.Duration {
	backoff := current * 2
	if backoff > max {
		backoff = max
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

var transientPatterns = []string{
	"timeout",
	"i/o timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"temporarily unavailable",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"no such host",
	"deadline exceeded",
	"broken pipe",
	"eof",
}

// isTransientError classifies errors by message substring, matching the
// patterns a broker/HTTP client is expected to surface.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
