package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/classify"
	"github.com/siteverdict/siteverdict/internal/telemetry"
)

// SingleRenderer performs one isolated render attempt.
type SingleRenderer interface {
	Render(ctx context.Context, url string) (*classify.Screenshot, error)
}

// CaptureConfig sets the retry knobs for a Capturer.
type CaptureConfig struct {
	// MaxAttempts is the fixed attempt budget. Values below 1 become 1.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
}

// Capturer wraps a SingleRenderer with a bounded retry loop. Each attempt
// runs in a fresh browser session; render failure is an expected outcome
// and exhaustion surfaces as classify.ErrRenderExhausted.
type Capturer struct {
	renderer SingleRenderer
	cfg      CaptureConfig
	logger   *zap.Logger
}

// NewCapturer builds a Capturer around renderer.
func NewCapturer(renderer SingleRenderer, cfg CaptureConfig, logger *zap.Logger) *Capturer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Capture attempts to screenshot url, retrying failures up to the attempt
// budget. Caller cancellation stops the loop immediately; it is not a
// retryable outcome.
func (c *Capturer) Capture(ctx context.Context, url string) (*classify.Screenshot, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		shot, err := c.renderer.Render(ctx, url)
		if err == nil {
			shot.Attempts = attempt
			telemetry.ObserveRenderAttempt("ok")
			telemetry.ObserveRenderDuration(shot.Elapsed)
			return shot, nil
		}
		lastErr = err
		telemetry.ObserveRenderAttempt("error")
		c.logger.Debug("render attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !c.shouldRetry(ctx, err, attempt) {
			break
		}
		if err := c.wait(ctx); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", classify.ErrRenderExhausted, lastErr)
}

func (c *Capturer) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= c.cfg.MaxAttempts {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	// A deadline from the caller's own context is not recoverable by a
	// fresh session; a per-attempt navigation timeout is.
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (c *Capturer) wait(ctx context.Context) error {
	if c.cfg.Backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.Backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry backoff canceled: %w", ctx.Err())
	}
}
