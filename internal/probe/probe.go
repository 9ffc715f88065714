// Package probe performs a cheap reachability check ahead of rendering.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls the probe collector.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Colly issues a plain GET against the URL before a Chrome session is
// spent on it. Only hard transport failures (DNS, connect, timeout) count
// as unreachable; any HTTP status still renders to something a model can
// judge.
type Colly struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a probe.
func New(cfg Config, logger *zap.Logger) *Colly {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Colly{cfg: cfg, logger: logger}
}

// Check returns a non-nil error when the host is hard-unreachable.
func (p *Colly) Check(ctx context.Context, url string) error {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.ParseHTTPErrorResponse(),
	}
	if p.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(p.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(p.cfg.Timeout)

	err := p.visit(ctx, c, url)
	if err == nil {
		return nil
	}
	if isTransport(err) {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	p.logger.Debug("probe non-transport error ignored",
		zap.String("url", url), zap.Error(err))
	return nil
}

func (p *Colly) visit(ctx context.Context, c *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func isTransport(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
