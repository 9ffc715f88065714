// Package render drives headless Chrome to screenshot webpages.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/classify"
)

// Config controls the chromedp renderer.
type Config struct {
	// NavTimeout bounds a single navigate-and-screenshot attempt.
	NavTimeout time.Duration
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel int
	// Quality is the screenshot encoding quality; 100 produces PNG,
	// anything lower produces JPEG at that quality.
	Quality int
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string
}

// ChromedpRenderer renders pages using headless Chrome via chromedp.
// The exec allocator is shared; every render runs in a fresh, disposable
// tab context that is torn down before Render returns.
type ChromedpRenderer struct {
	allocator   context.Context
	allocCancel context.CancelFunc
	limiter     chan struct{}
	cfg         Config
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by a shared Chrome exec allocator.
func NewChromedp(cfg Config, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 40 * time.Second
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpRenderer{
		allocator:   allocCtx,
		allocCancel: allocCancel,
		limiter:     limiter,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, shutting down the browser.
func (r *ChromedpRenderer) Close() {
	r.allocCancel()
}

// Render performs one isolated navigate-and-screenshot attempt. The tab
// context is canceled on every exit path, success or failure.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (*classify.Screenshot, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	tabCtx, cancelTab := chromedp.NewContext(r.allocator)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	image, finalURL, err := r.runChromedp(taskCtx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty screenshot for %s", rawURL)
	}

	status, responseURL := meta.snapshot()
	if responseURL == "" {
		responseURL = finalURL
	}
	if responseURL == "" {
		responseURL = rawURL
	}

	return &classify.Screenshot{
		Image:      image,
		MediaType:  r.mediaType(),
		FinalURL:   responseURL,
		StatusCode: status,
		Elapsed:    time.Since(start),
	}, nil
}

func (r *ChromedpRenderer) runChromedp(ctx context.Context, rawURL string) ([]byte, string, error) {
	var (
		image    []byte
		finalURL string
	)
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if r.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.FullScreenshot(&image, r.cfg.Quality),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, "", err
	}
	return image, finalURL, nil
}

func (r *ChromedpRenderer) mediaType() string {
	if r.cfg.Quality == 100 {
		return "image/png"
	}
	return "image/jpeg"
}

func (r *ChromedpRenderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *ChromedpRenderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// forwardCancel propagates parent cancellation into the chromedp task so a
// timed-out caller still releases the tab before the retry loop proceeds.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.Mutex
	once   sync.Once
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.mu.Lock()
		m.status = int(resp.Response.Status)
		m.url = resp.Response.URL
		m.mu.Unlock()
	})
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.url
}
