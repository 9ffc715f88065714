package classify

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/encode"
	"github.com/siteverdict/siteverdict/internal/telemetry"
)

// PipelineConfig carries the policy knobs for a Pipeline.
type PipelineConfig struct {
	// DefaultScheme is prepended to bare URLs (http or https).
	DefaultScheme string
	// Fallback selects the behavior when rendering is exhausted.
	Fallback FallbackMode
	// ArchivePrefix namespaces archived screenshot paths.
	ArchivePrefix string
}

// Archiver retains a screenshot beyond the request when configured.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher digests URL bytes into stable archive path components.
type Hasher interface {
	Hash(data []byte) string
}

// Pipeline runs one classification request end to end:
// normalize -> probe (optional) -> capture -> encode -> classify.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	capturer   Capturer
	classifier *Classifier
	prober     Prober
	archiver   Archiver
	hasher     Hasher
	cfg        PipelineConfig
	logger     *zap.Logger
}

// NewPipeline wires the pipeline components. prober, archiver and hasher
// may be nil; without an archiver the screenshot is destroyed as soon as
// its transport form exists.
func NewPipeline(
	capturer Capturer,
	classifier *Classifier,
	prober Prober,
	archiver Archiver,
	hasher Hasher,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultScheme == "" {
		cfg.DefaultScheme = "https"
	}
	if !cfg.Fallback.Valid() {
		cfg.Fallback = FallbackText
	}
	return &Pipeline{
		capturer:   capturer,
		classifier: classifier,
		prober:     prober,
		archiver:   archiver,
		hasher:     hasher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Classify resolves rawURL to a member of the closed result set. It never
// returns an error: render exhaustion engages the fallback policy and
// inference failures surface as the failure sentinel.
func (p *Pipeline) Classify(ctx context.Context, rawURL string) Result {
	start := time.Now()
	url := EnsureScheme(rawURL, p.cfg.DefaultScheme)

	shot := p.capture(ctx, url)
	if shot == nil {
		return p.fallback(ctx, url, start)
	}

	payload := encode.DataURL(shot.Image, shot.MediaType)
	p.archive(ctx, url, shot)
	// The screenshot is owned by this invocation; release the pixel data
	// as soon as the transport form exists.
	shot.Image = nil

	label := p.classifier.ClassifyVisual(ctx, url, payload)
	telemetry.ObserveClassification(string(label), string(ModeVisual))
	p.logger.Info("classified",
		zap.String("url", url),
		zap.String("label", string(label)),
		zap.String("mode", string(ModeVisual)),
		zap.Int("attempts", shot.Attempts),
	)
	return Result{
		URL:      url,
		Label:    label,
		Mode:     ModeVisual,
		Attempts: shot.Attempts,
		Duration: time.Since(start),
	}
}

func (p *Pipeline) archive(ctx context.Context, url string, shot *Screenshot) {
	if p.archiver == nil || p.hasher == nil {
		return
	}
	path := p.hasher.Hash([]byte(url)) + extensionFor(shot.MediaType)
	if p.cfg.ArchivePrefix != "" {
		path = strings.Trim(p.cfg.ArchivePrefix, "/") + "/" + path
	}
	uri, err := p.archiver.PutObject(ctx, path, shot.MediaType, bytes.NewReader(shot.Image))
	if err != nil {
		p.logger.Warn("screenshot archive failed", zap.String("url", url), zap.Error(err))
		return
	}
	if uri != "" {
		p.logger.Debug("screenshot archived", zap.String("url", url), zap.String("uri", uri))
	}
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	default:
		return ".png"
	}
}

func (p *Pipeline) capture(ctx context.Context, url string) *Screenshot {
	if p.prober != nil {
		if err := p.prober.Check(ctx, url); err != nil {
			p.logger.Info("probe marked host unreachable, skipping render",
				zap.String("url", url), zap.Error(err))
			return nil
		}
	}
	shot, err := p.capturer.Capture(ctx, url)
	if err != nil {
		p.logger.Info("render exhausted", zap.String("url", url), zap.Error(err))
		return nil
	}
	return shot
}

func (p *Pipeline) fallback(ctx context.Context, url string, start time.Time) Result {
	switch p.cfg.Fallback {
	case FallbackText:
		label := p.classifier.ClassifyText(ctx, url)
		telemetry.ObserveClassification(string(label), string(ModeText))
		p.logger.Info("classified",
			zap.String("url", url),
			zap.String("label", string(label)),
			zap.String("mode", string(ModeText)),
		)
		return Result{
			URL:      url,
			Label:    label,
			Mode:     ModeText,
			Duration: time.Since(start),
		}
	default:
		telemetry.ObserveClassification(string(LabelFailure), string(ModeNone))
		return Result{
			URL:      url,
			Label:    LabelFailure,
			Mode:     ModeNone,
			Duration: time.Since(start),
		}
	}
}
