package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siteverdict/siteverdict/internal/telemetry"
)

const visualPrompt = `Please tell me if this webpage is a generic parked landing page, a live website with a real business, or a nonactive domain. Some websites may have certain graphics on them blocking you from using the website because the website owner has locked down the account; this counts as a generic parked landing page, so make sure you analyze the text of any popups or overlays to determine if the site is parked or is a live website. Please only give me a single answer such as:

generic parked landing page
live website
nonactive domain
`

const textPromptFormat = `Based only on the URL %q and without any visual evidence, tell me whether this webpage is most likely a generic parked landing page, a live website with a real business, or a nonactive domain. Please only give me a single answer such as:

generic parked landing page
live website
nonactive domain
`

// Classifier turns a URL plus an optional screenshot into a Label.
type Classifier struct {
	model        Model
	defaultLabel Label
	logger       *zap.Logger
}

// NewClassifier builds a Classifier. Out-of-set model answers coerce to
// defaultLabel; see DESIGN.md for why that default is configurable.
func NewClassifier(model Model, defaultLabel Label, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !defaultLabel.Canonical() && defaultLabel != LabelFailure {
		defaultLabel = LabelNonactive
	}
	return &Classifier{
		model:        model,
		defaultLabel: defaultLabel,
		logger:       logger,
	}
}

// ClassifyVisual asks the model for a verdict on the rendered screenshot.
// The returned label is always a member of the closed result set.
func (c *Classifier) ClassifyVisual(ctx context.Context, url, imageDataURL string) Label {
	start := time.Now()
	raw, err := c.model.Invoke(ctx, visualPrompt, imageDataURL)
	telemetry.ObserveInferenceDuration(time.Since(start))
	if err != nil {
		c.logger.Warn("visual inference failed", zap.String("url", url), zap.Error(err))
		return LabelFailure
	}
	return c.normalize(url, raw)
}

// ClassifyText asks the model for a verdict from the URL string alone.
func (c *Classifier) ClassifyText(ctx context.Context, url string) Label {
	prompt := fmt.Sprintf(textPromptFormat, url)
	start := time.Now()
	raw, err := c.model.Invoke(ctx, prompt, "")
	telemetry.ObserveInferenceDuration(time.Since(start))
	if err != nil {
		c.logger.Warn("text inference failed", zap.String("url", url), zap.Error(err))
		return LabelFailure
	}
	return c.normalize(url, raw)
}

// normalize maps the model's free text into the closed label set. Exact
// matches (case and surrounding whitespace insensitive) pass through;
// anything else coerces to the configured default.
func (c *Classifier) normalize(url, raw string) Label {
	answer := Label(strings.ToLower(strings.TrimSpace(raw)))
	if answer.Canonical() {
		return answer
	}
	c.logger.Info("coercing out-of-set model answer",
		zap.String("url", url),
		zap.String("answer", raw),
		zap.String("default", string(c.defaultLabel)),
	)
	return c.defaultLabel
}
