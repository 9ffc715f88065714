package classify

import (
	"context"
	"errors"
	"time"
)

// ErrRenderExhausted is returned by a Capturer once every render attempt
// has failed. It marks an expected, recoverable outcome consumed by the
// fallback policy, not a fault.
var ErrRenderExhausted = errors.New("render attempts exhausted")

// Capturer produces a screenshot of a scheme-qualified URL. Implementations
// own their retry behavior; exhaustion surfaces as ErrRenderExhausted.
type Capturer interface {
	Capture(ctx context.Context, url string) (*Screenshot, error)
}

// Model invokes the multimodal inference endpoint with a prompt and an
// optional inline image (a data: URL; empty string means text-only) and
// returns the raw free-text answer. A single failure is final; the core
// performs no model-call retries.
type Model interface {
	Invoke(ctx context.Context, prompt, imageDataURL string) (string, error)
}

// Prober performs a cheap reachability check before a render is attempted.
// A non-nil error means the host is hard-unreachable and rendering would
// be wasted effort.
type Prober interface {
	Check(ctx context.Context, url string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
