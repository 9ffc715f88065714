// Package classify defines the core URL classification pipeline and its types.
package classify

import "time"

// Label is a canonical classification outcome.
type Label string

// The closed set of results the pipeline is allowed to return.
const (
	LabelParked    Label = "generic parked landing page"
	LabelLive      Label = "live website"
	LabelNonactive Label = "nonactive domain"
	LabelFailure   Label = "classification failure"
)

// Canonical reports whether l is one of the three canonical labels.
// The failure sentinel is a valid result but not a canonical label.
func (l Label) Canonical() bool {
	switch l {
	case LabelParked, LabelLive, LabelNonactive:
		return true
	default:
		return false
	}
}

// Mode identifies how the classifier reached its verdict.
type Mode string

// Classification modes recorded alongside results.
const (
	ModeVisual Mode = "visual"
	ModeText   Mode = "text"
	ModeNone   Mode = "none"
)

// FallbackMode selects the behavior when rendering is exhausted.
type FallbackMode string

// Fallback behaviors. FallbackText asks the model for a text-only judgment
// from the URL alone; FallbackFail returns the failure sentinel without a
// model call.
const (
	FallbackText FallbackMode = "text"
	FallbackFail FallbackMode = "fail"
)

// Valid reports whether m is a recognized fallback mode.
func (m FallbackMode) Valid() bool {
	return m == FallbackText || m == FallbackFail
}

// Screenshot is the product of a successful render attempt. It is owned by
// the pipeline invocation that produced it and never outlives the request.
type Screenshot struct {
	Image      []byte
	MediaType  string
	FinalURL   string
	StatusCode int
	Attempts   int
	Elapsed    time.Duration
}

// Result is the terminal state of one classification request.
type Result struct {
	URL      string        `json:"url"`
	Label    Label         `json:"classification"`
	Mode     Mode          `json:"mode"`
	Attempts int           `json:"render_attempts"`
	Duration time.Duration `json:"-"`
}
