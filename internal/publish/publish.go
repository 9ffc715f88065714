// Package publish emits classification-completed events.
package publish

import (
	"context"
	"time"
)

// Event is the payload published after every fresh classification.
type Event struct {
	URL            string    `json:"url"`
	URLKey         string    `json:"url_key"`
	Classification string    `json:"classification"`
	Mode           string    `json:"mode"`
	ClassifiedAt   time.Time `json:"classified_at"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop drops events; the default provider.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(_ context.Context, _ Event) error { return nil }
