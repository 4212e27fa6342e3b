// Package sink defines output backends for classification events.
// Sinks are fire-and-forget from the watch loop's point of view: a
// failing sink is logged and isolated, it never propagates back into
// the loop.
package sink

import (
	"context"
	"time"

	"futawatch/classify"
)

// Event is the outcome of classifying one attached image. It is created
// once per dispatched image and handed to every registered sink.
type Event struct {
	ID        string          `json:"id"`
	PostID    int64           `json:"post_id"`
	ThreadURL string          `json:"thread_url"`
	ImageURL  string          `json:"image_url"`
	ImageName string          `json:"image_name"`
	LocalPath string          `json:"local_path,omitempty"`
	PostBody  string          `json:"post_body,omitempty"`
	BodyHTML  string          `json:"-"` // original markup, for sinks that re-render
	Scores    classify.Scores `json:"scores"`
	Verdict   []string        `json:"verdict,omitempty"` // flagged categories
	Failed    bool            `json:"failed"`
	Summary   string          `json:"summary"`
	Time      time.Time       `json:"time"`
}

// Sink is the output interface. Implementations must be safe for
// concurrent HandleEvent calls: images classified within one cycle may
// be delivered from separate goroutines.
type Sink interface {
	HandleEvent(ctx context.Context, ev Event) error
	Close() error
}
