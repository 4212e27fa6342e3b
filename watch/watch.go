// Package watch implements the incremental core of the thread watcher:
// the diff engine that turns consecutive snapshots into new-post and
// new-image events, the append-only dedup ledger, and the polling loop
// that drives fetch → diff → dispatch at a fixed cadence.
//
// One cycle executes at a time. The high-water mark and the ledger are
// only mutated between cycles, and a cycle's mark advance commits only
// after every image discovered in that cycle has been recorded.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"futawatch/classify"
	"futawatch/sink"
	"futawatch/thread"
)

// Source supplies raw thread snapshots and image bytes.
type Source interface {
	Thread(ctx context.Context, threadID string) ([]byte, error)
	Image(ctx context.Context, ref thread.ImageRef) ([]byte, error)
	ThreadURL(threadID string) string
	ImageURL(ref thread.ImageRef) string
}

// Options tunes the watcher behaviour.
type Options struct {
	// ThreadID is the thread to watch. Required.
	ThreadID string
	// Interval is the polling cadence. Default: 10s.
	Interval time.Duration
	// Threshold is the flagging probability. Default: 0.5.
	Threshold float64
	// ClassifyAll dispatches the images already present in the first
	// snapshot. Default: off (the first snapshot is baseline history).
	ClassifyAll bool
	// TempDir, when set, receives a copy of every fetched image.
	TempDir string
	// Concurrency caps concurrent classifications per cycle. Default: 4.
	Concurrency int
	// Normalize overrides the default snapshot normalizer.
	Normalize func([]byte) ([]thread.Post, error)
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// Verbose logs full post bodies instead of previews.
	Verbose bool
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Normalize == nil {
		o.Normalize = thread.Normalize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles           int64 `json:"cycles"`
	FetchErrors      int64 `json:"fetch_errors"`
	NewPosts         int64 `json:"new_posts"`
	ImagesDispatched int64 `json:"images_dispatched"`
	ClassifyFailures int64 `json:"classify_failures"`
	HighWaterMark    int64 `json:"high_water_mark"`
	LedgerSize       int   `json:"ledger_size"`
}

// Watcher drives the poll → diff → classify → sink pipeline for one
// thread until its context is cancelled.
type Watcher struct {
	src    Source
	cls    classify.Classifier // nil disables classification
	sinks  *sink.Router
	opts   Options
	logger *slog.Logger

	mark   atomic.Int64
	ledger *Ledger

	cycles           atomic.Int64
	fetchErrors      atomic.Int64
	newPosts         atomic.Int64
	imagesDispatched atomic.Int64
	classifyFailures atomic.Int64
}

// New creates a Watcher. A nil classifier means images are recorded as
// dispatched without being scored (no events are emitted for them).
func New(src Source, cls classify.Classifier, sinks *sink.Router, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{
		src:    src,
		cls:    cls,
		sinks:  sinks,
		opts:   opts,
		logger: opts.Logger,
		ledger: NewLedger(),
	}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Cycles:           w.cycles.Load(),
		FetchErrors:      w.fetchErrors.Load(),
		NewPosts:         w.newPosts.Load(),
		ImagesDispatched: w.imagesDispatched.Load(),
		ClassifyFailures: w.classifyFailures.Load(),
		HighWaterMark:    w.mark.Load(),
		LedgerSize:       w.ledger.Len(),
	}
}

// Mark returns the current high-water mark.
func (w *Watcher) Mark() int64 { return w.mark.Load() }

// ThreadID returns the watched thread's identifier.
func (w *Watcher) ThreadID() string { return w.opts.ThreadID }

// Run fetches the initial snapshot and then polls until ctx is
// cancelled. An initial fetch failure is fatal and returned; steady
// state fetch failures are logged and that cycle is skipped.
func (w *Watcher) Run(ctx context.Context) error {
	posts, err := w.fetchPosts(ctx)
	if err != nil {
		return fmt.Errorf("watch: initial fetch: %w", err)
	}
	w.seed(ctx, posts)

	w.logger.Info("watch: started",
		"thread", w.opts.ThreadID,
		"interval", w.opts.Interval,
		"classify", w.cls != nil)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch: stopped", "thread", w.opts.ThreadID)
			return nil
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *Watcher) fetchPosts(ctx context.Context) ([]thread.Post, error) {
	raw, err := w.src.Thread(ctx, w.opts.ThreadID)
	if err != nil {
		return nil, err
	}
	return w.opts.Normalize(raw)
}

// seed establishes the baseline from the first snapshot. In the default
// mode existing images are marked dispatched without classification; in
// classify-all mode they go through the regular dispatch path once.
func (w *Watcher) seed(ctx context.Context, posts []thread.Post) {
	sum := thread.Summarize(posts)
	w.logger.Info("watch: initial snapshot",
		"posts", sum.Posts,
		"images", sum.Images,
		"started_at", sum.StartedAt,
		"subject", sum.Preview)

	if w.opts.ClassifyAll {
		w.apply(ctx, posts)
		return
	}

	d := ComputeDelta(0, nil, posts)
	for _, img := range d.NewImages {
		w.ledger.Record(img.PostID)
	}
	w.mark.Store(d.NextMark)
}

func (w *Watcher) cycle(ctx context.Context) {
	w.cycles.Add(1)

	posts, err := w.fetchPosts(ctx)
	if err != nil {
		// Transient: skip this cycle, retry after the next interval.
		w.fetchErrors.Add(1)
		w.logger.Warn("watch: fetch failed, skipping cycle", "error", err)
		return
	}
	w.apply(ctx, posts)
}

// apply diffs the snapshot, surfaces new posts, dispatches new images,
// and commits the mark. The mark advances only after every image of
// this cycle has been recorded in the ledger.
func (w *Watcher) apply(ctx context.Context, posts []thread.Post) {
	d := ComputeDelta(w.mark.Load(), w.ledger.Has, posts)

	if len(d.NewPosts) == 0 {
		w.logger.Debug("watch: no new posts")
		w.mark.Store(d.NextMark)
		return
	}

	w.newPosts.Add(int64(len(d.NewPosts)))
	w.logger.Info("watch: new posts", "count", len(d.NewPosts))
	for _, p := range d.NewPosts {
		w.logPost(p)
	}

	if len(d.NewImages) > 0 {
		w.logger.Info("watch: new images", "count", len(d.NewImages))
		w.dispatch(ctx, d.NewImages, indexPosts(d.NewPosts))
	}

	w.mark.Store(d.NextMark)
}

// dispatch classifies the cycle's images, recording each in the ledger
// regardless of outcome. Classifications run concurrently; ledger
// writes are serialized inside the ledger; a given image's event is
// delivered only after its scores exist.
func (w *Watcher) dispatch(ctx context.Context, images []thread.ImageRef, byID map[int64]thread.Post) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, w.opts.Concurrency)

	for _, img := range images {
		wg.Add(1)
		sem <- struct{}{}
		go func(ref thread.ImageRef) {
			defer wg.Done()
			defer func() { <-sem }()
			w.dispatchOne(ctx, ref, byID[ref.PostID])
		}(img)
	}
	wg.Wait()
}

func (w *Watcher) dispatchOne(ctx context.Context, ref thread.ImageRef, owner thread.Post) {
	w.imagesDispatched.Add(1)

	// Without a classifier there is nothing to score and nothing to
	// emit, but the image is still marked dispatched so enabling
	// classification later never replays history.
	if w.cls == nil {
		w.ledger.Record(ref.PostID)
		return
	}

	scores, localPath := w.classifyImage(ctx, ref)
	w.ledger.Record(ref.PostID)

	if scores.Failed() {
		w.classifyFailures.Add(1)
	}

	ev := sink.Event{
		ID:        uuid.NewString(),
		PostID:    ref.PostID,
		ThreadURL: w.src.ThreadURL(w.opts.ThreadID),
		ImageURL:  w.src.ImageURL(ref),
		ImageName: ref.DisplayName,
		LocalPath: localPath,
		PostBody:  owner.Body,
		BodyHTML:  owner.BodyHTML,
		Scores:    scores,
		Verdict:   scores.Flagged(w.opts.Threshold),
		Failed:    scores.Failed(),
		Summary:   classify.Summary(scores, w.opts.Threshold),
		Time:      time.Now(),
	}

	if w.sinks != nil {
		w.sinks.HandleEvent(ctx, ev)
	}
}

// classifyImage fetches the image bytes and scores them. A download
// failure degrades to the sentinel like any classification failure.
// localPath is the spilled copy in TempDir, when that succeeded.
func (w *Watcher) classifyImage(ctx context.Context, ref thread.ImageRef) (scores classify.Scores, localPath string) {
	data, err := w.src.Image(ctx, ref)
	if err != nil {
		w.logger.Warn("watch: image download failed",
			"post_id", ref.PostID, "name", ref.DisplayName, "error", err)
		return classify.Failure(), ""
	}

	if w.opts.TempDir != "" {
		p := filepath.Join(w.opts.TempDir, ref.DisplayName)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			w.logger.Warn("watch: image spill failed", "path", p, "error", err)
		} else {
			localPath = p
		}
	}

	return w.cls.Classify(ctx, data), localPath
}

func (w *Watcher) logPost(p thread.Post) {
	body := thread.Truncate(p.Body, 30)
	if w.opts.Verbose {
		body = p.Body
	}
	w.logger.Info("new post",
		"post_id", p.ID,
		"author", p.Author,
		"date", p.Timestamp,
		"body", body,
		"deleted", p.Deleted,
		"image", p.Image != nil)
}

func indexPosts(posts []thread.Post) map[int64]thread.Post {
	byID := make(map[int64]thread.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	return byID
}
