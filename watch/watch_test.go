package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"futawatch/classify"
	"futawatch/sink"
	"futawatch/thread"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// step is one scripted snapshot served by fakeSource.
type step struct {
	posts []thread.Post
	err   error
}

// fakeSource serves a scripted sequence of snapshots; the last step
// repeats forever. Snapshots travel as JSON so the watcher exercises
// its normalize hook.
type fakeSource struct {
	mu       sync.Mutex
	steps    []step
	idx      int
	imageErr bool
}

func (f *fakeSource) Thread(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	s := f.steps[f.idx]
	if f.idx < len(f.steps)-1 {
		f.idx++
	}
	f.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return json.Marshal(s.posts)
}

func (f *fakeSource) Image(_ context.Context, ref thread.ImageRef) ([]byte, error) {
	if f.imageErr {
		return nil, errors.New("image unavailable")
	}
	return []byte(fmt.Sprintf("img-%d", ref.PostID)), nil
}

func (f *fakeSource) ThreadURL(id string) string {
	return "https://example.test/b/res/" + id + ".htm"
}

func (f *fakeSource) ImageURL(ref thread.ImageRef) string {
	return "https://example.test" + ref.RemoteLocator
}

func decodePosts(data []byte) ([]thread.Post, error) {
	var posts []thread.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// fakeClassifier returns fixed scores and counts invocations.
type fakeClassifier struct {
	calls  atomic.Int64
	scores classify.Scores
}

func (f *fakeClassifier) Classify(_ context.Context, _ []byte) classify.Scores {
	f.calls.Add(1)
	out := make(classify.Scores, len(f.scores))
	for k, v := range f.scores {
		out[k] = v
	}
	return out
}

// collector gathers delivered events.
type collector struct {
	mu     sync.Mutex
	events []sink.Event
}

func (c *collector) sink() sink.Sink {
	return sink.NewCallback(func(_ context.Context, ev sink.Event) error {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
		return nil
	})
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) get(i int) sink.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func newTestWatcher(src *fakeSource, cls classify.Classifier, c *collector, opts Options) *Watcher {
	opts.ThreadID = "123456"
	opts.Interval = 20 * time.Millisecond
	opts.Normalize = decodePosts
	opts.Logger = quietLogger()
	router := sink.NewRouter(quietLogger(), c.sink())
	return New(src, cls, router, opts)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRun_InitialFetchFatal(t *testing.T) {
	src := &fakeSource{steps: []step{{err: errors.New("boom")}}}
	w := newTestWatcher(src, &fakeClassifier{}, &collector{}, Options{})

	err := w.Run(context.Background())
	if err == nil {
		t.Fatal("expected initial fetch failure to be fatal")
	}
	if !strings.Contains(err.Error(), "initial fetch") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_BaselineSkipsExistingImages(t *testing.T) {
	src := &fakeSource{steps: []step{
		{posts: []thread.Post{post(1, false), post(2, true)}},
	}}
	cls := &fakeClassifier{scores: classify.Scores{
		classify.CategorySexual:    0.1,
		classify.CategoryDangerous: 0.1,
		classify.CategoryViolence:  0.1,
	}}
	c := &collector{}
	w := newTestWatcher(src, cls, c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, "two cycles", func() bool { return w.Stats().Cycles >= 2 })
	cancel()

	if c.len() != 0 {
		t.Fatalf("baseline images must not be classified, got %d events", c.len())
	}
	if cls.calls.Load() != 0 {
		t.Fatalf("classifier called %d times for baseline", cls.calls.Load())
	}
	if w.Mark() != 2 {
		t.Fatalf("expected mark 2, got %d", w.Mark())
	}
	if got := w.Stats().LedgerSize; got != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", got)
	}
}

func TestRun_NewImageDispatchedOnce(t *testing.T) {
	src := &fakeSource{steps: []step{
		{posts: []thread.Post{post(1, false)}},
		{posts: []thread.Post{post(1, false), post(2, true)}},
	}}
	cls := &fakeClassifier{scores: classify.Scores{
		classify.CategorySexual:    0.9,
		classify.CategoryDangerous: 0.1,
		classify.CategoryViolence:  0.2,
	}}
	c := &collector{}
	w := newTestWatcher(src, cls, c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, "first event", func() bool { return c.len() >= 1 })
	// Let the repeated final snapshot run a few more cycles.
	waitFor(t, "more cycles", func() bool { return w.Stats().Cycles >= 4 })
	cancel()

	if c.len() != 1 {
		t.Fatalf("expected exactly 1 event, got %d", c.len())
	}
	if cls.calls.Load() != 1 {
		t.Fatalf("expected exactly 1 classification, got %d", cls.calls.Load())
	}

	ev := c.get(0)
	if ev.PostID != 2 {
		t.Fatalf("expected event for post 2, got %d", ev.PostID)
	}
	if ev.Failed {
		t.Fatal("event unexpectedly marked failed")
	}
	if len(ev.Verdict) != 1 || ev.Verdict[0] != classify.CategorySexual {
		t.Fatalf("unexpected verdict %v", ev.Verdict)
	}
	if ev.ID == "" {
		t.Fatal("event missing id")
	}
	if w.Mark() != 2 {
		t.Fatalf("expected mark 2, got %d", w.Mark())
	}
}

func TestRun_ClassifyAll(t *testing.T) {
	src := &fakeSource{steps: []step{
		{posts: []thread.Post{post(1, true), post(2, true)}},
	}}
	cls := &fakeClassifier{scores: classify.Scores{
		classify.CategorySexual:    0.1,
		classify.CategoryDangerous: 0.1,
		classify.CategoryViolence:  0.1,
	}}
	c := &collector{}
	w := newTestWatcher(src, cls, c, Options{ClassifyAll: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, "both baseline events", func() bool { return c.len() >= 2 })
	waitFor(t, "a steady cycle", func() bool { return w.Stats().Cycles >= 2 })
	cancel()

	if c.len() != 2 {
		t.Fatalf("expected 2 events, got %d", c.len())
	}
	if cls.calls.Load() != 2 {
		t.Fatalf("expected 2 classifications, got %d", cls.calls.Load())
	}
}

func TestRun_TransientFetchErrorSkipsCycle(t *testing.T) {
	src := &fakeSource{steps: []step{
		{posts: []thread.Post{post(1, false)}},
		{err: errors.New("connection reset")},
		{posts: []thread.Post{post(1, false), post(2, true)}},
	}}
	cls := &fakeClassifier{scores: classify.Scores{
		classify.CategorySexual:    0.1,
		classify.CategoryDangerous: 0.1,
		classify.CategoryViolence:  0.1,
	}}
	c := &collector{}
	w := newTestWatcher(src, cls, c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, "event after transient failure", func() bool { return c.len() >= 1 })
	cancel()

	if got := w.Stats().FetchErrors; got < 1 {
		t.Fatalf("expected at least 1 fetch error, got %d", got)
	}
	if c.get(0).PostID != 2 {
		t.Fatalf("expected event for post 2, got %d", c.get(0).PostID)
	}
}

func TestRun_DownloadFailureEmitsSentinel(t *testing.T) {
	src := &fakeSource{
		steps: []step{
			{posts: []thread.Post{post(1, false)}},
			{posts: []thread.Post{post(1, false), post(2, true)}},
		},
		imageErr: true,
	}
	cls := &fakeClassifier{scores: classify.Scores{
		classify.CategorySexual: 0.9,
	}}
	c := &collector{}
	w := newTestWatcher(src, cls, c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, "sentinel event", func() bool { return c.len() >= 1 })
	waitFor(t, "more cycles", func() bool { return w.Stats().Cycles >= 4 })
	cancel()

	if c.len() != 1 {
		t.Fatalf("failed image must not be re-dispatched, got %d events", c.len())
	}
	ev := c.get(0)
	if !ev.Failed {
		t.Fatal("expected failed event")
	}
	if ev.Summary != "classification failed" {
		t.Fatalf("unexpected summary %q", ev.Summary)
	}
	if len(ev.Verdict) != 0 {
		t.Fatalf("failed event must flag nothing, got %v", ev.Verdict)
	}
	if cls.calls.Load() != 0 {
		t.Fatalf("classifier must not run without image bytes, called %d times", cls.calls.Load())
	}
	if got := w.Stats().ClassifyFailures; got != 1 {
		t.Fatalf("expected 1 classify failure, got %d", got)
	}
}

func TestRun_NilClassifierRecordsWithoutEvents(t *testing.T) {
	src := &fakeSource{steps: []step{
		{posts: []thread.Post{post(1, false)}},
		{posts: []thread.Post{post(1, false), post(2, true)}},
	}}
	c := &collector{}
	w := newTestWatcher(src, nil, c, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, "image dispatched", func() bool { return w.Stats().ImagesDispatched >= 1 })
	waitFor(t, "more cycles", func() bool { return w.Stats().Cycles >= 4 })
	cancel()

	if c.len() != 0 {
		t.Fatalf("nil classifier must emit no events, got %d", c.len())
	}
	if got := w.Stats().ImagesDispatched; got != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", got)
	}
}
