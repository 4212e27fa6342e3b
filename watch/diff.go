package watch

import "futawatch/thread"

// Delta is the result of comparing one snapshot against the previous
// high-water mark.
type Delta struct {
	// NewPosts are the posts strictly newer than the previous mark, in
	// snapshot order.
	NewPosts []thread.Post
	// NewImages are the images attached to NewPosts that have not been
	// dispatched yet.
	NewImages []thread.ImageRef
	// NextMark is the high-water mark after this snapshot. It never
	// regresses, even if the snapshot shrank.
	NextMark int64
}

// ComputeDelta diffs a freshly normalized snapshot against the previous
// high-water mark. posts must be sorted ascending by ID (the normalizer
// guarantees this). dispatched reports whether a post's image was
// already submitted for classification; nil means none were.
//
// Pure function: no I/O, no mutation of inputs.
func ComputeDelta(prevMark int64, dispatched func(int64) bool, posts []thread.Post) Delta {
	d := Delta{NextMark: prevMark}
	if len(posts) == 0 {
		return d
	}
	if dispatched == nil {
		dispatched = func(int64) bool { return false }
	}

	for _, p := range posts {
		// The mark tracks the max ID over ALL posts in the snapshot, not
		// just new ones, so a shrinking snapshot can never move it back.
		if p.ID > d.NextMark {
			d.NextMark = p.ID
		}
		if p.ID <= prevMark {
			continue
		}

		d.NewPosts = append(d.NewPosts, p)

		// Deleted posts keep their image eligible as long as the server
		// still lists it; a deleted post without one contributes nothing.
		if p.Image != nil && !dispatched(p.ID) {
			d.NewImages = append(d.NewImages, *p.Image)
		}
	}
	return d
}
