package watch

import (
	"testing"

	"futawatch/thread"
)

func post(id int64, withImage bool) thread.Post {
	p := thread.Post{ID: id, Body: "body", Timestamp: "26/08/31(日)12:00:00"}
	if withImage {
		p.Image = &thread.ImageRef{
			PostID:        id,
			RemoteLocator: "/b/src/1700000000000.jpg",
			DisplayName:   "1700000000000.jpg",
		}
	}
	return p
}

func TestComputeDelta_EmptySnapshot(t *testing.T) {
	d := ComputeDelta(42, nil, nil)
	if d.NextMark != 42 {
		t.Fatalf("expected mark 42, got %d", d.NextMark)
	}
	if len(d.NewPosts) != 0 || len(d.NewImages) != 0 {
		t.Fatalf("expected empty delta, got %d posts %d images", len(d.NewPosts), len(d.NewImages))
	}
}

func TestComputeDelta_NewPostsAndImages(t *testing.T) {
	posts := []thread.Post{post(4, false), post(5, true), post(6, true), post(7, false)}

	d := ComputeDelta(5, nil, posts)

	if len(d.NewPosts) != 2 {
		t.Fatalf("expected 2 new posts, got %d", len(d.NewPosts))
	}
	if d.NewPosts[0].ID != 6 || d.NewPosts[1].ID != 7 {
		t.Fatalf("expected posts [6 7], got [%d %d]", d.NewPosts[0].ID, d.NewPosts[1].ID)
	}
	if len(d.NewImages) != 1 || d.NewImages[0].PostID != 6 {
		t.Fatalf("expected image of post 6, got %+v", d.NewImages)
	}
	if d.NextMark != 7 {
		t.Fatalf("expected mark 7, got %d", d.NextMark)
	}
}

func TestComputeDelta_OrderPreserved(t *testing.T) {
	posts := []thread.Post{post(1, true), post(2, true), post(3, true)}

	d := ComputeDelta(0, nil, posts)

	for i, p := range d.NewPosts {
		if p.ID != int64(i+1) {
			t.Fatalf("posts out of order at %d: got %d", i, p.ID)
		}
	}
	for i, img := range d.NewImages {
		if img.PostID != int64(i+1) {
			t.Fatalf("images out of order at %d: got %d", i, img.PostID)
		}
	}
}

func TestComputeDelta_MarkNeverRegresses(t *testing.T) {
	// Snapshot shrank below the mark (server pruned posts). Nothing is
	// new and the mark stays where it was.
	posts := []thread.Post{post(4, true), post(5, false)}

	d := ComputeDelta(10, nil, posts)

	if len(d.NewPosts) != 0 || len(d.NewImages) != 0 {
		t.Fatalf("expected no news, got %d posts %d images", len(d.NewPosts), len(d.NewImages))
	}
	if d.NextMark != 10 {
		t.Fatalf("expected mark to stay 10, got %d", d.NextMark)
	}
}

func TestComputeDelta_DeletedPostKeepsImage(t *testing.T) {
	p := post(3, true)
	p.Deleted = true

	d := ComputeDelta(0, nil, []thread.Post{p})

	if len(d.NewImages) != 1 {
		t.Fatalf("deleted post's image should stay eligible, got %d images", len(d.NewImages))
	}
	if !d.NewPosts[0].Deleted {
		t.Fatal("deleted flag lost")
	}
}

func TestComputeDelta_DispatchedImagesFiltered(t *testing.T) {
	posts := []thread.Post{post(6, true), post(7, true)}
	dispatched := func(id int64) bool { return id == 6 }

	d := ComputeDelta(5, dispatched, posts)

	// Post 6 is still a new post, only its image is filtered.
	if len(d.NewPosts) != 2 {
		t.Fatalf("expected 2 new posts, got %d", len(d.NewPosts))
	}
	if len(d.NewImages) != 1 || d.NewImages[0].PostID != 7 {
		t.Fatalf("expected only image of post 7, got %+v", d.NewImages)
	}
}

func TestComputeDelta_IdenticalSnapshot(t *testing.T) {
	posts := []thread.Post{post(1, true), post(2, false), post(3, true)}

	first := ComputeDelta(0, nil, posts)
	second := ComputeDelta(first.NextMark, nil, posts)

	if len(second.NewPosts) != 0 || len(second.NewImages) != 0 {
		t.Fatalf("identical snapshot must be a no-op, got %d posts %d images",
			len(second.NewPosts), len(second.NewImages))
	}
	if second.NextMark != first.NextMark {
		t.Fatalf("mark moved on identical snapshot: %d -> %d", first.NextMark, second.NextMark)
	}
}
