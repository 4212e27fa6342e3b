// Package thread defines the data model for one Futaba discussion thread
// and the normalization of its JSON snapshot into an ordered post list.
//
// A snapshot is the full thread as served by futaba.php in JSON mode.
// Normalization turns that document into a []Post sorted ascending by ID;
// everything downstream (diffing, dedup, dispatch) works on that order.
package thread

// Post is one message in the thread. Posts are totally ordered by ID,
// which is strictly increasing and unique within a thread.
type Post struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"` // plain text, tags stripped
	BodyHTML  string    `json:"-"`    // original markup as served
	Timestamp string    `json:"timestamp"`
	Deleted   bool      `json:"deleted"`
	Image     *ImageRef `json:"image,omitempty"`
}

// ImageRef points to one attached image. It belongs to exactly one post
// and its locator never changes once observed.
type ImageRef struct {
	PostID        int64  `json:"post_id"`
	RemoteLocator string `json:"remote_locator"` // server-relative path, e.g. /b/src/1700000000000.jpg
	DisplayName   string `json:"display_name"`   // filename-like, not unique across posts
}

// Summary describes a whole snapshot at a glance.
type Summary struct {
	Posts     int
	Images    int
	StartedAt string
	Preview   string
}

// Summarize computes a snapshot summary. The preview is the opening
// post's body truncated to 50 runes.
func Summarize(posts []Post) Summary {
	s := Summary{Posts: len(posts)}
	for _, p := range posts {
		if p.Image != nil {
			s.Images++
		}
	}
	if len(posts) > 0 {
		s.StartedAt = posts[0].Timestamp
		s.Preview = Truncate(posts[0].Body, 50)
	}
	return s
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
