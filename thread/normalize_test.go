package thread

import (
	"strings"
	"testing"
)

const sampleSnapshot = `{
	"res": {
		"123457": {
			"name": "としあき",
			"com": "一番乗り<br>だよ",
			"now": "26/08/31(日)12:00:05",
			"src": "/b/src/1700000000001.jpg",
			"thumb": "/b/thumb/1700000000001s.jpg",
			"ext": ".jpg",
			"tim": "1700000000001"
		},
		"123456": {
			"name": "としあき",
			"com": "スレ立て&amp;テスト",
			"now": "26/08/31(日)12:00:00"
		},
		"123458": {
			"name": "としあき",
			"com": "消された",
			"now": "26/08/31(日)12:00:10",
			"src": "/b/src/1700000000002.png",
			"ext": ".png",
			"tim": "1700000000002",
			"del": "del"
		},
		"dice": "not a post"
	}
}`

func TestNormalize_SortedAndParsed(t *testing.T) {
	posts, err := Normalize([]byte(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}

	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	for i, want := range []int64{123456, 123457, 123458} {
		if posts[i].ID != want {
			t.Fatalf("posts[%d]: expected id %d, got %d", i, want, posts[i].ID)
		}
	}
}

func TestNormalize_BodyCleaned(t *testing.T) {
	posts, err := Normalize([]byte(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}

	if posts[0].Body != "スレ立て&テスト" {
		t.Fatalf("entity not decoded: %q", posts[0].Body)
	}
	if posts[1].Body != "一番乗り\nだよ" {
		t.Fatalf("<br> not converted: %q", posts[1].Body)
	}
	if !strings.Contains(posts[1].BodyHTML, "<br>") {
		t.Fatalf("original markup lost: %q", posts[1].BodyHTML)
	}
}

func TestNormalize_Images(t *testing.T) {
	posts, err := Normalize([]byte(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}

	if posts[0].Image != nil {
		t.Fatal("text-only post got an image")
	}

	img := posts[1].Image
	if img == nil {
		t.Fatal("expected image on second post")
	}
	if img.PostID != 123457 {
		t.Fatalf("image owner mismatch: %d", img.PostID)
	}
	if img.RemoteLocator != "/b/src/1700000000001.jpg" {
		t.Fatalf("bad locator %q", img.RemoteLocator)
	}
	if img.DisplayName != "1700000000001.jpg" {
		t.Fatalf("bad display name %q", img.DisplayName)
	}
}

func TestNormalize_DeletedKeepsImage(t *testing.T) {
	posts, err := Normalize([]byte(sampleSnapshot))
	if err != nil {
		t.Fatal(err)
	}

	del := posts[2]
	if !del.Deleted {
		t.Fatal("del marker not recognized")
	}
	if del.Image == nil {
		t.Fatal("deleted post lost its still-listed image")
	}
}

func TestNormalize_MalformedDocument(t *testing.T) {
	if _, err := Normalize([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNormalize_MissingRes(t *testing.T) {
	posts, err := Normalize([]byte(`{"old": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected empty list, got %d", len(posts))
	}
}

func TestNormalize_BadEntrySkipped(t *testing.T) {
	doc := `{"res": {"1": {"com": "ok"}, "2": "not an object"}}`
	posts, err := Normalize([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].ID != 1 {
		t.Fatalf("expected only post 1, got %+v", posts)
	}
}

func TestNormalize_ImageNameFallsBackToSrc(t *testing.T) {
	doc := `{"res": {"5": {"com": "x", "src": "/b/src/abc.webm", "ext": ".webm"}}}`
	posts, err := Normalize([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if posts[0].Image == nil || posts[0].Image.DisplayName != "abc.webm" {
		t.Fatalf("expected fallback name abc.webm, got %+v", posts[0].Image)
	}
}

func TestCleanText_StripsTags(t *testing.T) {
	got := CleanText(`<font color="#789922">&gt;引用</font><br>本文`)
	if got != ">引用\n本文" {
		t.Fatalf("got %q", got)
	}
}
