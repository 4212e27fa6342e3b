package thread

import (
	"encoding/json"
	"fmt"
	"html"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// stripper removes every tag from post bodies. Futaba serves bodies as
// HTML fragments (<br>, <font>, <a>); the core only deals in text.
var stripper = bluemonday.StrictPolicy()

var brReplacer = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n")

// rawPost mirrors one entry of the "res" object in futaba.php JSON mode.
type rawPost struct {
	Name  string `json:"name"`
	Com   string `json:"com"`
	Now   string `json:"now"`
	Src   string `json:"src"`
	Thumb string `json:"thumb"`
	Ext   string `json:"ext"`
	Tim   string `json:"tim"`
	Del   string `json:"del"`
}

// Normalize parses a raw thread snapshot into posts sorted ascending by
// ID. Malformed individual entries are skipped, never fatal; a document
// without a "res" object yields an empty list. The returned order is the
// precondition every diff over the snapshot relies on.
func Normalize(data []byte) ([]Post, error) {
	var doc struct {
		Res map[string]json.RawMessage `json:"res"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("thread: parse snapshot: %w", err)
	}

	posts := make([]Post, 0, len(doc.Res))
	for key, raw := range doc.Res {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue // non-numeric key, not a post
		}
		var rp rawPost
		if err := json.Unmarshal(raw, &rp); err != nil {
			continue
		}
		posts = append(posts, normalizePost(id, rp))
	}

	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts, nil
}

func normalizePost(id int64, rp rawPost) Post {
	p := Post{
		ID:        id,
		Author:    CleanText(rp.Name),
		Body:      CleanText(rp.Com),
		BodyHTML:  rp.Com,
		Timestamp: rp.Now,
		Deleted:   rp.Del == "del",
	}

	// An attachment needs both a source path and an extension; deleted
	// posts keep theirs as long as the server still lists them.
	if rp.Src != "" && rp.Ext != "" {
		name := rp.Tim + rp.Ext
		if rp.Tim == "" {
			name = path.Base(rp.Src)
		}
		p.Image = &ImageRef{
			PostID:        id,
			RemoteLocator: rp.Src,
			DisplayName:   name,
		}
	}
	return p
}

// CleanText converts an HTML fragment into plain text: <br> becomes a
// newline, all other tags are stripped, entities are decoded.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = brReplacer.Replace(s)
	s = stripper.Sanitize(s)
	return html.UnescapeString(s)
}
