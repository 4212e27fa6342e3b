package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"

	"futawatch/classify"
)

// Schema for the classifications table. Call Archive.Init() or apply
// manually.
const Schema = `
CREATE TABLE IF NOT EXISTS classifications (
	id TEXT PRIMARY KEY,
	post_id INTEGER NOT NULL,
	thread_url TEXT NOT NULL,
	image_url TEXT NOT NULL,
	image_name TEXT,
	body_md TEXT,
	scores TEXT NOT NULL,
	verdict TEXT,
	failed INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_classifications_post ON classifications(post_id);
CREATE INDEX IF NOT EXISTS idx_classifications_ts ON classifications(created_at);
`

// Archive persists classification events to a SQLite table
// asynchronously. The owning post's body is stored as markdown so the
// archive reads well without the thread. This is a result archive, not
// the dedup ledger: watch state stays in process memory.
type Archive struct {
	db     *sql.DB
	md     *converter.Converter
	logger *slog.Logger
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

// NewArchive creates an archive backed by the given database connection.
func NewArchive(db *sql.DB, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archive{
		db: db,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		logger: logger,
		ch:     make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go a.flushLoop()
	return a
}

// Init creates the classifications table if it doesn't exist.
func (a *Archive) Init() error {
	_, err := a.db.Exec(Schema)
	return err
}

// HandleEvent queues the event for async persistence. Non-blocking;
// drops with a warning if the buffer is full.
func (a *Archive) HandleEvent(_ context.Context, ev Event) error {
	select {
	case a.ch <- ev:
	default:
		a.logger.Warn("archive: buffer full, dropping event", "post_id", ev.PostID)
	}
	return nil
}

// Close drains the buffer and stops the flush goroutine.
func (a *Archive) Close() error {
	a.once.Do(func() {
		close(a.ch)
		<-a.done
	})
	return nil
}

func (a *Archive) flushLoop() {
	defer close(a.done)

	batch := make([]Event, 0, 64)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-a.ch:
			if !ok {
				a.flushBatch(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= 64 {
				a.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (a *Archive) flushBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}

	tx, err := a.db.Begin()
	if err != nil {
		a.logger.Error("archive: begin tx", "error", err)
		return
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO classifications
		(id, post_id, thread_url, image_url, image_name, body_md, scores, verdict, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		a.logger.Error("archive: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, ev := range batch {
		scores, _ := json.Marshal(ev.Scores)
		verdict, _ := json.Marshal(ev.Verdict)
		if _, err := stmt.Exec(
			ev.ID, ev.PostID, ev.ThreadURL, ev.ImageURL, ev.ImageName,
			a.bodyMarkdown(ev), string(scores), string(verdict),
			boolToInt(ev.Failed), ev.Time.UnixMilli(),
		); err != nil {
			a.logger.Error("archive: insert", "post_id", ev.PostID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		a.logger.Error("archive: commit", "error", err)
	}
}

// bodyMarkdown converts the post's original markup to markdown, falling
// back to the plain text body when conversion fails.
func (a *Archive) bodyMarkdown(ev Event) string {
	if ev.BodyHTML == "" {
		return ev.PostBody
	}
	md, err := a.md.ConvertString(ev.BodyHTML)
	if err != nil {
		a.logger.Warn("archive: markdown conversion failed", "post_id", ev.PostID, "error", err)
		return ev.PostBody
	}
	return md
}

// ArchivedEvent is one persisted classification row.
type ArchivedEvent struct {
	ID        string
	PostID    int64
	ThreadURL string
	ImageURL  string
	ImageName string
	BodyMD    string
	Scores    classify.Scores
	Verdict   []string
	Failed    bool
	CreatedAt time.Time
}

// Recent returns the most recently archived events, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]ArchivedEvent, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, post_id, thread_url, image_url, image_name,
		body_md, scores, verdict, failed, created_at
		FROM classifications ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	var out []ArchivedEvent
	for rows.Next() {
		var (
			ev              ArchivedEvent
			scores, verdict string
			failed, created int64
		)
		if err := rows.Scan(&ev.ID, &ev.PostID, &ev.ThreadURL, &ev.ImageURL, &ev.ImageName,
			&ev.BodyMD, &scores, &verdict, &failed, &created); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		json.Unmarshal([]byte(scores), &ev.Scores)
		json.Unmarshal([]byte(verdict), &ev.Verdict)
		ev.Failed = failed != 0
		ev.CreatedAt = time.UnixMilli(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
