// Package chatlog persists chat messages in SQLite.
package chatlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/NeboLoop/kick-go-sdk/wire"
)

// driverName is sqlite3 with a REGEXP function registered on every
// connection.
const driverName = "sqlite3_kick_regexp"

var registerOnce sync.Once

func register() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", regex, true)
			},
		})
	})
}

// patterns caches compiled REGEXP patterns by source.
var patterns sync.Map

func regex(pattern, s string) (bool, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(s), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	actual, _ := patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp).MatchString(s), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	channel     TEXT NOT NULL,
	room_id     INTEGER NOT NULL,
	sender_id   INTEGER NOT NULL,
	username    TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_channel_created ON messages (channel, created_at);
`

// Entry is one logged chat message.
type Entry struct {
	ID        string
	Channel   string
	RoomID    wire.RoomID
	SenderID  int64
	Username  string
	Content   string
	CreatedAt time.Time
}

// String renders the entry as "channel | username: content".
func (e Entry) String() string {
	return fmt.Sprintf("%s | %s: %s", e.Channel, e.Username, e.Content)
}

// Store is a SQLite-backed chat log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the log at path.
func Open(path string) (*Store, error) {
	register()
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chat log schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores msg under channel. A message id already logged is ignored.
func (s *Store) Record(ctx context.Context, channel string, msg *wire.ChatMessage) error {
	if msg == nil || msg.ID == "" {
		return errors.New("chatlog: message without id")
	}
	created := s.now().UTC()
	if t, err := time.Parse(time.RFC3339, msg.CreatedAt); err == nil {
		created = t.UTC()
	}
	query := `INSERT OR IGNORE INTO messages (id, channel, room_id, sender_id, username, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, channel, int64(msg.ChatroomID), msg.Sender.ID, msg.Sender.Username, msg.Content, created,
	); err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

// Recent returns the newest limit entries of channel, oldest first. An
// empty channel means every channel.
func (s *Store) Recent(ctx context.Context, channel string, limit int) ([]Entry, error) {
	query := `SELECT id, channel, room_id, sender_id, username, content, created_at
		FROM messages WHERE (? = '' OR channel = ?) ORDER BY created_at DESC, rowid DESC LIMIT ?`
	out, err := s.list(ctx, query, channel, channel, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Search returns the entries of channel whose content matches the regular
// expression pattern, oldest first.
func (s *Store) Search(ctx context.Context, channel, pattern string) ([]Entry, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, fmt.Errorf("chatlog: bad pattern: %w", err)
	}
	query := `SELECT id, channel, room_id, sender_id, username, content, created_at
		FROM messages WHERE (? = '' OR channel = ?) AND content REGEXP ? ORDER BY created_at, rowid`
	return s.list(ctx, query, channel, channel, pattern)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var room int64
		if err := rows.Scan(&e.ID, &e.Channel, &room, &e.SenderID, &e.Username, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		e.RoomID = wire.RoomID(room)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over messages: %w", err)
	}
	return out, nil
}
