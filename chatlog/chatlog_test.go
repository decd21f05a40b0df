package chatlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/NeboLoop/kick-go-sdk/wire"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id string, room wire.RoomID, user, content string, at time.Time) *wire.ChatMessage {
	return &wire.ChatMessage{
		ID:         id,
		ChatroomID: room,
		Content:    content,
		CreatedAt:  at.Format(time.RFC3339),
		Sender:     wire.Sender{ID: 9, Username: user},
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, m := range []*wire.ChatMessage{
		msg("a", 668, "alice", "first", base),
		msg("b", 668, "bob", "second", base.Add(time.Second)),
		msg("c", 1, "carol", "elsewhere", base.Add(2*time.Second)),
		msg("d", 668, "alice", "third", base.Add(3*time.Second)),
	} {
		channel := "xqc"
		if m.ChatroomID == 1 {
			channel = "other"
		}
		if err := s.Record(ctx, channel, m); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	// replayed message
	if err := s.Record(ctx, "xqc", msg("a", 668, "alice", "first", base)); err != nil {
		t.Fatalf("duplicate Record: %v", err)
	}

	got, err := s.Recent(ctx, "xqc", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "d" {
		t.Fatalf("Recent = %+v, want b, d", got)
	}
	if got[1].String() != "xqc | alice: third" {
		t.Errorf("String = %q", got[1].String())
	}
	if got[1].RoomID != 668 || !got[1].CreatedAt.Equal(base.Add(3*time.Second)) {
		t.Errorf("entry = %+v", got[1])
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("Recent(all) = %d entries, want 4", len(all))
	}
}

func TestSearch(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := time.Now()
	s.Record(ctx, "xqc", msg("1", 668, "alice", "gg wp", now))
	s.Record(ctx, "xqc", msg("2", 668, "bob", "nice play", now.Add(time.Second)))
	s.Record(ctx, "xqc", msg("3", 668, "carol", "GG", now.Add(2*time.Second)))

	got, err := s.Search(ctx, "xqc", `(?i)^gg`)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("Search = %+v", got)
	}
	if _, err := s.Search(ctx, "xqc", `(`); err == nil {
		t.Error("bad pattern accepted")
	}
}

func TestRegexCompilesPatternOnce(t *testing.T) {
	const pattern = `^wp+$`
	for _, s := range []string{"wppp", "gg", "wp"} {
		if _, err := regex(pattern, s); err != nil {
			t.Fatal(err)
		}
	}
	first, ok := patterns.Load(pattern)
	if !ok {
		t.Fatal("pattern not cached")
	}
	if m, _ := regex(pattern, "wpp"); !m {
		t.Error("cached pattern did not match")
	}
	if again, _ := patterns.Load(pattern); again != first {
		t.Error("pattern recompiled")
	}
	if _, err := regex(`(`, "x"); err == nil {
		t.Error("bad pattern accepted")
	}
	if _, ok := patterns.Load(`(`); ok {
		t.Error("bad pattern cached")
	}
}

func TestRecordRejectsMessageWithoutID(t *testing.T) {
	s := openTest(t)
	if err := s.Record(context.Background(), "xqc", &wire.ChatMessage{Content: "x"}); err == nil {
		t.Fatal("message without id recorded")
	}
}
