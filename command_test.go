package kick

import (
	"slices"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content string
		ok      bool
		name    string
		args    []string
	}{
		{"!so alice", true, "so", []string{"alice"}},
		{"  !Ban  eve 10 ", true, "ban", []string{"eve", "10"}},
		{"!ping", true, "ping", []string{}},
		{"!", false, "", nil},
		{"! ping", false, "", nil},
		{"hello !ping", false, "", nil},
	}
	for _, tt := range tests {
		cmd, ok := ParseCommand("!", tt.content)
		if ok != tt.ok {
			t.Errorf("ParseCommand(%q) ok = %v, want %v", tt.content, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if cmd.Name != tt.name || !slices.Equal(cmd.Args, tt.args) {
			t.Errorf("ParseCommand(%q) = %+v", tt.content, cmd)
		}
	}
	if _, ok := ParseCommand("", "!ping"); ok {
		t.Error("empty prefix matched")
	}
}
