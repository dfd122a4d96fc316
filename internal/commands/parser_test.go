package commands

import "testing"

func TestParserParseCommand(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name     string
		input    string
		wantNil  bool
		wantName string
		wantArgs string
	}{
		{name: "empty string", input: "", wantNil: true},
		{name: "plain text", input: "hello world", wantNil: true},
		{name: "prefix only", input: "/", wantNil: true},
		{name: "prefix then digit", input: "/123", wantNil: true},
		{name: "simple command", input: "/help", wantName: "help"},
		{name: "uppercase", input: "/NEW", wantName: "new"},
		{name: "with args", input: "/change-agent  coder ", wantName: "change-agent", wantArgs: "coder"},
		{name: "bang prefix", input: "!stop", wantName: "stop"},
		{name: "bot suffix", input: "/start@agent_bot", wantName: "start"},
		{name: "bot suffix with args", input: "/change-agent@agent_bot coder", wantName: "change-agent", wantArgs: "coder"},
		{name: "multi word args", input: "/new first line", wantName: "new", wantArgs: "first line"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.ParseCommand(tt.input)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("ParseCommand(%q) = %+v, want nil", tt.input, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseCommand(%q) = nil", tt.input)
			}
			if got.Name != tt.wantName || got.Args != tt.wantArgs {
				t.Fatalf("ParseCommand(%q) = %q %q, want %q %q", tt.input, got.Name, got.Args, tt.wantName, tt.wantArgs)
			}
		})
	}
}

func TestParserCustomPrefix(t *testing.T) {
	parser := NewParser(".")
	if got := parser.ParseCommand(".help"); got == nil || got.Prefix != "." {
		t.Fatalf("ParseCommand(.help) = %+v", got)
	}
	if parser.IsCommand("/help") {
		t.Fatal("slash should not be a command prefix")
	}
}

func TestSplitCommandArgs(t *testing.T) {
	name, args := SplitCommandArgs("  Change-Agent coder  ")
	if name != "change-agent" || args != "coder" {
		t.Fatalf("SplitCommandArgs = %q %q", name, args)
	}
	if name, args := SplitCommandArgs(""); name != "" || args != "" {
		t.Fatalf("SplitCommandArgs(empty) = %q %q", name, args)
	}
}
