package probe

import "testing"

func TestNeedsPTY(t *testing.T) {
	tests := []struct {
		command string
		want    bool
		desc    string
	}{
		{"vim file.txt", true, "TUI editor"},
		{"nano README.md", true, "TUI editor"},
		{"less file.txt", true, "TUI pager"},
		{"htop", true, "TUI monitor"},
		{"claude", true, "AI TUI tool"},

		{"ssh host", true, "SSH interactive login"},
		{"ssh -t host", true, "SSH with forced PTY"},
		{"ssh -T host", false, "SSH with no PTY"},
		{"ssh host ls", false, "SSH with remote command"},
		{"ssh -o BatchMode=yes host", false, "SSH batch mode"},

		{"docker run -it ubuntu", true, "Docker interactive"},
		{"docker run -t ubuntu", false, "Docker only -t"},
		{"docker run ubuntu echo hi", false, "Docker with command"},

		{"git add -p", true, "Git interactive add"},
		{"git commit", true, "Git commit (opens editor)"},
		{"git commit -m 'test'", false, "Git commit with message"},

		{"python", true, "Python REPL"},
		{"python script.py", false, "Python with script"},
		{"python -c 'print(1)'", false, "Python inline code"},

		{"sudo apt update", true, "Sudo needs password"},
		{"sudo -n apt update", false, "Sudo non-interactive"},

		{"ls | grep txt", false, "Command with pipe"},
		{"vim > output.txt", false, "Command with redirect"},

		{"echo 'Nested command via system()'", false, "Plain echo"},
		{"", false, "Empty command"},
		{"nohup vim file.txt", true, "Wrapper peeled to TUI"},
		{"env FOO=bar htop", true, "Env wrapper peeled to TUI"},
		{"doas -u root less /var/log/syslog", true, "Doas wrapper peeled to pager"},
		{"echo 'unbalanced", false, "Unbalanced quote"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := NeedsPTY(tt.command); got != tt.want {
				t.Errorf("NeedsPTY(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestSplitCommandQuoting(t *testing.T) {
	tokens, ok := splitCommand(`echo 'single quoted' "double quoted" plain`)
	if !ok {
		t.Fatal("Expected balanced command to tokenize")
	}

	want := []string{"echo", "single quoted", "double quoted", "plain"}
	if len(tokens) != len(want) {
		t.Fatalf("Expected %d tokens, got %d: %v", len(want), len(tokens), tokens)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("Token %d: expected %q, got %q", i, want[i], tokens[i])
		}
	}

	if _, ok := splitCommand(`echo "unterminated`); ok {
		t.Error("Expected unbalanced quote to fail tokenizing")
	}
}

func TestHasTopLevelShellMetaIgnoresQuoted(t *testing.T) {
	if hasTopLevelShellMeta("echo 'a | b'") {
		t.Error("Quoted pipe should not count as top-level metacharacter")
	}
	if !hasTopLevelShellMeta("echo a | grep b") {
		t.Error("Unquoted pipe should count as top-level metacharacter")
	}
	if !hasTopLevelShellMeta("echo $(date)") {
		t.Error("Command substitution should count as top-level metacharacter")
	}
}
