package probe

import (
	"path/filepath"
	"strings"
)

// knownTUIs is a conservative allowlist of programs that definitely need a
// PTY for proper terminal control.
var knownTUIs = map[string]bool{
	// editors
	"vim": true, "vi": true, "nvim": true, "neovim": true, "nano": true, "emacs": true,
	// pagers
	"less": true, "more": true, "most": true,
	// monitors
	"top": true, "htop": true, "btop": true, "glances": true,
	// network tools
	"telnet": true, "ftp": true, "sftp": true,
	// AI tools
	"claude": true, "codex": true, "gemini": true,
	// multiplexers
	"tmux": true, "screen": true, "zellij": true,
	// git/file tools
	"fzf": true, "lazygit": true, "gitui": true, "tig": true,
	"ranger": true, "yazi": true, "k9s": true, "nmtui": true,
	// interactive pythons
	"ipython": true, "bpython": true,
	// database CLIs
	"sqlite3": true, "psql": true, "mysql": true,
	// Note: python, node, git, ssh, sudo handled by special logic below
}

// NeedsPTY determines if a command needs PTY allocation for proper terminal
// control. Pipelines and redirections never get one; known TUIs, interactive
// REPLs, password-prompting sudo and interactive ssh/git invocations do.
func NeedsPTY(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false
	}

	// Shell metacharacters at top level mean the shell owns the terminal
	// plumbing; never allocate a PTY for those.
	if hasTopLevelShellMeta(cmd) {
		return false
	}

	tokens, ok := splitCommand(cmd)
	if !ok || len(tokens) == 0 {
		// Malformed command, don't use PTY
		return false
	}

	name := baseCommand(tokens[0])

	// sudo wants a PTY for its password prompt unless told not to ask.
	if name == "sudo" {
		return sudoWantsPTY(tokens)
	}

	tokens = peelWrappers(tokens)
	if len(tokens) == 0 {
		return false
	}
	name = baseCommand(tokens[0])

	switch name {
	case "ssh":
		return sshWantsPTY(tokens)
	case "git":
		return gitWantsPTY(tokens)
	case "python", "python2", "python3", "node", "irb", "pry":
		return replWantsPTY(tokens)
	case "docker", "podman":
		return dockerWantsPTY(tokens)
	}

	return knownTUIs[name]
}

func baseCommand(token string) string {
	name := filepath.Base(token)
	name = strings.ToLower(name)
	for _, ext := range []string{".exe", ".cmd", ".bat"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// hasTopLevelShellMeta reports shell metacharacters outside of quotes.
func hasTopLevelShellMeta(cmd string) bool {
	var inSingle, inDouble bool

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]

		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '|' || c == '&' || c == ';' || c == '<' || c == '>' || c == '`':
			return true
		case c == '$' && i+1 < len(cmd) && cmd[i+1] == '(':
			return true
		}
	}

	return false
}

// splitCommand tokenizes a command line honoring single and double quotes.
// ok is false when a quote is left unbalanced.
func splitCommand(cmd string) (tokens []string, ok bool) {
	var current strings.Builder
	var inSingle, inDouble, hasToken bool

	flush := func() {
		if hasToken {
			tokens = append(tokens, current.String())
			current.Reset()
			hasToken = false
		}
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]

		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			} else {
				current.WriteByte(c)
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			} else {
				current.WriteByte(c)
			}
		case c == '\'':
			inSingle = true
			hasToken = true
		case c == '"':
			inDouble = true
			hasToken = true
		case c == ' ' || c == '\t':
			flush()
		default:
			current.WriteByte(c)
			hasToken = true
		}
	}

	if inSingle || inDouble {
		return nil, false
	}

	flush()
	return tokens, true
}

// peelWrappers strips wrapper commands (env, nohup, doas) to find the actual
// command underneath.
func peelWrappers(tokens []string) []string {
	for len(tokens) > 0 {
		switch baseCommand(tokens[0]) {
		case "env":
			i := 1
			for i < len(tokens) && (strings.Contains(tokens[i], "=") || strings.HasPrefix(tokens[i], "-")) {
				i++
			}
			tokens = tokens[i:]
		case "nohup":
			tokens = tokens[1:]
		case "doas":
			i := 1
			if i < len(tokens) && tokens[i] == "-u" {
				i += 2
			}
			tokens = tokens[i:]
		default:
			return tokens
		}
	}

	return tokens
}

func sudoWantsPTY(tokens []string) bool {
	for _, tok := range tokens[1:] {
		if tok == "-n" || tok == "--non-interactive" {
			return false
		}
	}
	return true
}

func sshWantsPTY(tokens []string) bool {
	var positional []string

	// Options that consume a value.
	valueFlags := map[string]bool{
		"-o": true, "-p": true, "-i": true, "-l": true, "-F": true,
		"-L": true, "-R": true, "-D": true, "-W": true, "-E": true, "-J": true,
	}

	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]

		switch {
		case tok == "-T":
			return false
		case tok == "-t":
			return true
		case strings.HasPrefix(tok, "-o"):
			opt := strings.TrimPrefix(tok, "-o")
			if opt == "" && i+1 < len(tokens) {
				i++
				opt = tokens[i]
			}
			if strings.EqualFold(opt, "BatchMode=yes") {
				return false
			}
		case strings.HasPrefix(tok, "-"):
			if valueFlags[tok] {
				i++
			}
		default:
			positional = append(positional, tok)
		}
	}

	// Host alone is an interactive login; host plus a remote command is not.
	return len(positional) == 1
}

func gitWantsPTY(tokens []string) bool {
	if len(tokens) < 2 {
		return false
	}

	switch tokens[1] {
	case "commit":
		// Opens an editor unless the message is supplied inline.
		for _, tok := range tokens[2:] {
			if tok == "-m" || tok == "--message" || strings.HasPrefix(tok, "--message=") || strings.HasPrefix(tok, "-m") {
				return false
			}
		}
		return true
	case "add", "checkout", "stash", "reset":
		for _, tok := range tokens[2:] {
			if tok == "-p" || tok == "--patch" || tok == "-i" || tok == "--interactive" {
				return true
			}
		}
		return false
	case "rebase":
		for _, tok := range tokens[2:] {
			if tok == "-i" || tok == "--interactive" {
				return true
			}
		}
		return false
	}

	return false
}

func replWantsPTY(tokens []string) bool {
	// Bare interpreter drops into a REPL; any script or inline code does not.
	return len(tokens) == 1
}

func dockerWantsPTY(tokens []string) bool {
	var hasInteractive, hasTTY bool

	for _, tok := range tokens[1:] {
		switch {
		case tok == "--interactive":
			hasInteractive = true
		case tok == "--tty":
			hasTTY = true
		case strings.HasPrefix(tok, "-") && !strings.HasPrefix(tok, "--"):
			if strings.Contains(tok, "i") {
				hasInteractive = true
			}
			if strings.Contains(tok, "t") {
				hasTTY = true
			}
		}
	}

	return hasInteractive && hasTTY
}
