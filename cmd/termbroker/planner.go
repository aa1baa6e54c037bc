package main

import (
	"fmt"
	"os"

	"github.com/viberails/termbroker/internal/broker"
	"github.com/viberails/termbroker/internal/session"
)

// cliCommands maps each supported CLIKind to the program line typed into
// the freshly spawned shell. Resolving which coding-agent binary to
// actually invoke (aliases, wrapper scripts, AGENTS.md-driven flags) is
// an external collaborator's concern (spec.md §1 "out of scope");
// cliPlanner only needs a reasonable default per kind.
var cliCommands = map[session.CLIKind]string{
	session.CLIClaude:  "claude",
	session.CLICodex:   "codex",
	session.CLIGemini:  "gemini",
	session.CLICopilot: "gh copilot",
}

// cliPlanner is the default broker.CommandPlanner: it builds the child
// shell's environment and an initial command line for one of the
// enumerated CLIKinds.
type cliPlanner struct {
	cols, rows int
}

func (p *cliPlanner) Plan(sess *session.Session) (broker.PlannedCommand, error) {
	cmd, ok := cliCommands[sess.CLI]
	if !ok {
		return broker.PlannedCommand{}, fmt.Errorf("unknown cli kind %q", sess.CLI)
	}

	cols, rows := p.cols, p.rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	return broker.PlannedCommand{
		Env:            childEnv(),
		Cols:           cols,
		Rows:           rows,
		Title:          fmt.Sprintf("%s — %s", sess.CLI, sess.WorkingDir),
		InitialCommand: cmd,
	}, nil
}

// childEnv sets TERM and copies HOME, PATH, SHELL and USER from this
// process's environment, the small set most CLIs need to find their own
// config; no other variable is passed through. The PTY itself does not
// inherit the parent's environment automatically (spec.md §4.2), so the
// caller must supply the complete set it wants.
func childEnv() map[string]string {
	env := map[string]string{
		"TERM": "xterm-256color",
	}
	for _, k := range []string{"HOME", "PATH", "SHELL", "USER"} {
		if v := os.Getenv(k); v != "" {
			env[k] = v
		}
	}
	return env
}
