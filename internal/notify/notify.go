// Package notify spawns the interactive reminder terminal. The engine
// treats a spawn as fire-and-forget; the user's eventual decision comes
// back through the command surface, never as a return value.
package notify

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Notifier launches an interactive notification for a fired reminder.
type Notifier interface {
	Spawn(reminderID string, important bool) error
}

// TerminalNotifier opens a terminal window running
// `remindctl show-reminder <id>`, optionally playing a sound first.
type TerminalNotifier struct {
	// ctlPath is the remindctl binary to invoke inside the terminal.
	ctlPath string
	// command is the spawn template on non-darwin platforms, with "{cmd}"
	// replaced by the show-reminder invocation. On darwin an iTerm2
	// osascript is used instead.
	command string
	sound   string
	timeout time.Duration
}

func NewTerminalNotifier(ctlPath, command, sound string, timeout time.Duration) *TerminalNotifier {
	return &TerminalNotifier{
		ctlPath: ctlPath,
		command: command,
		sound:   sound,
		timeout: timeout,
	}
}

// Spawn plays the configured sound (best-effort) and opens the reminder
// terminal. The spawn command itself is bounded by the configured timeout;
// the interactive session it opens is not our child to wait for.
func (n *TerminalNotifier) Spawn(reminderID string, important bool) error {
	n.playSound()

	show := n.ctlPath + " show-reminder " + shellQuote(reminderID)
	if important {
		show += " --important"
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	cmd, err := n.spawnCommand(ctx, show)
	if err != nil {
		return err
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("spawn terminal: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (n *TerminalNotifier) spawnCommand(ctx context.Context, show string) (*exec.Cmd, error) {
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`tell application "iTerm2"
  create window with default profile
  tell current session of current window
    write text "%s"
  end tell
end tell`, escapeAppleScript(show+"; exit"))
		return exec.CommandContext(ctx, "osascript", "-e", script), nil
	}

	if n.command == "" {
		return nil, fmt.Errorf("notify.command is not configured for %s", runtime.GOOS)
	}
	full := strings.ReplaceAll(n.command, "{cmd}", show)
	return exec.CommandContext(ctx, "sh", "-c", full), nil
}

func (n *TerminalNotifier) playSound() {
	if n.sound == "" || runtime.GOOS != "darwin" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "afplay", n.sound).Run(); err != nil {
		log.Printf("[notify] sound playback failed: %v", err)
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
