// Command remindctl is the control client for the remindd daemon. It
// connects over the daemon's unix socket and speaks one newline-delimited
// JSON request per invocation.
//
// Usage:
//
//	remindctl ping
//	remindctl sync
//	remindctl due [limit]
//	remindctl pending [limit]
//	remindctl next [limit]
//	remindctl test [--important]
//	remindctl fire-next
//	remindctl ack <id>
//	remindctl drop <event_id> <occ_start_utc>
//	remindctl snooze <id> <+30m | "YYYY-MM-DD HH:MM">
//	remindctl show-reminder <id> [--important]
//	remindctl regen-rules
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"remindd/internal/config"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage()
		if len(args) == 0 {
			os.Exit(2)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	c := &client{socketPath: cfg.SocketPath}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "ping":
		err = cmdPing(c)
	case "sync":
		err = cmdSync(c)
	case "due":
		err = cmdList(c, "due", rest)
	case "pending":
		err = cmdList(c, "pending", rest)
	case "next":
		err = cmdNext(c, rest)
	case "test":
		err = cmdTest(c, rest)
	case "fire-next":
		err = cmdFireNext(c)
	case "ack":
		err = cmdAck(c, rest)
	case "drop":
		err = cmdDrop(c, rest)
	case "snooze":
		err = cmdSnooze(c, rest)
	case "show-reminder":
		err = cmdShowReminder(c, rest)
	case "regen-rules":
		err = cmdRegenRules(c)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fatal(err)
	}
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("REMINDD_CONFIG")
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(home, ".remindd", "config.yaml")
		}
	}
	return config.Load(configPath)
}

func cmdPing(c *client) error {
	resp, err := c.call(request{Cmd: "ping"})
	if err != nil {
		return err
	}
	fmt.Printf("%s pid=%v now_utc=%v\n", successStyle.Render("Daemon is up."),
		resp["pid"], resp["now_utc"])
	return nil
}

func cmdSync(c *client) error {
	resp, err := c.call(request{Cmd: "sync"})
	if err != nil {
		return err
	}
	counts, _ := resp["counts"].(map[string]any)
	fmt.Println(successStyle.Render("Sync complete."))
	for _, key := range []string{"seen", "occ_upserted", "occ_changed", "rule_created", "skipped_past", "rule_cancelled_unseen", "custom_cancelled_unseen"} {
		fmt.Printf("  %s: %v\n", key, counts[key])
	}
	return nil
}

func cmdList(c *client, cmd string, args []string) error {
	limit, err := parseLimit(args, 10)
	if err != nil {
		return err
	}
	resp, err := c.call(request{Cmd: cmd, Limit: limit})
	if err != nil {
		return err
	}
	reminders, _ := resp["reminders"].([]any)
	if len(reminders) == 0 {
		fmt.Println(dimStyle.Render("No reminders."))
		return nil
	}
	for _, item := range reminders {
		r, _ := item.(map[string]any)
		printReminderLine(r)
	}
	return nil
}

func cmdNext(c *client, args []string) error {
	limit, err := parseLimit(args, 5)
	if err != nil {
		return err
	}
	resp, err := c.call(request{Cmd: "next", Limit: limit})
	if err != nil {
		return err
	}
	events, _ := resp["events"].([]any)
	if len(events) == 0 {
		fmt.Println(dimStyle.Render("No upcoming events."))
		return nil
	}
	for _, item := range events {
		e, _ := item.(map[string]any)
		marker := ""
		if allDay, _ := e["all_day"].(bool); allDay {
			marker = dimStyle.Render(" (all day)")
		}
		fmt.Printf("%s  %s%s\n", headerStyle.Render(str(e["start"])), str(e["summary"]), marker)
	}
	return nil
}

func cmdTest(c *client, args []string) error {
	important := hasFlag(args, "--important")
	resp, err := c.call(request{Cmd: "test", Important: important})
	if err != nil {
		return err
	}
	fmt.Printf("%s id=%s\n", successStyle.Render("Fired test reminder."), str(resp["reminder_id"]))
	return nil
}

func cmdFireNext(c *client) error {
	resp, err := c.call(request{Cmd: "fire_next"})
	if err != nil {
		return err
	}
	fmt.Printf("%s id=%s\n", successStyle.Render("Fired."), str(resp["reminder_id"]))
	return nil
}

func cmdAck(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remindctl ack <id>")
	}
	resp, err := c.call(request{Cmd: "ack_reminder", ID: args[0]})
	if err != nil {
		return err
	}
	if changed, _ := resp["changed"].(bool); !changed {
		fmt.Println(dimStyle.Render("Already acknowledged or cancelled."))
		return nil
	}
	fmt.Println(successStyle.Render("Acknowledged."))
	return nil
}

func cmdDrop(c *client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: remindctl drop <event_id> <occ_start_utc>")
	}
	occStart, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("occ_start_utc must be UTC epoch seconds: %w", err)
	}
	resp, err := c.call(request{Cmd: "drop_occurrence", EventID: args[0], OccStartUTC: occStart})
	if err != nil {
		return err
	}
	fmt.Printf("%s cancelled_rule=%v cancelled_custom=%v\n",
		successStyle.Render("Occurrence dropped."), resp["cancelled_rule"], resp["cancelled_custom"])
	return nil
}

func cmdSnooze(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf(`usage: remindctl snooze <id> <+30m | "YYYY-MM-DD HH:MM">`)
	}
	trigger, err := parseTrigger(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	resp, err := c.call(request{Cmd: "snooze", ID: args[0], TriggerUTC: trigger.Unix()})
	if err != nil {
		return err
	}
	fmt.Printf("%s new_id=%s at %s\n", successStyle.Render("Snoozed."),
		str(resp["new_id"]), trigger.Format("2006-01-02 15:04"))
	return nil
}

func cmdRegenRules(c *client) error {
	resp, err := c.call(request{Cmd: "regen_rules"})
	if err != nil {
		return err
	}
	fmt.Printf("%s unfired=%v\n", successStyle.Render("Rule reminders regenerated."), resp["unfired"])
	return nil
}

// parseTrigger accepts a relative duration ("+30m", "+2h") or a local
// wall-clock time ("2026-01-15 09:00").
func parseTrigger(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Now().Add(d), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use +30m or \"YYYY-MM-DD HH:MM\"): %w", s, err)
	}
	return t, nil
}

func parseLimit(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive number, got %q", args[0])
	}
	return n, nil
}

func printReminderLine(r map[string]any) {
	tag := str(r["rule_name"])
	if tag == "" {
		tag = "custom"
	}
	ack := ""
	if requiresAck, _ := r["requires_ack"].(bool); requiresAck {
		ack = warningStyle.Render(" [ack]")
	}
	fmt.Printf("%s  %s  %s %s%s\n",
		headerStyle.Render(str(r["id"])),
		str(r["trigger_local"]),
		str(r["summary"]),
		dimStyle.Render("("+tag+")"),
		ack)
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`remindctl - control client for the remindd daemon

USAGE:
    remindctl ping                          Check the daemon is up
    remindctl sync                          Run a reconciliation pass now
    remindctl due [limit]                   List due reminders
    remindctl pending [limit]               List upcoming reminders
    remindctl next [limit]                  List upcoming calendar events
    remindctl test [--important]            Fire a reminder for testing
    remindctl fire-next                     Fire the earliest due reminder
    remindctl ack <id>                      Acknowledge a reminder
    remindctl drop <event_id> <start_utc>   Drop an occurrence, cancel its reminders
    remindctl snooze <id> <when>            Re-arm a reminder (+30m or "YYYY-MM-DD HH:MM")
    remindctl show-reminder <id>            Interactive reminder view (used by the daemon)
    remindctl regen-rules                   Un-fire and regenerate future rule reminders

ENVIRONMENT:
    REMINDD_CONFIG       Path to the config file (default ~/.remindd/config.yaml)
    REMINDD_SOCKET_PATH  Override the daemon socket path`)
}
