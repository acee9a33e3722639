package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// cmdShowReminder is the interactive view the daemon spawns in a fresh
// terminal when a reminder fires. It shows the reminder and loops until
// the user picks a transition.
func cmdShowReminder(c *client, args []string) error {
	important := hasFlag(args, "--important")
	var id string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			id = a
			break
		}
	}
	if id == "" {
		return fmt.Errorf("usage: remindctl show-reminder <id> [--important]")
	}

	resp, err := c.call(request{Cmd: "get_reminder", ID: id})
	if err != nil {
		return err
	}
	reminder, _ := resp["reminder"].(map[string]any)
	event, _ := resp["event"].(map[string]any)

	printReminderBox(reminder, event, important)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "[a]ck  [s]nooze  [d]rop event  [q]uit > ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "ack":
			return cmdAck(c, []string{id})

		case "s", "snooze":
			when, err := rl.ReadlineWithDefault("+30m")
			if err != nil {
				return nil
			}
			if err := cmdSnooze(c, []string{id, strings.TrimSpace(when)}); err != nil {
				fmt.Println(errorStyle.Render("Error: ") + err.Error())
				continue
			}
			return nil

		case "d", "drop":
			eventID := str(reminder["event_id"])
			occStart := fmt.Sprintf("%.0f", num(reminder["occ_start_utc"]))
			if err := cmdDrop(c, []string{eventID, occStart}); err != nil {
				fmt.Println(errorStyle.Render("Error: ") + err.Error())
				continue
			}
			return nil

		case "q", "quit", "":
			return nil

		default:
			fmt.Println(dimStyle.Render("Choose a, s, d or q."))
		}
	}
}

func printReminderBox(reminder, event map[string]any, important bool) {
	var b strings.Builder

	title := str(event["summary"])
	if important {
		b.WriteString(warningStyle.Render("!! IMPORTANT !!") + "\n")
	}
	b.WriteString(headerStyle.Render(title) + "\n")

	start := str(event["start"])
	end := str(event["end"])
	if allDay, _ := event["all_day"].(bool); allDay {
		b.WriteString(fmt.Sprintf("%s  %s\n", start, dimStyle.Render("(all day)")))
	} else {
		b.WriteString(fmt.Sprintf("%s - %s\n", start, end))
	}

	tag := str(reminder["rule_name"])
	if tag == "" {
		tag = "custom"
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s  rule=%s  trigger=%s",
		str(reminder["id"]), tag, str(reminder["trigger_local"]))))

	fmt.Println(boxStyle.Render(b.String()))

	if requiresAck, _ := reminder["requires_ack"].(bool); requiresAck {
		fmt.Println(warningStyle.Render("This reminder repeats until acknowledged."))
	}
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
