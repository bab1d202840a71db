package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"threadsync/pkg/chat"
	"threadsync/pkg/models"
)

// printer renders orchestrator events on stdout. Callbacks arrive on the
// stream goroutine, so output is plain sequential writes.
type printer struct {
	thinking bool
}

func (p *printer) OnThinking(delta string) {
	if !p.thinking {
		fmt.Print("\n… ")
		p.thinking = true
	}
	fmt.Print(delta)
}

func (p *printer) OnProgress(message string) {
	p.thinking = false
	fmt.Printf("\n[%s]\n", message)
}

func (p *printer) OnMessage(m models.Message) {
	p.thinking = false
	switch m.Role {
	case models.RoleUser:
		return // the user just typed it
	case models.RoleAssistant:
		fmt.Printf("\nassistant (%s)\n%s\n", shortID(m.ID), m.Content)
		for _, r := range m.Meta.References {
			fmt.Printf("  ref: %s\n", r)
		}
		for _, f := range m.Meta.Followups {
			fmt.Printf("  followup: %s\n", f)
		}
	}
}

func (p *printer) OnThreadMigrated(oldID, newID string) {
	fmt.Printf("\n(thread %s is now %s)\n", oldID, newID)
}

func (p *printer) OnWarning(message string) {
	p.thinking = false
	fmt.Printf("\n! %s\n", message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// repl reads stdin line by line: ':'-prefixed lines are commands, anything
// else is submitted to the agent.
func (a *App) repl(ctx context.Context) error {
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			if err := a.orch.Submit(ctx, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
			continue
		}
		if done := a.command(ctx, line); done {
			return nil
		}
	}
}

// command dispatches one ':' line; returns true on quit.
func (a *App) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":threads":
		for _, th := range a.orch.Threads() {
			marker := " "
			if th.ID == a.orch.ActiveThreadID() {
				marker = "*"
			}
			title := th.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s %s  %s  [%s]\n", marker, th.ID, title, th.State)
		}
	case ":open":
		if len(fields) < 2 {
			fmt.Println("! usage: :open <thread-id>")
			return false
		}
		if err := a.orch.OpenThread(fields[1]); err != nil {
			fmt.Printf("! %v\n", err)
			return false
		}
		for _, m := range a.orch.Messages() {
			fmt.Printf("%s (%s): %s\n", m.Role, shortID(m.ID), m.Content)
		}
	case ":new":
		th := a.orch.NewLocalThread(strings.Join(fields[1:], " "))
		fmt.Printf("opened %s\n", th.ID)
	case ":retry":
		if err := a.orch.Retry(ctx); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case ":regen":
		if len(fields) < 2 {
			fmt.Println("! usage: :regen <msg-id>")
			return false
		}
		id, ok := a.resolveMessageID(fields[1])
		if !ok {
			fmt.Println("! no such message")
			return false
		}
		if err := a.orch.Regenerate(ctx, id); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case ":vote":
		if len(fields) < 3 || (fields[1] != "up" && fields[1] != "down") {
			fmt.Println("! usage: :vote up|down <msg-id>")
			return false
		}
		id, ok := a.resolveMessageID(fields[2])
		if !ok {
			fmt.Println("! no such message")
			return false
		}
		if err := a.orch.Vote(ctx, id, fields[1] == "up"); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case ":rename":
		if len(fields) < 2 {
			fmt.Println("! usage: :rename <title>")
			return false
		}
		active := a.orch.ActiveThreadID()
		if active == "" {
			fmt.Println("! no open thread")
			return false
		}
		if err := a.orch.RenameThread(ctx, active, strings.Join(fields[1:], " ")); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case ":delete":
		active := a.orch.ActiveThreadID()
		if active == "" {
			fmt.Println("! no open thread")
			return false
		}
		if err := a.orch.DeleteThread(ctx, active); err != nil {
			fmt.Printf("! %v\n", err)
		}
	default:
		fmt.Printf("! unknown command %s\n", fields[0])
	}
	return false
}

// resolveMessageID accepts a full id or the 8-char prefix shown in output.
func (a *App) resolveMessageID(prefix string) (string, bool) {
	for _, m := range a.orch.Messages() {
		if m.ID == prefix || strings.HasPrefix(m.ID, prefix) {
			return m.ID, true
		}
	}
	return "", false
}

var _ chat.Events = (*printer)(nil)
