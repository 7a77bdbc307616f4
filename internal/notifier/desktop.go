package notifier

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const DefaultDesktopCommand = "notify-send"

// Desktop runs `<Command> [Args...] <title> <body>` per notification.
type Desktop struct {
	Command string
	Args    []string
}

func NewDesktop(command string, args ...string) *Desktop {
	if strings.TrimSpace(command) == "" {
		command = DefaultDesktopCommand
	}
	return &Desktop{Command: command, Args: args}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Send(ctx context.Context, n Notification) error {
	args := append(append([]string(nil), d.Args...), n.Title, n.Body)
	cmd := exec.CommandContext(ctx, d.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", d.Command, err, msg)
		}
		return fmt.Errorf("%s: %w", d.Command, err)
	}
	return nil
}
