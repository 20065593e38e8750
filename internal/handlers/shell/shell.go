package shell

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"docqueue/internal/domain"
)

// Shell runs the command described by the message payload. The message id and
// try count are exported to the child as DOCQUEUE_MESSAGE_ID and DOCQUEUE_TRIES.
type Shell struct{}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (h Shell) Handle(ctx context.Context, d domain.Delivery) error {
	var c Cmd
	if err := d.Decode(&c); err != nil {
		return fmt.Errorf("invalid shell payload: %w", err)
	}
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Env = append(os.Environ(),
		"DOCQUEUE_MESSAGE_ID="+d.ID,
		"DOCQUEUE_TRIES="+strconv.Itoa(d.Tries),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	return nil
}
