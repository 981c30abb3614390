package engine

import (
	"strings"
	"time"
)

// Command is the input boundary envelope for every adapter.
// Treated as immutable once handed to Execute.
type Command struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Stdin   string
	Shell   bool
	Timeout time.Duration
	NoThrow bool
	Retry   *RetryPolicy
	Target  Target
}

// Validate enforces required command envelope fields.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return wrapInvalidCommand("missing command")
	}
	if c.Target == nil {
		return wrapInvalidCommand("missing target")
	}
	if c.Timeout < 0 {
		return wrapInvalidCommand("negative timeout")
	}
	return c.Target.Validate()
}

// Line is the display form of the command recorded on results.
func (c Command) Line() string {
	if len(c.Args) == 0 {
		return c.Command
	}
	return c.Command + " " + strings.Join(c.Args, " ")
}
