package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"
)

type (
	HookName string
	HookList []Hook
	Hooks    map[HookName]HookList
)

type Hook interface {
	Run(*specs.State) error
}

const (
	PreStart  HookName = "preStart"
	PostStart HookName = "postStart"
	PostStop  HookName = "postStop"
)

func KnownHookNames() []string {
	return []string{
		string(PreStart),
		string(PostStart),
		string(PostStop),
	}
}

// Register adds the first hook for name.
func (hooks Hooks) Register(name HookName, hook Hook) error {
	if _, exists := hooks[name]; exists {
		return fmt.Errorf("%w: %q", ErrHookExists, name)
	}
	hooks[name] = append(hooks[name], hook)
	return nil
}

// Add appends hook to the list for name.
func (hooks Hooks) Add(name HookName, hook Hook) {
	hooks[name] = append(hooks[name], hook)
}

func (hooks Hooks) Run(name HookName, state *specs.State) error {
	list := hooks[name]
	for i, hook := range list {
		if debug {
			log.Printf("running %s hook #%d", name, i)
		}
		if err := hook.Run(state); err != nil {
			return fmt.Errorf("error running %s hook #%d: %w", name, i, err)
		}
	}
	return nil
}

// CommandHook runs a bundle hook binary with the state JSON on stdin.
type CommandHook struct {
	specs.Hook
}

func (c *CommandHook) Run(s *specs.State) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if c.Timeout != nil && *c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*c.Timeout)*time.Second)
		defer cancel()
	}

	args := c.Args
	if len(args) == 0 {
		args = []string{c.Path}
	}
	cmd := exec.CommandContext(ctx, c.Path)
	cmd.Args = args
	cmd.Env = c.Env
	cmd.Stdin = bytes.NewReader(b)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s: %w: %s", c.Path, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("%s: %w", c.Path, err)
	}
	return nil
}
