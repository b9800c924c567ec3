package skill

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"swarm/pkg/protocol"
)

// Lander pushes a completed bead's work out through the configured
// land command. Landing is retried: a push can lose a race with
// another worker's push and succeed on the next attempt.
type Lander struct {
	Command     string
	Shell       string
	MaxAttempts int
	Backoff     time.Duration
}

// NewLander builds a lander with the default retry posture.
func NewLander(command string) *Lander {
	return &Lander{
		Command:     command,
		Shell:       "/bin/sh",
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
	}
}

// Land runs the land command until it succeeds or attempts are
// exhausted. Returns the final transcript and the attempt count; a
// dependency error means every attempt failed.
func (l *Lander) Land(ctx context.Context) (string, int, error) {
	if l.Command == "" {
		return "", 0, protocol.New(protocol.KindConfig, "no land command configured")
	}
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	attempts := l.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var transcript string
	for attempt := 1; attempt <= attempts; attempt++ {
		var buf bytes.Buffer
		cmd := exec.CommandContext(ctx, shell, "-c", l.Command)
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		err := cmd.Run()
		transcript = buf.String()
		if err == nil {
			return transcript, attempt, nil
		}
		if ctx.Err() != nil {
			return transcript, attempt, protocol.Wrap(protocol.KindTimeout, ctx.Err(),
				"landing canceled on attempt %d", attempt)
		}
		if attempt < attempts {
			select {
			case <-time.After(l.Backoff):
			case <-ctx.Done():
				return transcript, attempt, protocol.Wrap(protocol.KindTimeout, ctx.Err(),
					"landing canceled while backing off")
			}
		}
	}
	return transcript, attempts, protocol.New(protocol.KindDependency,
		"landing failed after %d attempts: %s", attempts, fmt.Sprintf("%q", l.Command))
}
