package runtime

import (
	"bufio"
	"context"
	"io"
	"strings"

	"swarm/pkg/protocol"
)

// maxLineBytes bounds one inbound request line.
const maxLineBytes = 4 << 20

// Serve runs the line protocol: one JSON request per inbound line,
// one envelope per outbound line, until EOF or ctx cancellation.
// Returns the exit code of the final request so one-shot sessions
// propagate their failure to the process exit.
func (c *Coordinator) Serve(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	exitCode := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return exitCode, ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var env *protocol.Envelope
		req, perr := protocol.ParseRequest([]byte(line))
		if perr != nil {
			env = c.parseFailure(&protocol.Request{}, perr)
			env.Exit = protocol.KindSerialization.ExitCode()
		} else {
			env = c.Handle(ctx, req)
		}
		exitCode = env.Exit
		if err := env.EncodeLine(w); err != nil {
			return exitCode, err
		}
	}
	if err := scanner.Err(); err != nil {
		return exitCode, protocol.Wrap(protocol.KindDependency, err, "read request stream")
	}
	return exitCode, nil
}
