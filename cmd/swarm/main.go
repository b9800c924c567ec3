// Package main is the entry point for the swarm coordinator CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"swarm/pkg/protocol"
)

func main() {
	root, exit := newRootCmd()
	if err := root.Execute(); err != nil {
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			// cobra usage errors are CLI misuse, not internal faults
			perr = protocol.Wrap(protocol.KindCLI, err, "%s", err.Error())
		}
		fmt.Fprintf(os.Stderr, "swarm: %s\n", perr.Msg)
		os.Exit(perr.ExitCode())
	}
	os.Exit(*exit)
}
