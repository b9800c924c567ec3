// Package stage models the fixed four-stage pipeline and the pure
// transition function that decides what happens after each attempt.
// It performs no I/O; the store and skill layers are injected around
// it.
package stage

import "fmt"

// Stage is one step of the pipeline. The order is fixed:
// rust-contract -> implement -> qa-enforcer -> red-queen -> done.
type Stage string

// Pipeline stages. Done is terminal; the other four are executable.
const (
	RustContract Stage = "rust-contract"
	Implement    Stage = "implement"
	QAEnforcer   Stage = "qa-enforcer"
	RedQueen     Stage = "red-queen"
	Done         Stage = "done"
)

// Executable lists the four executable stages in pipeline order.
var Executable = []Stage{RustContract, Implement, QAEnforcer, RedQueen}

// Parse converts a canonical stage string into a Stage.
func Parse(s string) (Stage, error) {
	switch Stage(s) {
	case RustContract, Implement, QAEnforcer, RedQueen, Done:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("unknown stage: %q", s)
	}
}

// Next returns the stage after s, or false when s is terminal.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case RustContract:
		return Implement, true
	case Implement:
		return QAEnforcer, true
	case QAEnforcer:
		return RedQueen, true
	case RedQueen:
		return Done, true
	default:
		return "", false
	}
}

// IsTerminal reports whether s is the terminal stage.
func (s Stage) IsTerminal() bool { return s == Done }

// IsLastExecutable reports whether s is the final executable stage,
// whose success completes the bead.
func (s Stage) IsLastExecutable() bool { return s == RedQueen }

func (s Stage) String() string { return string(s) }
