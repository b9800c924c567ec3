package skill

import (
	"strings"

	"swarm/pkg/store"
)

// Diagnostics categories.
const (
	CategoryTimeout        = "timeout"
	CategoryCompileError   = "compile_error"
	CategoryTestFailure    = "test_failure"
	CategoryStageFailure   = "stage_failure"
	CategoryLandingFailure = "landing_failure"
)

var compileMarkers = []string{
	"error[E",
	"cannot find",
	"undefined reference",
	"compilation failed",
	"could not compile",
	"syntax error",
}

var testMarkers = []string{
	"test result: FAILED",
	"--- FAIL",
	"FAILED (",
	"assertion failed",
	"tests failed",
}

// Diagnose classifies a failed skill run from its transcript. A
// timeout is always a timeout regardless of output; compile errors
// are checked before test failures because failed builds often print
// both kinds of markers.
func Diagnose(out Outcome, beadID string) *store.Diagnostics {
	if out.Result.Outcome.IsSuccess() {
		return nil
	}
	d := &store.Diagnostics{
		Category:  CategoryStageFailure,
		Retryable: true,
		Detail:    out.Result.Feedback,
	}
	switch {
	case out.TimedOut:
		d.Category = CategoryTimeout
		d.NextCommand = "swarm resume " + beadID
	case containsAny(out.Result.Transcript, compileMarkers):
		d.Category = CategoryCompileError
		d.NextCommand = "swarm artifacts " + beadID + " --type failure_details"
	case containsAny(out.Result.Transcript, testMarkers):
		d.Category = CategoryTestFailure
		d.NextCommand = "swarm artifacts " + beadID + " --type test_output"
	default:
		d.NextCommand = "swarm history " + beadID
	}
	return d
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
