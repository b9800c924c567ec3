package protocol_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"swarm/pkg/protocol"
)

func TestSuccessEnvelopeShape(t *testing.T) {
	env := protocol.Success("req-1", map[string]any{"bead_id": "b1"}).
		WithMS(42).
		WithNext("agent").
		WithState(protocol.StateSummary{Total: 12, Active: 3})

	var buf bytes.Buffer
	if err := env.EncodeLine(&buf); err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Fatal("envelope must be newline-terminated")
	}
	if strings.Count(line, "\n") != 1 {
		t.Fatal("envelope must be a single line")
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if decoded["ok"] != true {
		t.Error("ok = false on success envelope")
	}
	if decoded["rid"] != "req-1" {
		t.Errorf("rid = %v", decoded["rid"])
	}
	if decoded["t"].(float64) <= 0 {
		t.Error("t must be a positive timestamp")
	}
	if decoded["ms"].(float64) != 42 {
		t.Errorf("ms = %v, want 42", decoded["ms"])
	}
	state := decoded["state"].(map[string]any)
	if state["total"].(float64) != 12 || state["active"].(float64) != 3 {
		t.Errorf("state = %v", state)
	}
	if _, hasErr := decoded["err"]; hasErr {
		t.Error("success envelope must not carry err")
	}
}

func TestFailureEnvelopeCarriesCodeMsgFix(t *testing.T) {
	env := protocol.Failure("", protocol.CodeNotFound, "bead b9 not found").
		WithCtx(map[string]any{"bead_id": "b9"}).
		WithMS(-5)

	var buf bytes.Buffer
	if err := env.EncodeLine(&buf); err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["ok"] != false {
		t.Error("ok = true on failure envelope")
	}
	errObj := decoded["err"].(map[string]any)
	if errObj["code"] != protocol.CodeNotFound {
		t.Errorf("code = %v", errObj["code"])
	}
	if errObj["msg"] == "" {
		t.Error("failure envelope missing msg")
	}
	if decoded["fix"] == "" {
		t.Error("failure envelope missing fix")
	}
	if decoded["ms"].(float64) != 0 {
		t.Errorf("negative ms must clamp to 0, got %v", decoded["ms"])
	}
	if _, hasRID := decoded["rid"]; hasRID {
		t.Error("empty rid must be omitted")
	}
	ctx := errObj["ctx"].(map[string]any)
	if ctx["bead_id"] != "b9" {
		t.Errorf("ctx = %v", ctx)
	}
}

func TestFailureFromTaxonomyError(t *testing.T) {
	err := protocol.New(protocol.KindBusy, "lock held by worker 2")
	env := protocol.FailureFrom("r-2", err)
	if env.Err.Code != protocol.CodeBusy {
		t.Errorf("code = %q, want BUSY", env.Err.Code)
	}
	if env.Fix == "" {
		t.Error("fix missing")
	}
}

func TestExitCodeStaysOffTheWire(t *testing.T) {
	// CONFLICT is carried by two kinds with different exit codes; the
	// kind decides the process exit, and the field never serializes.
	worker := protocol.FailureFrom("", protocol.New(protocol.KindWorker, "claim lost"))
	if worker.Exit != protocol.KindWorker.ExitCode() {
		t.Errorf("worker exit = %d, want %d", worker.Exit, protocol.KindWorker.ExitCode())
	}
	st := protocol.FailureFrom("", protocol.New(protocol.KindStage, "bead not pending"))
	if st.Exit != protocol.KindStage.ExitCode() {
		t.Errorf("stage exit = %d, want %d", st.Exit, protocol.KindStage.ExitCode())
	}
	if worker.Err.Code != st.Err.Code {
		t.Fatalf("both kinds should share the code string")
	}

	raw, err := json.Marshal(worker)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["Exit"]; ok {
		t.Error("exit code leaked onto the wire")
	}
	if protocol.Success("", nil).Exit != 0 {
		t.Error("success exit must be zero")
	}
}
