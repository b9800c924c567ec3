package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ErrObj is the error payload of a failure envelope.
type ErrObj struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Ctx  any    `json:"ctx,omitempty"`
}

// StateSummary is the minimal state snapshot every success envelope
// carries: total registered workers and workers with an active claim.
type StateSummary struct {
	Total  int            `json:"total"`
	Active int            `json:"active"`
	Extra  map[string]any `json:"-"`
}

// MarshalJSON inlines Extra next to total/active.
func (s StateSummary) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["total"] = s.Total
	out["active"] = s.Active
	return json.Marshal(out)
}

// Envelope is the canonical single-line response. Field names are
// stable across releases; field order is not significant.
type Envelope struct {
	OK    bool    `json:"ok"`
	RID   string  `json:"rid,omitempty"`
	T     int64   `json:"t"`
	MS    int64   `json:"ms"`
	D     any     `json:"d,omitempty"`
	Err   *ErrObj `json:"err,omitempty"`
	Fix   string  `json:"fix,omitempty"`
	Next  string  `json:"next,omitempty"`
	State any     `json:"state,omitempty"`

	// Exit is the process exit code for one-shot sessions. Never on
	// the wire; zero on success.
	Exit int `json:"-"`
}

// Success builds an ok envelope with the command payload.
func Success(rid string, data any) *Envelope {
	return &Envelope{OK: true, RID: rid, T: time.Now().UnixMilli(), D: data}
}

// Failure builds an error envelope with a stable code and a fix hint.
// The exit code is derived from the first kind carrying the code;
// use FailureFrom when the originating error is at hand.
func Failure(rid, code, msg string) *Envelope {
	exit := KindInternal.ExitCode()
	for _, kind := range Kinds {
		if kind.Code() == code {
			exit = kind.ExitCode()
			break
		}
	}
	return &Envelope{
		OK:   false,
		RID:  rid,
		T:    time.Now().UnixMilli(),
		Err:  &ErrObj{Code: code, Msg: msg},
		Fix:  FixFor(code),
		Exit: exit,
	}
}

// FailureFrom builds an error envelope from a taxonomy error.
func FailureFrom(rid string, err error) *Envelope {
	perr := AsError(err)
	env := Failure(rid, perr.Code(), perr.Msg)
	env.Exit = perr.ExitCode()
	return env
}

// WithMS sets elapsed milliseconds.
func (e *Envelope) WithMS(ms int64) *Envelope {
	if ms < 0 {
		ms = 0
	}
	e.MS = ms
	return e
}

// WithNext sets the recommended next command hint.
func (e *Envelope) WithNext(next string) *Envelope {
	e.Next = next
	return e
}

// WithState attaches the state snapshot.
func (e *Envelope) WithState(state any) *Envelope {
	e.State = state
	return e
}

// WithFix overrides the remediation hint.
func (e *Envelope) WithFix(fix string) *Envelope {
	e.Fix = fix
	return e
}

// WithCtx attaches structured context to the error payload. No-op on
// success envelopes.
func (e *Envelope) WithCtx(ctx any) *Envelope {
	if e.Err != nil {
		e.Err.Ctx = ctx
	}
	return e
}

// EncodeLine writes the envelope as exactly one newline-terminated
// JSON line. Envelopes are never multi-line.
func (e *Envelope) EncodeLine(w io.Writer) error {
	body, err := json.Marshal(e)
	if err != nil {
		// Marshalling the envelope itself failed; emit a minimal
		// failure line rather than nothing.
		body = []byte(fmt.Sprintf(
			`{"ok":false,"t":%d,"ms":0,"err":{"code":%q,"msg":"envelope serialization failed"},"fix":%q}`,
			time.Now().UnixMilli(), CodeInternal, FixFor(CodeInternal)))
	}
	if _, err := w.Write(append(body, '\n')); err != nil {
		return Wrap(KindDependency, err, "write envelope")
	}
	return nil
}
