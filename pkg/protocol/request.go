package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxBeadIDLen is the maximum accepted bead id length in UTF-8 code
// units.
const MaxBeadIDLen = 255

// MaxHistoryLimit caps every paginated query. Requests above the cap
// are rejected, not clamped.
const MaxHistoryLimit = 10000

var ridPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,256}$`)

// Request is one inbound protocol line. Known top-level keys are cmd,
// rid, and dry; everything else is a command argument.
type Request struct {
	Cmd  string
	RID  string
	Dry  bool
	Args map[string]any
}

// ParseError is a typed request parsing failure.
type ParseError struct {
	Field    string
	Expected string
	Value    string
	Reason   string // missing_field | invalid_type | invalid_value | custom
}

// ParseError reason constants.
const (
	ReasonMissingField = "missing_field"
	ReasonInvalidType  = "invalid_type"
	ReasonInvalidValue = "invalid_value"
	ReasonCustom       = "custom"
)

func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("missing required field %q", e.Field)
	case ReasonInvalidType:
		return fmt.Sprintf("field %q must be %s, got %s", e.Field, e.Expected, e.Value)
	case ReasonInvalidValue:
		return fmt.Sprintf("field %q: %s", e.Field, e.Value)
	default:
		return e.Value
	}
}

// MissingField builds a missing-field parse error.
func MissingField(field string) *ParseError {
	return &ParseError{Field: field, Reason: ReasonMissingField}
}

// InvalidType builds an invalid-type parse error.
func InvalidType(field, expected, got string) *ParseError {
	return &ParseError{Field: field, Expected: expected, Value: got, Reason: ReasonInvalidType}
}

// InvalidValue builds an invalid-value parse error.
func InvalidValue(field, detail string) *ParseError {
	return &ParseError{Field: field, Value: detail, Reason: ReasonInvalidValue}
}

// ParseRequest parses one wire line into a Request. It enforces the
// request shape only; per-command argument parsing happens later.
func ParseRequest(line []byte) (*Request, *ParseError) {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(line)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Reason: ReasonCustom, Value: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return nil, &ParseError{Reason: ReasonCustom, Value: "request line must contain exactly one JSON object"}
	}

	req := &Request{Args: make(map[string]any)}

	cmdRaw, ok := raw["cmd"]
	if !ok {
		return nil, MissingField("cmd")
	}
	cmd, ok := cmdRaw.(string)
	if !ok {
		return nil, InvalidType("cmd", "string", jsonTypeName(cmdRaw))
	}
	if cmd == "" {
		return nil, InvalidValue("cmd", "must be non-empty")
	}
	req.Cmd = cmd

	if ridRaw, ok := raw["rid"]; ok {
		rid, ok := ridRaw.(string)
		if !ok {
			return nil, InvalidType("rid", "string", jsonTypeName(ridRaw))
		}
		if !ridPattern.MatchString(rid) {
			return nil, InvalidValue("rid", "must match ^[A-Za-z0-9-]{1,256}$")
		}
		req.RID = rid
	}

	if dryRaw, ok := raw["dry"]; ok {
		dry, ok := dryRaw.(bool)
		if !ok {
			return nil, InvalidType("dry", "bool", jsonTypeName(dryRaw))
		}
		req.Dry = dry
	}

	for key, value := range raw {
		if key == "cmd" || key == "rid" || key == "dry" {
			continue
		}
		req.Args[key] = value
	}

	if field := firstNullByteField(req); field != "" {
		return nil, InvalidValue(field, "null byte is not allowed")
	}

	return req, nil
}

func firstNullByteField(req *Request) string {
	if strings.ContainsRune(req.Cmd, 0) {
		return "cmd"
	}
	return nullByteFieldInValue(req.Args, "")
}

func nullByteFieldInValue(value any, field string) string {
	switch v := value.(type) {
	case string:
		if strings.ContainsRune(v, 0) {
			return field
		}
	case map[string]any:
		for key, nested := range v {
			name := key
			if field != "" {
				name = field + "." + key
			}
			if found := nullByteFieldInValue(nested, name); found != "" {
				return found
			}
		}
	case []any:
		for i, nested := range v {
			if found := nullByteFieldInValue(nested, fmt.Sprintf("%s[%d]", field, i)); found != "" {
				return found
			}
		}
	}
	return ""
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// StringArg returns a required string argument.
func (r *Request) StringArg(key string) (string, *ParseError) {
	raw, ok := r.Args[key]
	if !ok {
		return "", MissingField(key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", InvalidType(key, "string", jsonTypeName(raw))
	}
	return s, nil
}

// OptionalStringArg returns an optional string argument; empty string
// when absent.
func (r *Request) OptionalStringArg(key string) (string, *ParseError) {
	if _, ok := r.Args[key]; !ok {
		return "", nil
	}
	return r.StringArg(key)
}

// IntArg returns a required integer argument.
func (r *Request) IntArg(key string) (int64, *ParseError) {
	raw, ok := r.Args[key]
	if !ok {
		return 0, MissingField(key)
	}
	return intFromValue(key, raw)
}

// OptionalIntArg returns an optional integer argument.
func (r *Request) OptionalIntArg(key string) (int64, bool, *ParseError) {
	raw, ok := r.Args[key]
	if !ok {
		return 0, false, nil
	}
	n, perr := intFromValue(key, raw)
	return n, perr == nil, perr
}

func intFromValue(key string, raw any) (int64, *ParseError) {
	num, ok := raw.(json.Number)
	if !ok {
		if f, isFloat := raw.(float64); isFloat {
			if f != math.Trunc(f) {
				return 0, InvalidValue(key, "must be an integer")
			}
			return int64(f), nil
		}
		return 0, InvalidType(key, "integer", jsonTypeName(raw))
	}
	n, err := num.Int64()
	if err != nil {
		return 0, InvalidValue(key, "must be an integer")
	}
	return n, nil
}

// WorkerArg returns a required positive worker id from any of the
// given keys (commands accept both "agent_id" and "id").
func (r *Request) WorkerArg(keys ...string) (int, *ParseError) {
	for _, key := range keys {
		raw, ok := r.Args[key]
		if !ok {
			continue
		}
		n, perr := intFromValue(key, raw)
		if perr != nil {
			return 0, perr
		}
		if n < 1 {
			return 0, InvalidValue(key, "must be a positive integer (>= 1)")
		}
		if n > math.MaxInt32 {
			return 0, InvalidValue(key, "exceeds max worker id")
		}
		return int(n), nil
	}
	return 0, MissingField(keys[0])
}

// BeadIDArg returns a required bead id bounded to MaxBeadIDLen UTF-8
// code units.
func (r *Request) BeadIDArg(key string) (string, *ParseError) {
	id, perr := r.StringArg(key)
	if perr != nil {
		return "", perr
	}
	if id == "" {
		return "", InvalidValue(key, "must be non-empty")
	}
	if utf8.RuneCountInString(id) > MaxBeadIDLen {
		return "", InvalidValue(key, fmt.Sprintf("must be at most %d characters", MaxBeadIDLen))
	}
	return id, nil
}

// LimitArg returns an optional pagination limit. Values above
// MaxHistoryLimit are rejected with an invalid-value error; negative
// values are rejected; absent yields def.
func (r *Request) LimitArg(key string, def int64) (int64, *ParseError) {
	n, ok, perr := r.OptionalIntArg(key)
	if perr != nil {
		return 0, perr
	}
	if !ok {
		return def, nil
	}
	if n < 0 {
		return 0, InvalidValue(key, "must be non-negative")
	}
	if n > MaxHistoryLimit {
		return 0, InvalidValue(key, fmt.Sprintf("must be at most %d", MaxHistoryLimit))
	}
	return n, nil
}
