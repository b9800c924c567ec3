package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"swarm/pkg/protocol"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url  string
		ok   bool
		want string
	}{
		{"postgres://user:pw@localhost:5432/swarm", true, ""},
		{"postgresql://localhost/swarm", true, ""},
		{"", false, "empty"},
		{"   ", false, "empty"},
		{"mysql://localhost/swarm", false, "not postgres"},
		{"postgres://", false, "no host"},
	}
	for _, tc := range cases {
		err := validateURL(tc.url)
		if tc.ok {
			if err != nil {
				t.Errorf("validateURL(%q) = %v, want nil", tc.url, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("validateURL(%q) must fail", tc.url)
			continue
		}
		var perr *protocol.Error
		if !errors.As(err, &perr) || perr.Kind != protocol.KindConfig {
			t.Errorf("validateURL(%q) kind = %v, want config", tc.url, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("validateURL(%q) = %q, want substring %q", tc.url, err, tc.want)
		}
	}
}

func TestClassifyConnectError(t *testing.T) {
	timeout := classifyConnectError(context.DeadlineExceeded, 250*time.Millisecond)
	var perr *protocol.Error
	if !errors.As(timeout, &perr) || perr.Kind != protocol.KindTimeout {
		t.Fatalf("deadline must classify as timeout, got %v", timeout)
	}
	if !strings.Contains(timeout.Error(), "250ms") {
		t.Errorf("elapsed ms missing: %q", timeout)
	}

	refused := classifyConnectError(fmt.Errorf("dial tcp: connection refused"), 5*time.Millisecond)
	if !errors.As(refused, &perr) || perr.Kind != protocol.KindStore {
		t.Fatalf("refused must classify as store, got %v", refused)
	}
	if !strings.Contains(refused.Error(), "refused") {
		t.Errorf("refused detail missing: %q", refused)
	}
}

func TestMaskURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://alice:hunter2@db:5432/swarm", "postgres://alice:********@db:5432/swarm"},
		{"postgres://db:5432/swarm", "postgres://db:5432/swarm"},
		{"postgres://alice@db/swarm", "postgres://alice@db/swarm"},
	}
	for _, tc := range cases {
		if got := MaskURL(tc.in); got != tc.want {
			t.Errorf("MaskURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := MaskURL("postgres://a:b@%"); got != "<unparseable>" {
		t.Errorf("unparseable URL = %q", got)
	}
}

func TestStoreErrKeepsTimeout(t *testing.T) {
	err := storeErr(fmt.Errorf("query: %w", context.DeadlineExceeded), "load bead")
	var perr *protocol.Error
	if !errors.As(err, &perr) || perr.Kind != protocol.KindTimeout {
		t.Fatalf("wrapped deadline must stay timeout, got %v", err)
	}
}

func TestHashContent(t *testing.T) {
	// sha256("") is the well-known empty digest.
	if got := HashContent(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("empty hash = %q", got)
	}
	if HashContent("a") == HashContent("b") {
		t.Error("distinct content must hash differently")
	}
	if len(HashContent("payload")) != 64 {
		t.Error("hash must be 64 hex chars")
	}
}

func TestValidArtifactType(t *testing.T) {
	for _, known := range ArtifactTypes {
		if !validArtifactType(known) {
			t.Errorf("%s must be valid", known)
		}
	}
	for _, bad := range []string{"", "logs", "Stage_Log", "retry-packet"} {
		if validArtifactType(bad) {
			t.Errorf("%q must be invalid", bad)
		}
	}
}
