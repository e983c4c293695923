// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package jointoken

import (
	"bytes"
	"testing"
	"time"

	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
)

var testSecret = bytes.Repeat([]byte("s"), 32)

func testIssuer(t *testing.T, clk clock.Clock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(IssuerConfig{Secret: testSecret, Clock: clk})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return issuer
}

func ids(t *testing.T) (ref.SpaceID, ref.ParticipantID) {
	t.Helper()
	scope, err := ref.ParseSpaceID("@space-garden")
	if err != nil {
		t.Fatalf("ParseSpaceID failed: %v", err)
	}
	identity, err := ref.ParseParticipantID("@being-fern")
	if err != nil {
		t.Fatalf("ParseParticipantID failed: %v", err)
	}
	return scope, identity
}

func TestIssueAndVerify(t *testing.T) {
	issuer := testIssuer(t, clock.Real())
	scope, identity := ids(t)

	token, err := issuer.Issue(scope, identity)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	verified, err := issuer.Verify(token, scope)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified != identity {
		t.Errorf("verified identity = %v, want %v", verified, identity)
	}
}

func TestVerifyRejectsWrongScope(t *testing.T) {
	issuer := testIssuer(t, clock.Real())
	scope, identity := ids(t)
	other, err := ref.ParseSpaceID("@space-cellar")
	if err != nil {
		t.Fatalf("ParseSpaceID failed: %v", err)
	}

	token, err := issuer.Issue(scope, identity)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := issuer.Verify(token, other); err == nil {
		t.Error("token for one space verified against another")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	issuer := testIssuer(t, clk)
	scope, identity := ids(t)

	token, err := issuer.Issue(scope, identity)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clk.Advance(DefaultTTL + time.Minute)
	if _, err := issuer.Verify(token, scope); err == nil {
		t.Error("expired token verified")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	issuer := testIssuer(t, clock.Real())
	scope, identity := ids(t)

	otherIssuer, err := NewIssuer(IssuerConfig{Secret: bytes.Repeat([]byte("x"), 32)})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	token, err := otherIssuer.Issue(scope, identity)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := issuer.Verify(token, scope); err == nil {
		t.Error("token signed with a different secret verified")
	}
}

func TestNewIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewIssuer(IssuerConfig{Secret: []byte("short")}); err == nil {
		t.Error("short secret accepted")
	}
}
