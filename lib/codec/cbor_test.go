// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/loomchat/loom/lib/ref"
)

type signalFixture struct {
	Space     ref.SpaceID       `cbor:"space"`
	Identity  ref.ParticipantID `cbor:"identity"`
	SDP       string            `cbor:"sdp"`
	Sequence  int               `cbor:"sequence"`
	Unrelated string            `cbor:"unrelated,omitempty"`
}

func mustSpace(t *testing.T, raw string) ref.SpaceID {
	t.Helper()
	id, err := ref.ParseSpaceID(raw)
	if err != nil {
		t.Fatalf("ParseSpaceID(%q) failed: %v", raw, err)
	}
	return id
}

func TestRefTypesEncodeAsTextStrings(t *testing.T) {
	space := mustSpace(t, "@space-garden")

	data, err := Marshal(signalFixture{Space: space, SDP: "v=0", Sequence: 7})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded signalFixture
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Space != space {
		t.Errorf("space did not round-trip: %v", decoded.Space)
	}
	if decoded.SDP != "v=0" || decoded.Sequence != 7 {
		t.Errorf("fields did not round-trip: %+v", decoded)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{
		"sdp":          "v=0",
		"sequence":     1,
		"future_field": "ignored",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded signalFixture
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field failed: %v", err)
	}
	if decoded.SDP != "v=0" {
		t.Errorf("known field lost: %+v", decoded)
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	for i := 0; i < 3; i++ {
		if err := encoder.Encode(signalFixture{SDP: "v=0", Sequence: i}); err != nil {
			t.Fatalf("Encode %d failed: %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var decoded signalFixture
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		if decoded.Sequence != i {
			t.Errorf("frame %d: sequence = %d", i, decoded.Sequence)
		}
	}
}
