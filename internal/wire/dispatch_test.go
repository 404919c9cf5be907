package wire

import "testing"

func TestParseEnvelopeRequiresType(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"payload":{}}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

// TestDecoderOrderingHazard verifies that a stream/start payload is never
// mistaken for a session/update: every session/update field is optional, so
// naively unmarshaling a stream/start payload into SessionUpdate succeeds
// without error. Callers must always select the target struct from msg.Type,
// never by trying shapes until one parses.
func TestDecoderOrderingHazard(t *testing.T) {
	raw := []byte(`{"type":"stream/start","payload":{"player":{"codec":"pcm","sample_rate":48000,"channels":2,"bit_depth":16}}}`)

	msg, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if msg.Type != MsgStreamStart {
		t.Fatalf("expected type %q, got %q", MsgStreamStart, msg.Type)
	}

	// Demonstrate the hazard: decoding the same payload as a SessionUpdate
	// "succeeds" because SessionUpdate has no required fields.
	var asUpdate SessionUpdate
	if err := DecodePayload(msg, &asUpdate); err != nil {
		t.Fatalf("hazard payload should decode without error, got: %v", err)
	}

	// The correctly-typed decode must produce the actual player format.
	var start StreamStart
	if err := DecodePayload(msg, &start); err != nil {
		t.Fatalf("decode stream/start: %v", err)
	}
	if start.Player == nil || start.Player.Codec != "pcm" || start.Player.SampleRate != 48000 {
		t.Fatalf("stream/start payload not decoded correctly: %+v", start)
	}
}

func TestDecodePayloadTypeMismatchFailsLoudly(t *testing.T) {
	raw := []byte(`{"type":"client/time","payload":{"client_transmitted":"not-a-number"}}`)
	msg, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	var ct ClientTime
	if err := DecodePayload(msg, &ct); err == nil {
		t.Fatal("expected type error decoding client_transmitted")
	}
}
