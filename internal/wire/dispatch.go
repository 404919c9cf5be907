package wire

import (
	"encoding/json"
	"fmt"
)

// ParseEnvelope unmarshals the outer {type, payload} envelope only. Callers
// must branch on Type before attempting to unmarshal Payload into a specific
// struct.
//
// Several payload shapes here are all-optional (StreamMetadata,
// SessionUpdate, ServerCommand, ...), so json.Unmarshal into the wrong
// target can succeed silently — a stream/start payload decodes cleanly as a
// session/update, since every session/update field is optional. Never try a
// chain of candidate shapes and keep the first one that doesn't error;
// always look up the type string in a table first and unmarshal into the one
// struct that type owns.
func ParseEnvelope(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("wire: parse envelope: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("wire: envelope missing type")
	}
	return msg, nil
}

// DecodePayload unmarshals msg.Payload into v. Callers select v's type from
// msg.Type via a table lookup (see Session's dispatch switch), not by
// probing candidate types.
func DecodePayload(msg Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("wire: decode payload for %q: %w", msg.Type, err)
	}
	return nil
}

// Known text message type discriminators (spec.md §6).
const (
	MsgAuth           = "auth"
	MsgAuthOK         = "auth/ok"
	MsgClientHello    = "client/hello"
	MsgServerHello    = "server/hello"
	MsgClientTime     = "client/time"
	MsgServerTime     = "server/time"
	MsgStreamStart    = "stream/start"
	MsgStreamEnd      = "stream/end"
	MsgStreamMetadata = "stream/metadata"
	MsgSessionUpdate  = "session/update"
	MsgServerCommand  = "server/command"
	MsgClientState    = "client/state"
)
