package ingest

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ZMQ messages are CBOR maps shaped like
//
//	{ "type": "observation", "seq": <int>, "observation": <text or bytes> }
//
// Text observations are base64 (optionally a data URL); byte strings carry
// the encoded image directly.
func decodeMessage(msg []byte) (Payload, error) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return Payload{}, fmt.Errorf("cbor: %w", err)
	}

	msgType, _ := payload["type"].(string)
	if msgType != "observation" && msgType != "image" {
		return Payload{}, fmt.Errorf("ignoring message type %q", msgType)
	}
	if raw, ok := payload["seq"]; ok {
		if _, err := toInt(raw); err != nil {
			return Payload{}, fmt.Errorf("invalid seq: %w", err)
		}
	}

	var out Payload
	switch obs := payload["observation"].(type) {
	case string:
		out.Encoded = obs
	case []byte:
		out.Raw = obs
	case nil:
		return Payload{}, errors.New("missing observation")
	default:
		return Payload{}, fmt.Errorf("unsupported observation type %T", obs)
	}
	if out.Empty() {
		return Payload{}, errors.New("empty observation")
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}
