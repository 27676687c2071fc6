// Package fastjson is the wire-layer JSON codec. It wraps
// github.com/segmentio/encoding/json behind the same two-function surface
// encoding/json offers, so MessageSocket framing and DuplexRPC payload
// encoding avoid reflection-heavy stdlib JSON on the hot send/receive path.
package fastjson

import (
	"io"

	"github.com/segmentio/encoding/json"
)

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewDecoder returns a streaming decoder, for callers that need options
// such as DisallowUnknownFields.
func NewDecoder(r io.Reader) *json.Decoder {
	return json.NewDecoder(r)
}

// RawMessage mirrors encoding/json.RawMessage for callers that need to defer
// decoding of a sub-value.
type RawMessage = json.RawMessage
