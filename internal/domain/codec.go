package domain

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodePayload turns a producer value into the stored JSON form. A
// json.RawMessage is stored as is after validation. Every other value,
// []byte included, is marshalled, so bytes end up as a base64 string.
func EncodePayload(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		// jsoniter's Valid rejects top-level numbers.
		if !json.Valid(raw) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return raw, nil
	}
	b, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// Decode unmarshals the delivery payload into v.
func (d Delivery) Decode(v any) error {
	return codec.Unmarshal(d.Payload, v)
}
