package cache

import (
	"encoding/json"
	"fmt"
)

// Codec is the serialization contract for one cached value type. Encoded
// values are embedded verbatim in the record envelope, so they must be JSON.
type Codec[T any] interface {
	// Name tags records so a value is never decoded with a different codec.
	Name() string
	Encode(v T) (json.RawMessage, error)
	Decode(data json.RawMessage) (T, error)
}

// JSONCodec encodes any JSON-marshalable value.
type JSONCodec[T any] struct{}

// Name implements Codec.
func (JSONCodec[T]) Name() string { return "json" }

// Encode implements Codec.
func (JSONCodec[T]) Encode(v T) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encode json: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cache: decode json: %w", err)
	}
	return v, nil
}

// StringCodec stores text values, such as transcripts, as a JSON string.
type StringCodec struct{}

// Name implements Codec.
func (StringCodec) Name() string { return "text" }

// Encode implements Codec.
func (StringCodec) Encode(v string) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encode text: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (StringCodec) Decode(data json.RawMessage) (string, error) {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("cache: decode text: %w", err)
	}
	return v, nil
}

var (
	_ Codec[string] = StringCodec{}
	_ Codec[int]    = JSONCodec[int]{}
)
