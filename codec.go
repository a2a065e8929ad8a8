package tiercache

import "encoding/json"

// Codec converts cached values to and from bytes for the disk tier. Byte
// slice values never pass through a codec; they are stored as-is.
type Codec[V any] interface {
	Encode(value V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec returns the default codec: self-describing JSON.
func JSONCodec[V any]() Codec[V] {
	return jsonCodec[V]{}
}

type jsonCodec[V any] struct{}

func (jsonCodec[V]) Encode(value V) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonCodec[V]) Decode(data []byte) (V, error) {
	var value V
	err := json.Unmarshal(data, &value)
	return value, err
}
