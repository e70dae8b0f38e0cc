package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Encode serializes the index for durable storage.
func (idx *VectorIndex) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(idx); err != nil {
		return nil, fmt.Errorf("encode vector index: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode restores an index serialized by Encode.
func Decode(blob []byte) (*VectorIndex, error) {
	var idx VectorIndex
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decode vector index: %w", err)
	}
	return &idx, nil
}
