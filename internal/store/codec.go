package store

import (
	"bytes"
	"encoding/gob"
)

// encodeValue serializes a value with encoding/gob for blob-backed
// backends (SQLite, Postgres). Callers must ensure values are
// gob-encodable; api registers the container types Params may nest.
func encodeValue[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeValue is the inverse of encodeValue. Empty input yields the
// zero value, so absent blobs decode cleanly.
func decodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
