package cache

import (
	"encoding/json"
	"errors"
)

var (
	// ErrCacheCorrupt marks a table row whose payload file is missing or unreadable.
	// The store logs it and refetches; callers never see it.
	ErrCacheCorrupt = errors.New("cache: table references a missing payload")
	// ErrTableUnreadable marks an info.json that could not be decoded. The store
	// empties its directory and starts over with an empty table.
	ErrTableUnreadable = errors.New("cache: table unreadable")
	// ErrUnsafeKey rejects keys that would escape the cache directory or alias
	// another key's payload file.
	ErrUnsafeKey = errors.New("cache: unsafe cache key")
)

// Failure is a fetch error that can be written to the cache when failures are
// persisted. Errors that do not implement it are never stored.
type Failure interface {
	error
	json.Marshaler
}

// FailureDecoder rebuilds a persisted Failure from its stored payload.
type FailureDecoder func(payload []byte) error

type storedFailure struct {
	text string
}

func (f storedFailure) Error() string { return f.text }

func decodeFailureText(payload []byte) error {
	return storedFailure{text: string(payload)}
}
