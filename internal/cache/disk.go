package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// payloadPath maps a key to <dir>/<key>.json, one subdirectory per key segment.
// Keys must already be clean so that no two keys share a payload file.
func (s *Store) payloadPath(key string) (string, error) {
	if !cleanKey(key) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	file := filepath.Join(s.dir, filepath.FromSlash(key)+".json")
	rel, err := filepath.Rel(s.dir, file)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == tableFile {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	return file, nil
}

// cleanKey reports whether key is a relative slash path with no empty, dot or
// dot-dot segments and no backslashes.
func cleanKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsRune(key, '\\') {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}

func (s *Store) readPayload(key string) ([]byte, error) {
	file, err := s.payloadPath(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("cache: payload %s is not valid json", key)
	}
	return raw, nil
}

func (s *Store) writePayload(key string, payload []byte) error {
	file, err := s.payloadPath(key)
	if err != nil {
		return err
	}
	return writeFileAtomic(file, payload)
}

func (s *Store) removePayload(key string) error {
	file, err := s.payloadPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
