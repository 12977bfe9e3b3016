package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const tableFile = "info.json"

// Entry is one row of the cache table. The table decides whether a key exists and
// when it expires; the payload file next to it holds the content.
type Entry struct {
	Namespace   string         `json:"namespace"`
	Identifier  string         `json:"identifier"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	ExtraParams map[string]any `json:"extraParams,omitempty"`
	DynamicIDs  []string       `json:"dynamicIds,omitempty"`
	Failed      bool           `json:"failed,omitempty"`

	paramsKey string
}

// loadTable reads info.json. A missing table starts empty; an unreadable one wipes
// the directory so no orphaned payloads survive.
func (s *Store) loadTable() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cache: create directory: %w", err)
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, tableFile))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("cache table not found, starting empty", slog.String("directory", s.dir))
		s.table = make(map[string]*Entry)
		return s.writeTable()
	}
	if err == nil {
		table := make(map[string]*Entry)
		if err = json.Unmarshal(raw, &table); err == nil {
			for key, row := range table {
				if row == nil || !cleanKey(key) {
					delete(table, key)
					continue
				}
				row.paramsKey = serializeParams(row.ExtraParams)
			}
			s.table = table
			return nil
		}
	}

	s.logger.Warn("cache table unreadable, reinitializing",
		slog.String("directory", s.dir),
		slog.Any("error", errors.Join(ErrTableUnreadable, err)),
	)
	if err := emptyDir(s.dir); err != nil {
		return fmt.Errorf("cache: reinitialize: %w", err)
	}
	s.table = make(map[string]*Entry)
	return s.writeTable()
}

// writeTable persists a snapshot of the table through a temp file and rename so
// readers never observe a half-written info.json.
func (s *Store) writeTable() error {
	s.mu.Lock()
	raw, err := json.Marshal(s.table)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cache: encode table: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, tableFile), raw)
}

// requestFlush schedules an asynchronous table write. Requests made while a write
// is pending collapse into it.
func (s *Store) requestFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

func (s *Store) flushLoop() {
	defer close(s.flushDone)
	for {
		select {
		case <-s.flushCh:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *Store) flush() {
	if err := s.writeTable(); err != nil {
		s.logger.Error("cache table flush failed", slog.Any("error", err))
	}
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.MkdirAll(dir, 0o755)
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
