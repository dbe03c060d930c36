package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "adbot/pkg/logx"
)

// openFile returns a memory store that loads its state from a JSON snapshot
// and rewrites the snapshot (tmp file + rename) after every mutation.
func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := newMemory(cfg, log)
	st, err := loadSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", path, err)
	}
	s.st = st
	s.persist = func(st *memState) error { return writeSnapshot(path, st) }
	log.Info("file storage opened",
		logx.String("path", path),
		logx.Int("groups", len(st.Groups)),
		logx.Int("ads", len(st.Ads)),
	)
	return s, nil
}

func loadSnapshot(path string) (*memState, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return newMemState(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st := &memState{}
	if err := json.NewDecoder(f).Decode(st); err != nil {
		return nil, err
	}
	st.fill()
	return st, nil
}

func writeSnapshot(path string, st *memState) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
