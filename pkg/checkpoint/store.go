// Package checkpoint persists Monte-Carlo stage progress so an interrupted
// run resumes exactly where it stopped. A stage is identified by its name and
// the digest of its inputs; anything else on disk is ignored or cleared.
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Meta is the persisted progress record of a stage
type Meta struct {
	Digest     string `json:"digest"`
	Iterations int    `json:"iterations"`
	Values     int    `json:"values"`
	Complete   bool   `json:"complete"`
	Total      int    `json:"total"`
}

// StorageError reports a failed checkpoint write. It is fatal for the run.
type StorageError struct {
	Op    string
	Stage string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("checkpoint %s for stage %q: %v", e.Op, e.Stage, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store is the persistence backend of stages. Implementations assume a
// single writer per (stage, digest).
type Store interface {
	// Load returns the metadata and raw values of a stage. Missing or
	// unparseable metadata yields a nil Meta. Unparseable values are skipped.
	Load(stage, digest string) (*Meta, []json.RawMessage, error)

	// Append adds one value after the existing ones
	Append(stage, digest string, value json.RawMessage) error

	// Truncate keeps only the first n values
	Truncate(stage, digest string, n int) error

	// WriteMeta replaces the metadata atomically
	WriteMeta(stage, digest string, meta Meta) error

	// Clear removes every record of the stage
	Clear(stage, digest string) error

	Close() error
}

// FileStore keeps each stage in a JSON metadata file and a JSON-lines value
// log inside one directory.
type FileStore struct {
	dir string

	mu    sync.Mutex
	paths map[string]stagePaths
}

type stagePaths struct {
	meta   string
	values string
}

// NewFileStore creates the directory when needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "create directory", Err: err}
	}
	return &FileStore{dir: dir, paths: make(map[string]stagePaths)}, nil
}

// Dir returns the checkpoint directory
func (s *FileStore) Dir() string {
	return s.dir
}

func shortDigest(digest string) string {
	if len(digest) > 8 {
		return digest[:8]
	}
	return digest
}

func (s *FileStore) taggedPaths(stage, digest string) stagePaths {
	base := filepath.Join(s.dir, fmt.Sprintf("%s_%s", stage, shortDigest(digest)))
	return stagePaths{meta: base + "_meta.json", values: base + "_values.jsonl"}
}

func (s *FileStore) legacyPaths(stage string) stagePaths {
	base := filepath.Join(s.dir, stage)
	return stagePaths{meta: base + "_meta.json", values: base + "_values.jsonl"}
}

// resolve picks the file pair of a stage. Legacy digest-less files win only
// when no tagged metadata exists and the legacy metadata carries the digest.
func (s *FileStore) resolve(stage, digest string) stagePaths {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stage + "\x00" + digest
	if p, ok := s.paths[key]; ok {
		return p
	}
	p := s.taggedPaths(stage, digest)
	if _, err := os.Stat(p.meta); errors.Is(err, os.ErrNotExist) {
		legacy := s.legacyPaths(stage)
		if m := readMeta(legacy.meta); m != nil && m.Digest == digest {
			p = legacy
		}
	}
	s.paths[key] = p
	return p
}

func readMeta(path string) *Meta {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

func readValues(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), line...)))
	}
	return out, sc.Err()
}

// Load implements Store
func (s *FileStore) Load(stage, digest string) (*Meta, []json.RawMessage, error) {
	p := s.resolve(stage, digest)
	meta := readMeta(p.meta)
	values, err := readValues(p.values)
	if err != nil {
		return nil, nil, &StorageError{Op: "read values", Stage: stage, Err: err}
	}
	return meta, values, nil
}

// Append implements Store
func (s *FileStore) Append(stage, digest string, value json.RawMessage) error {
	p := s.resolve(stage, digest)
	f, err := os.OpenFile(p.values, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &StorageError{Op: "append value", Stage: stage, Err: err}
	}
	line := append(append([]byte(nil), value...), '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return &StorageError{Op: "append value", Stage: stage, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "append value", Stage: stage, Err: err}
	}
	return nil
}

// Truncate implements Store by rewriting the value log
func (s *FileStore) Truncate(stage, digest string, n int) error {
	p := s.resolve(stage, digest)
	values, err := readValues(p.values)
	if err != nil {
		return &StorageError{Op: "truncate values", Stage: stage, Err: err}
	}
	if n < 0 {
		n = 0
	}
	if n > len(values) {
		n = len(values)
	}
	var buf bytes.Buffer
	for _, v := range values[:n] {
		buf.Write(v)
		buf.WriteByte('\n')
	}
	if err := writeAtomic(p.values, buf.Bytes()); err != nil {
		return &StorageError{Op: "truncate values", Stage: stage, Err: err}
	}
	return nil
}

// WriteMeta implements Store with a temp file and rename
func (s *FileStore) WriteMeta(stage, digest string, meta Meta) error {
	p := s.resolve(stage, digest)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode metadata", Stage: stage, Err: err}
	}
	if err := writeAtomic(p.meta, data); err != nil {
		return &StorageError{Op: "write metadata", Stage: stage, Err: err}
	}
	return nil
}

// Clear implements Store. Both tagged and matching legacy files are removed
// and later writes go to the tagged names.
func (s *FileStore) Clear(stage, digest string) error {
	p := s.resolve(stage, digest)
	for _, path := range []string{p.meta, p.values} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &StorageError{Op: "clear", Stage: stage, Err: err}
		}
	}
	s.mu.Lock()
	s.paths[stage+"\x00"+digest] = s.taggedPaths(stage, digest)
	s.mu.Unlock()
	return nil
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
