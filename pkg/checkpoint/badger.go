package checkpoint

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerStore
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	InMemory bool

	// SyncWrites fsyncs every commit
	SyncWrites bool
}

// BadgerStore keeps stages in an embedded key-value database instead of
// loose files. Keys are meta/<stage>/<digest> and
// val/<stage>/<digest>/<zero-padded index>.
type BadgerStore struct {
	db *badger.DB

	// counts caches the value count per stage key so Append does not
	// rescan the prefix. Entries are filled on first use.
	mu     sync.Mutex
	counts map[string]int
}

// OpenBadgerStore opens or creates the database
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, &StorageError{Op: "open badger", Err: fmt.Errorf("path is required")}
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &StorageError{Op: "open badger", Err: fmt.Errorf("open badger database: %w", err)}
	}
	return &BadgerStore{db: db, counts: make(map[string]int)}, nil
}

func metaKey(stage, digest string) []byte {
	return []byte("meta/" + stage + "/" + digest)
}

func valuePrefix(stage, digest string) []byte {
	return []byte("val/" + stage + "/" + digest + "/")
}

func countKey(stage, digest string) string {
	return stage + "\x00" + digest
}

func (s *BadgerStore) cachedCount(stage, digest string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[countKey(stage, digest)]
	return n, ok
}

func (s *BadgerStore) setCount(stage, digest string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[countKey(stage, digest)] = n
}

func valueKey(stage, digest string, idx int) []byte {
	return append(valuePrefix(stage, digest), []byte(fmt.Sprintf("%012d", idx))...)
}

// Load implements Store
func (s *BadgerStore) Load(stage, digest string) (*Meta, []json.RawMessage, error) {
	var (
		meta   *Meta
		values []json.RawMessage
		keys   int
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(stage, digest))
		switch {
		case err == badger.ErrKeyNotFound:
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				var m Meta
				if json.Unmarshal(val, &m) == nil {
					meta = &m
				}
				return nil
			}); err != nil {
				return err
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := valuePrefix(stage, digest)
		keys = 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys++
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if !json.Valid(val) {
				continue
			}
			values = append(values, json.RawMessage(val))
		}
		return nil
	})
	if err != nil {
		return nil, nil, &StorageError{Op: "load", Stage: stage, Err: err}
	}
	s.setCount(stage, digest, keys)
	return meta, values, nil
}

func (s *BadgerStore) count(txn *badger.Txn, stage, digest string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	prefix := valuePrefix(stage, digest)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n
}

// Append implements Store
func (s *BadgerStore) Append(stage, digest string, value json.RawMessage) error {
	idx, cached := s.cachedCount(stage, digest)
	err := s.db.Update(func(txn *badger.Txn) error {
		if !cached {
			idx = s.count(txn, stage, digest)
		}
		return txn.Set(valueKey(stage, digest, idx), append([]byte(nil), value...))
	})
	if err != nil {
		return &StorageError{Op: "append value", Stage: stage, Err: err}
	}
	s.setCount(stage, digest, idx+1)
	return nil
}

// Truncate implements Store
func (s *BadgerStore) Truncate(stage, digest string, n int) error {
	err := s.deleteValues(stage, digest, n)
	if err != nil {
		return &StorageError{Op: "truncate values", Stage: stage, Err: err}
	}
	if cur, ok := s.cachedCount(stage, digest); ok && cur > n {
		s.setCount(stage, digest, n)
	}
	return nil
}

// deleteValues removes the values with index >= from
func (s *BadgerStore) deleteValues(stage, digest string, from int) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := valuePrefix(stage, digest)
		i := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if i >= from {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			i++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// WriteMeta implements Store
func (s *BadgerStore) WriteMeta(stage, digest string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return &StorageError{Op: "encode metadata", Stage: stage, Err: err}
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(stage, digest), data)
	})
	if err != nil {
		return &StorageError{Op: "write metadata", Stage: stage, Err: err}
	}
	return nil
}

// Clear implements Store
func (s *BadgerStore) Clear(stage, digest string) error {
	if err := s.deleteValues(stage, digest, 0); err != nil {
		return &StorageError{Op: "clear", Stage: stage, Err: err}
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(stage, digest))
	})
	if err != nil {
		return &StorageError{Op: "clear", Stage: stage, Err: err}
	}
	s.setCount(stage, digest, 0)
	return nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
