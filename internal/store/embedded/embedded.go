// Package embedded implements store.WorkflowStore on an embedded badger
// database. It backs single-node deployments and the engine tests.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"flowplane/internal/store"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
)

const (
	prefixWorkflow = "wf"
	prefixExecutor = "ex"
	prefixLog      = "log"
	prefixMapping  = "map"
	prefixTask     = "task"
	prefixInstance = "inst"
)

var _ store.WorkflowStore = (*Store)(nil)

// Store is a badger-backed WorkflowStore. Write transactions are serialized,
// so two writers never observe each other's uncommitted state and commits
// never conflict.
type Store struct {
	db      *badger.DB
	writeMu sync.Mutex
}

// Open opens the database at path. An empty path opens an in-memory database.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

// Tx is a read-write badger transaction holding the store's write lock.
type Tx struct {
	txn *badger.Txn
	store.CommitHooks

	release func()
	once    sync.Once
}

func (t *Tx) end() {
	t.once.Do(t.release)
}

// Commit commits the transaction and then runs the registered hooks.
func (t *Tx) Commit() error {
	err := t.txn.Commit()
	t.end()
	if err != nil {
		t.Discard()
		return err
	}
	t.Run()
	return nil
}

// Rollback discards the transaction. It is safe to call after Commit.
func (t *Tx) Rollback() error {
	t.txn.Discard()
	t.end()
	t.Discard()
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	s.writeMu.Lock()
	if err := ctx.Err(); err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	return &Tx{txn: s.db.NewTransaction(true), release: s.writeMu.Unlock}, nil
}

func asTx(tx store.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("embedded: unsupported transaction type %T", tx)
	}
	return t, nil
}

// view runs fn inside tx, or in a fresh read-only transaction when tx is nil.
func (s *Store) view(tx store.Tx, fn func(txn *badger.Txn) error) error {
	if tx == nil {
		return s.db.View(fn)
	}
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	return fn(t.txn)
}

// update runs fn inside tx, or in a fresh write transaction when tx is nil.
func (s *Store) update(tx store.Tx, fn func(txn *badger.Txn) error) error {
	if tx == nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.db.Update(fn)
	}
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	return fn(t.txn)
}

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, "\x00"))
}

func prefix(parts ...string) []byte {
	return append(key(parts...), 0)
}

func put(txn *badger.Txn, k []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}

func get(txn *badger.Txn, k []byte, v interface{}) error {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func exists(txn *badger.Txn, k []byte) (bool, error) {
	_, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan decodes every record under p into a fresh T and hands it to fn.
func scan[T any](txn *badger.Txn, p []byte, fn func(*T)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
		}
		fn(&v)
	}
	return nil
}

func sortExecutors(executors []store.Executor) {
	sort.SliceStable(executors, func(i, j int) bool {
		if !executors[i].CreatedAt.Equal(executors[j].CreatedAt) {
			return executors[i].CreatedAt.Before(executors[j].CreatedAt)
		}
		return executors[i].ID < executors[j].ID
	})
}
