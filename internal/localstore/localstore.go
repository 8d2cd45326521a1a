package localstore

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"pos-terminal/internal/models"
)

// Keys for the terminal's single-writer state
var (
	keySession     = []byte("session")
	keyCurrentSale = []byte("sale/current")
	queuePrefix    = []byte("queue/rec/")
	queueSeqKey    = []byte("queue/seq")
)

// Store is the terminal's durable local state: operator session,
// current-cart snapshot and the offline product queue. Everything is
// last-write-wins; there is exactly one writer per data dir.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens or creates the local store at path
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	return open(opts)
}

// OpenInMemory opens a volatile store, used in tests
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	seq, err := db.GetSequence(queueSeqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open queue sequence: %w", err)
	}

	return &Store{db: db, seq: seq}, nil
}

// Close releases the sequence and closes the store
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// SaveSession stores the operator session
func (s *Store) SaveSession(session *models.Session) error {
	return s.setJSON(keySession, session)
}

// LoadSession returns the stored session, nil when logged out
func (s *Store) LoadSession() (*models.Session, error) {
	var session models.Session
	found, err := s.getJSON(keySession, &session)
	if err != nil || !found {
		return nil, err
	}
	return &session, nil
}

// ClearSession removes the stored session
func (s *Store) ClearSession() error {
	return s.delete(keySession)
}

// Token implements upstream.TokenSource. It returns the stored bearer
// token or empty when the terminal is logged out.
func (s *Store) Token() string {
	session, err := s.LoadSession()
	if err != nil || session == nil {
		return ""
	}
	return session.Token
}

// SaveCartSnapshot overwrites the current-sale snapshot
func (s *Store) SaveCartSnapshot(data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyCurrentSale, data)
	})
}

// LoadCartSnapshot returns the snapshot, nil when none exists
func (s *Store) LoadCartSnapshot() ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCurrentSale)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return data, err
}

// ClearCartSnapshot removes the snapshot
func (s *Store) ClearCartSnapshot() error {
	return s.delete(keyCurrentSale)
}

func (s *Store) setJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) getJSON(key []byte, v interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
