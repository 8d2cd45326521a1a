package localstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"pos-terminal/internal/models"
)

// ErrAlreadyQueued is returned when an identical product is waiting in
// the offline queue.
var ErrAlreadyQueued = errors.New("product already queued")

// EnqueueProduct buffers a product creation for later replay. Two
// queued records may not share (name, category, price); the name
// comparison is case-insensitive. That linear scan is the queue's only
// conflict avoidance.
func (s *Store) EnqueueProduct(p models.NewProduct) (*models.QueuedProduct, error) {
	existing, err := s.QueuedProducts()
	if err != nil {
		return nil, err
	}
	for _, rec := range existing {
		if sameProduct(rec.Product, p) {
			return nil, ErrAlreadyQueued
		}
	}

	key, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate queue key: %w", err)
	}

	rec := models.QueuedProduct{
		Key:      key,
		Product:  p,
		QueuedAt: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey(key), data)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// QueuedProducts returns every queued record in insertion order
func (s *Store) QueuedProducts() ([]models.QueuedProduct, error) {
	var records []models.QueuedProduct
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec models.QueuedProduct
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// RemoveQueued deletes a queue record by key
func (s *Store) RemoveQueued(key uint64) error {
	return s.delete(queueKey(key))
}

// QueueDepth counts the records waiting for replay
func (s *Store) QueueDepth() (int, error) {
	depth := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = queuePrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			depth++
		}
		return nil
	})
	return depth, err
}

// queueKey encodes the sequence number big-endian so the iterator's
// lexicographic order matches insertion order.
func queueKey(key uint64) []byte {
	buf := make([]byte, len(queuePrefix)+8)
	copy(buf, queuePrefix)
	binary.BigEndian.PutUint64(buf[len(queuePrefix):], key)
	return buf
}

func sameProduct(a, b models.NewProduct) bool {
	return strings.EqualFold(strings.TrimSpace(a.Name), strings.TrimSpace(b.Name)) &&
		a.CategoryID == b.CategoryID &&
		a.Price.Equal(b.Price)
}
