package db

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var kvBucket = []byte("kv")

// BoltProvider implements DatabaseProvider on top of a single bbolt
// bucket. Unlike LevelDB, every Put/Delete/Batch.Write already runs
// inside its own ACID transaction, so Batch here just buffers the ops
// and replays them in one bbolt.Update call.
type BoltProvider struct {
	once sync.Once
	db   *bbolt.DB
}

// NewBoltProvider opens (creating if missing) a bbolt file at path with
// a single top-level bucket for all keys.
func NewBoltProvider(path string) (DatabaseProvider, error) {
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", path, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltProvider{db: bdb}, nil
}

func (p *BoltProvider) Get(key []byte) ([]byte, error) {
	var value []byte
	err := p.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(kvBucket).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

func (p *BoltProvider) Put(key, value []byte) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Put(key, value)
	})
}

func (p *BoltProvider) Delete(key []byte) error {
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Delete(key)
	})
}

func (p *BoltProvider) Has(key []byte) (bool, error) {
	found := false
	err := p.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(kvBucket).Get(key) != nil
		return nil
	})
	return found, err
}

// Close closes the database connection; safe to call more than once.
func (p *BoltProvider) Close() error {
	var err error
	p.once.Do(func() {
		err = p.db.Close()
	})
	return err
}

func (p *BoltProvider) Batch() DatabaseBatch {
	return &boltBatch{db: p.db}
}

// IteratePrefix visits keys in bbolt's natural (sorted) order.
func (p *BoltProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	return p.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(kvBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !callback(k, v) {
				break
			}
		}
		return nil
	})
}

type boltOp struct {
	key    []byte
	value  []byte
	delete bool
}

// boltBatch buffers ops and applies them inside one bbolt transaction on
// Write, giving the same atomicity contract as LevelDBBatch.
type boltBatch struct {
	db  *bbolt.DB
	ops []boltOp
}

func (b *boltBatch) Put(key, value []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *boltBatch) Delete(key []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...), delete: true})
}

func (b *boltBatch) Write() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(kvBucket)
		for _, op := range b.ops {
			if op.delete {
				if err := bucket.Delete(op.key); err != nil {
					return err
				}
				continue
			}
			if err := bucket.Put(op.key, op.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBatch) Reset() {
	b.ops = b.ops[:0]
}

func (b *boltBatch) Close() {
	b.ops = nil
}
