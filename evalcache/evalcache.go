// Package evalcache persists model responses in a badger database so that
// repeated runs against the same model skip points already evaluated.
package evalcache

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// prefix separates response keys from anything else sharing the database.
var prefix = []byte("y/")

type DB struct {
	db *badger.DB
}

type logger struct{ log *slog.Logger }

func (l logger) Errorf(format string, args ...any)   { l.log.Error(fmt.Sprintf(format, args...)) }
func (l logger) Warningf(format string, args ...any) { l.log.Warn(fmt.Sprintf(format, args...)) }
func (l logger) Infof(format string, args ...any)    { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l logger) Debugf(format string, args ...any)   { l.log.Debug(fmt.Sprintf(format, args...)) }

// Open opens (or creates) the cache in directory path.  A nil log silences
// badger.
func Open(path string, log *slog.Logger) (*DB, error) {
	if path == "" {
		return nil, errors.New("evalcache: empty path")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, err
	}
	return open(badger.DefaultOptions(path), log)
}

// OpenInMemory returns a cache that lives until Close.
func OpenInMemory() (*DB, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), nil)
}

func open(opts badger.Options, log *slog.Logger) (*DB, error) {
	opts = opts.WithNumVersionsToKeep(1)
	if log != nil {
		opts = opts.WithLogger(logger{log})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("evalcache: %w", err)
	}
	return &DB{db: db}, nil
}

func dbkey(key [sha1.Size]byte) []byte { return append(append([]byte{}, prefix...), key[:]...) }

func (c *DB) Load(key [sha1.Size]byte) (val []float64, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbkey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			val, err = decode(data)
			ok = err == nil
			return err
		})
	})
	return val, ok, err
}

func (c *DB) Save(key [sha1.Size]byte, val []float64) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbkey(key), encode(val))
	})
}

// Len returns the number of stored responses.
func (c *DB) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (c *DB) Close() error { return c.db.Close() }

func encode(val []float64) []byte {
	data := make([]byte, 8*len(val))
	for i, v := range val {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return data
}

func decode(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("evalcache: corrupt value of %d bytes", len(data))
	}
	val := make([]float64, len(data)/8)
	for i := range val {
		val[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return val, nil
}
