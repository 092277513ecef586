// Package boltstore is a persist.Store backed by a bbolt database. Each
// document is stored as storage-format text so it can be dumped and edited
// like a flat file.
package boltstore

import (
	"fmt"
	"log"
	"os"

	bbolt "go.etcd.io/bbolt"

	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

var _ persist.Store = (*Store)(nil)

// Open opens or creates a bbolt database file and ensures the top-level
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketOwners} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyVersion); v != nil {
			if got := keyToInt(v); got != formatVersion {
				return fmt.Errorf("unsupported layout version %d", got)
			}
			return nil
		}
		return meta.Put(keyVersion, intToKey(formatVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init %s: %w", path, err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Put stores doc under tag and key, replacing any previous document.
func (s *Store) Put(tag, key string, doc *storage.Set) error {
	if key == "" {
		return fmt.Errorf("boltstore: empty key")
	}
	data, err := persist.Encode(doc)
	if err != nil {
		return fmt.Errorf("boltstore: encode %s %q: %w", tag, key, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(tag))
		if err != nil {
			return fmt.Errorf("boltstore: bucket %q: %w", tag, err)
		}
		return b.Put([]byte(key), data)
	})
}

// PutMany stores several documents of tag in one transaction.
func (s *Store) PutMany(tag string, docs map[string]*storage.Set) error {
	encoded := make(map[string][]byte, len(docs))
	for key, doc := range docs {
		data, err := persist.Encode(doc)
		if err != nil {
			return fmt.Errorf("boltstore: encode %s %q: %w", tag, key, err)
		}
		encoded[key] = data
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketOwners).CreateBucketIfNotExists([]byte(tag))
		if err != nil {
			return fmt.Errorf("boltstore: bucket %q: %w", tag, err)
		}
		for key, data := range encoded {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the document stored under tag and key.
func (s *Store) Get(tag, key string) (*storage.Set, error) {
	var data []byte
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOwners).Bucket([]byte(tag))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			// v is only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get %s %q: %w", tag, key, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s %q", persist.ErrNotFound, tag, key)
	}
	doc, err := persist.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("boltstore: decode %s %q: %w", tag, key, err)
	}
	return doc, nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(tag, key string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOwners).Bucket([]byte(tag))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Keys returns the keys stored under tag in byte order.
func (s *Store) Keys(tag string) ([]string, error) {
	var keys []string
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketOwners).Bucket([]byte(tag))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: keys %s: %w", tag, err)
	}
	return keys, nil
}

// Tags returns the owner type tags that have documents.
func (s *Store) Tags() ([]string, error) {
	var tags []string
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOwners).ForEachBucket(func(k []byte) error {
			tags = append(tags, string(k))
			return nil
		})
	})
	return tags, err
}

// HasData reports whether any document has been stored.
func (s *Store) HasData() bool {
	tags, err := s.Tags()
	return err == nil && len(tags) > 0
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}
