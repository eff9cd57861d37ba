package discovery

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// cacheDirPerm is the permission mode for the cache directory.
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the cache database file.
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt database
	// lock.
	cacheOpenTimeout = 5 * time.Second
)

var discoveryBucket = []byte("discovery")

// storedDoc is the bbolt value: the document plus its fetch time so the
// TTL survives restarts.
type storedDoc struct {
	Config    *ProviderConfig `json:"config"`
	FetchedAt int64           `json:"fetched_at"`
}

// Store persists discovery documents in a bbolt database. Only public
// issuer metadata lands here, never token material.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the discovery database under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	path := filepath.Join(dir, "discovery.db")
	db, err := bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening discovery cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(discoveryBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing discovery cache: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored document for an issuer, or nil when absent.
func (s *Store) Get(issuer string) (*ProviderConfig, time.Time, error) {
	var doc storedDoc

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(discoveryBucket).Get([]byte(issuer))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &doc)
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading discovery cache: %w", err)
	}
	if doc.Config == nil {
		return nil, time.Time{}, nil
	}
	return doc.Config, time.Unix(doc.FetchedAt, 0), nil
}

// Put stores a document for an issuer.
func (s *Store) Put(issuer string, cfg *ProviderConfig, fetchedAt time.Time) error {
	data, err := json.Marshal(storedDoc{Config: cfg, FetchedAt: fetchedAt.Unix()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(discoveryBucket).Put([]byte(issuer), data)
	})
}

// Delete drops the stored document for an issuer.
func (s *Store) Delete(issuer string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(discoveryBucket).Delete([]byte(issuer))
	})
}
