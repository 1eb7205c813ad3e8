// Package boltenv provides a bbolt-backed mta.Storage for long-lived host
// processes (desktop shells, kiosks, server-side rendering workers) whose
// journeys must survive restarts without a browser's localStorage.
package boltenv

import (
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.etcd.io/bbolt"
)

const stateBucket = "mta_state"

// Storage implements mta.Storage over a single bucket in a bbolt database.
type Storage struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Storage, error) {
	if path == "" {
		return nil, eris.New("boltenv: storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, eris.Wrapf(err, "boltenv: opening %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "boltenv: ensuring bucket")
	}
	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(stateBucket)).Get([]byte(key)); v != nil {
			value = string(v)
			ok = true
		}
		return nil
	})
	if err != nil {
		return "", false, eris.Wrapf(err, "boltenv: reading %s", key)
	}
	return value, ok, nil
}

func (s *Storage) Set(key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(stateBucket)).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return eris.Wrapf(err, "boltenv: writing %s", key)
	}
	return nil
}

func (s *Storage) Delete(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(stateBucket)).Delete([]byte(key))
	})
	if err != nil {
		return eris.Wrapf(err, "boltenv: deleting %s", key)
	}
	return nil
}
