package credential

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore keeps tokens in a local bbolt file, one bucket per profile.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) the credential file at path.
func NewBoltStore(path, profile string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential file: %w", err)
	}

	bucket := []byte("credentials:" + profile)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	return &BoltStore{db: db, bucket: bucket}, nil
}

func (s *BoltStore) Get(_ context.Context) (Tokens, error) {
	var t Tokens
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		t.AccessToken = string(b.Get([]byte(KeyAccessToken)))
		t.RefreshToken = string(b.Get([]byte(KeyRefreshToken)))
		return nil
	})
	return t, err
}

func (s *BoltStore) Set(_ context.Context, t Tokens) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if err := putOrDelete(b, KeyAccessToken, t.AccessToken); err != nil {
			return err
		}
		return putOrDelete(b, KeyRefreshToken, t.RefreshToken)
	})
}

func (s *BoltStore) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if err := b.Delete([]byte(KeyAccessToken)); err != nil {
			return err
		}
		return b.Delete([]byte(KeyRefreshToken))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func putOrDelete(b *bolt.Bucket, key, value string) error {
	if value == "" {
		return b.Delete([]byte(key))
	}
	return b.Put([]byte(key), []byte(value))
}
