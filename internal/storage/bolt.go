package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"
)

const (
	bucketUsers = "users"            // key: big-endian user id, value: userRecord
	bucketFiles = "downloaded_files" // key: sequence, value: unix time of the upload
)

type userRecord struct {
	AccessHash int64 `json:"access_hash"`
	FirstSeen  int64 `json:"first_seen"`
}

// BoltStore is the default Store backed by a single bolt file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens the database file and creates buckets if needed.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketUsers)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketFiles)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// AddUser stores the user unless it already exists. bolt runs one write
// transaction at a time, so the check and the put cannot interleave.
func (s *BoltStore) AddUser(_ context.Context, userID, accessHash int64) (bool, error) {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(userID))
	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketUsers))
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(userRecord{AccessHash: accessHash, FirstSeen: time.Now().Unix()})
		if err != nil {
			return err
		}
		added = true
		return b.Put(key, data)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// RecordDownloadedFile appends one entry to the downloaded files bucket.
func (s *BoltStore) RecordDownloadedFile(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketFiles))
		id, _ := b.NextSequence()
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(time.Now().Unix()))
		return b.Put(key, val)
	})
}

// Status counts users and files and reports the size of the data file.
func (s *BoltStore) Status(_ context.Context) (Status, error) {
	var st Status
	err := s.db.View(func(tx *bolt.Tx) error {
		st.Users = int64(tx.Bucket([]byte(bucketUsers)).Stats().KeyN)
		st.Files = int64(tx.Bucket([]byte(bucketFiles)).Stats().KeyN)
		st.SizeBytes = tx.Size()
		return nil
	})
	return st, err
}

// Close closes the underlying bolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
