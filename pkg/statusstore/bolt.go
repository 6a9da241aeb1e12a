package statusstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
	bolt "go.etcd.io/bbolt"
)

func init() {
	RegisterBackend("bolt", func(dataDir string) (Store, error) {
		return NewBoltStore(dataDir)
	})
}

var bucketStatus = []byte("status")

// BoltStore implements Store using BoltDB, so status records survive a
// process crash (spec.md: "persistent status records survivable across
// crashes"). Adapted from the host application's BoltStore, which uses
// the same db.Update/db.View + JSON-marshal-per-key pattern for every
// other resource type it persists.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file at
// dataDir/jobsubstrate.db and ensures the status bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "jobsubstrate.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open status database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStatus)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create status bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) InitSession() error { return nil }

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) put(uuid string, rec jobtypes.StatusRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(uuid), data)
	})
}

func (s *BoltStore) LogRequest(uuid string, timeout int) error {
	return s.put(uuid, jobtypes.StatusRecord{
		UUID:      uuid,
		Status:    jobtypes.Accepted,
		Timestamp: time.Now().Unix(),
		Timeout:   timeout,
	})
}

func (s *BoltStore) UpdateStatus(uuid string, message string, progress int, status jobtypes.JobStatus) error {
	rec, err := s.GetStatus(uuid)
	if err != nil {
		if _, ok := err.(*ErrNotFound); ok {
			// Tolerate late updates after deletion.
			return nil
		}
		return err
	}
	rec.Message = message
	rec.Progress = progress
	rec.Status = status
	rec.Timestamp = time.Now().Unix()
	return s.put(uuid, rec)
}

func (s *BoltStore) SetResult(uuid string, result []byte) error {
	rec, err := s.GetStatus(uuid)
	if err != nil {
		if _, ok := err.(*ErrNotFound); ok {
			return nil
		}
		return err
	}
	rec.Result = result
	return s.put(uuid, rec)
}

func (s *BoltStore) GetStatus(uuid string) (jobtypes.StatusRecord, error) {
	var rec jobtypes.StatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		data := b.Get([]byte(uuid))
		if data == nil {
			return &ErrNotFound{UUID: uuid}
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

func (s *BoltStore) GetAllStatus() ([]Record, error) {
	return s.Records()
}

func (s *BoltStore) GetResults(uuid string) ([]byte, error) {
	rec, err := s.GetStatus(uuid)
	if err != nil {
		return nil, err
	}
	return rec.Result, nil
}

func (s *BoltStore) DeleteResponse(uuid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		return b.Delete([]byte(uuid))
	})
}

func (s *BoltStore) Records() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		return b.ForEach(func(k, v []byte) error {
			var rec jobtypes.StatusRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, Record{UUID: string(k), Record: rec})
			return nil
		})
	})
	return out, err
}
