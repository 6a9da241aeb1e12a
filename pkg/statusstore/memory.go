package statusstore

import (
	"sync"
	"time"

	"github.com/cuemby/jobsubstrate/pkg/jobtypes"
)

func init() {
	RegisterBackend("memory", func(dataDir string) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// MemoryStore is a process-local, map-backed Store. It is the trivial
// reference backend used by tests and by any single-process embedding
// that doesn't need status records to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]jobtypes.StatusRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]jobtypes.StatusRecord)}
}

func (s *MemoryStore) InitSession() error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LogRequest(uuid string, timeout int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[uuid] = jobtypes.StatusRecord{
		UUID:      uuid,
		Status:    jobtypes.Accepted,
		Timestamp: time.Now().Unix(),
		Timeout:   timeout,
	}
	return nil
}

func (s *MemoryStore) UpdateStatus(uuid string, message string, progress int, status jobtypes.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uuid]
	if !ok {
		// Tolerate late updates after deletion (spec.md §4.1).
		return nil
	}
	rec.Message = message
	rec.Progress = progress
	rec.Status = status
	rec.Timestamp = time.Now().Unix()
	s.records[uuid] = rec
	return nil
}

func (s *MemoryStore) SetResult(uuid string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[uuid]
	if !ok {
		return nil
	}
	rec.Result = result
	s.records[uuid] = rec
	return nil
}

func (s *MemoryStore) GetStatus(uuid string) (jobtypes.StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[uuid]
	if !ok {
		return jobtypes.StatusRecord{}, &ErrNotFound{UUID: uuid}
	}
	return rec, nil
}

func (s *MemoryStore) GetAllStatus() ([]Record, error) {
	return s.Records()
}

func (s *MemoryStore) GetResults(uuid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[uuid]
	if !ok {
		return nil, &ErrNotFound{UUID: uuid}
	}
	return rec.Result, nil
}

func (s *MemoryStore) DeleteResponse(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uuid)
	return nil
}

func (s *MemoryStore) Records() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for uuid, rec := range s.records {
		out = append(out, Record{UUID: uuid, Record: rec})
	}
	return out, nil
}

// PutRecord stores rec verbatim, including fields (Timestamp, Pinned,
// Expiration) that the Store interface otherwise only lets callers set
// indirectly through LogRequest/UpdateStatus. Exported for tests that
// need to seed a record in an exact state, e.g. to exercise the
// cleanup loop's dangling/expired/pinned branches.
func (s *MemoryStore) PutRecord(rec jobtypes.StatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UUID] = rec
}
