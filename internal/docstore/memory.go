package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory. Intended for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	body     []byte
	modified time.Time
}

// NewMemory returns an empty in-memory document store.
func NewMemory() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// Driver reports the backend kind.
func (s *MemoryStore) Driver() Driver { return DriverMemory }

// Put stores the document as JSON. Fails when the key exists.
func (s *MemoryStore) Put(_ context.Context, key string, doc any) (Info, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[k]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	now := time.Now().UTC()
	s.docs[k] = memoryDoc{body: body, modified: now}
	return memoryInfo(k, body, now), nil
}

// Get decodes the document under key into out.
func (s *MemoryStore) Get(_ context.Context, key string, out any) (Info, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return Info{}, err
	}
	s.mu.RLock()
	doc, ok := s.docs[k]
	s.mu.RUnlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if out != nil {
		if err := json.Unmarshal(doc.body, out); err != nil {
			return Info{}, err
		}
	}
	return memoryInfo(k, doc.body, doc.modified), nil
}

// Head reports metadata without decoding the document.
func (s *MemoryStore) Head(_ context.Context, key string) (Info, error) {
	return s.Get(context.Background(), key, nil)
}

// Delete removes the document, reporting whether it existed.
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[k]; !ok {
		return false, nil
	}
	delete(s.docs, k)
	return true, nil
}

// List returns the documents whose keys start with prefix, sorted by key.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []Info
	for key, doc := range s.docs {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			infos = append(infos, memoryInfo(key, doc.body, doc.modified))
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func memoryInfo(key string, body []byte, modified time.Time) Info {
	sum := sha256.Sum256(body)
	return Info{
		Key:          key,
		Size:         int64(len(body)),
		ETag:         hex.EncodeToString(sum[:]),
		URI:          "mem://" + key,
		LastModified: modified.Format(time.RFC3339),
	}
}
