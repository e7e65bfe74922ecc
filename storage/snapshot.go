// Package storage persists guest snapshots, the vCPU context and its memory
// pages, in LevelDB.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
)

const (
	contextPrefix = "ctx/"
	pagePrefix    = "page/"
)

// Snapshot is the stored form of a guest context.
type Snapshot struct {
	Name    string         `json:"name"`
	Created time.Time      `json:"created"`
	Context *guest.Context `json:"context"`
}

// PagedMemory is guest memory that can be saved page by page.
type PagedMemory interface {
	PageNumbers() []uint32
	Page(p uint32) ([]byte, bool)
	SetPage(p uint32, data []byte)
}

// SnapshotStore keeps named snapshots.
type SnapshotStore struct {
	ps *PersistenceStore
}

// Open opens the store at path; an empty path keeps everything in memory.
func Open(path string) (*SnapshotStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	log.Debug(log.StorageMonitoring, "snapshot store opened", "path", path)
	return &SnapshotStore{ps: ps}, nil
}

func (s *SnapshotStore) Close() error { return s.ps.Close() }

func checkName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("storage: invalid snapshot name %q", name)
	}
	return nil
}

func pageKey(name string, p uint32) []byte {
	key := []byte(pagePrefix + name + "/")
	return binary.BigEndian.AppendUint32(key, p)
}

// SaveContext stores c under name, replacing an earlier snapshot.
func (s *SnapshotStore) SaveContext(name string, c *guest.Context) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := json.Marshal(Snapshot{Name: name, Created: time.Now().UTC(), Context: c})
	if err != nil {
		return fmt.Errorf("marshal context %q: %w", name, err)
	}
	if err := s.ps.Put([]byte(contextPrefix+name), data); err != nil {
		return fmt.Errorf("save context %q: %w", name, err)
	}
	log.Debug(log.StorageMonitoring, "context saved", "name", name, "pc", c.R15, "bytes", len(data))
	return nil
}

// ContextJSON returns the stored snapshot document for name.
func (s *SnapshotStore) ContextJSON(name string) ([]byte, error) {
	data, ok, err := s.ps.Get([]byte(contextPrefix + name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("storage: no snapshot %q", name)
	}
	return data, nil
}

// LoadContext restores the context saved under name on top of mem.
func (s *SnapshotStore) LoadContext(name string, mem guest.Memory) (*guest.Context, error) {
	data, err := s.ContextJSON(name)
	if err != nil {
		return nil, err
	}
	snap := Snapshot{Context: guest.NewContext(mem)}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal context %q: %w", name, err)
	}
	if !guest.ValidMode(snap.Context.Mode()) {
		return nil, fmt.Errorf("storage: snapshot %q has invalid mode %s", name, snap.Context.Mode())
	}
	return snap.Context, nil
}

// SavePages stores every mapped page of mem under name in one batch.
func (s *SnapshotStore) SavePages(name string, mem PagedMemory) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.ps.DeletePrefix([]byte(pagePrefix + name + "/")); err != nil {
		return err
	}
	var pairs [][2][]byte
	for _, p := range mem.PageNumbers() {
		data, ok := mem.Page(p)
		if !ok {
			continue
		}
		pairs = append(pairs, [2][]byte{pageKey(name, p), data})
	}
	if err := s.ps.PutBatch(pairs); err != nil {
		return fmt.Errorf("save pages %q: %w", name, err)
	}
	log.Debug(log.StorageMonitoring, "pages saved", "name", name, "pages", len(pairs))
	return nil
}

// LoadPages copies the pages saved under name into mem and returns how many
// were restored.
func (s *SnapshotStore) LoadPages(name string, mem PagedMemory) (int, error) {
	prefix := []byte(pagePrefix + name + "/")
	pairs, err := s.ps.GetWithPrefix(prefix)
	if err != nil {
		return 0, err
	}
	for _, kv := range pairs {
		p := binary.BigEndian.Uint32(kv[0][len(prefix):])
		mem.SetPage(p, kv[1])
	}
	return len(pairs), nil
}

// List returns the names of stored contexts in order.
func (s *SnapshotStore) List() ([]string, error) {
	pairs, err := s.ps.GetWithPrefix([]byte(contextPrefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		names = append(names, strings.TrimPrefix(string(kv[0]), contextPrefix))
	}
	return names, nil
}

// Delete removes the context and pages stored under name.
func (s *SnapshotStore) Delete(name string) error {
	if err := s.ps.DeletePrefix([]byte(pagePrefix + name + "/")); err != nil {
		return err
	}
	return s.ps.Delete([]byte(contextPrefix + name))
}
