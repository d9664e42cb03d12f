// Package repository holds the resource save-point state and the sync
// protocol that keep copies of it reconciled across peers. Two stores
// implement the same capability interface: an in-memory store for
// single-process deployments and tests, and a SQLite store for durable
// ones; configuration selects one at startup.
package repository

import (
	"context"
	"sort"
	"sync"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

type memResource struct {
	content   string
	resType   string
	hash      string
	timestamp int64
	metadata  map[string]types.Payload
}

type memProject struct {
	resources map[string]*memResource
	deleted   map[string]int64
}

// MemoryStore is the in-memory ResourceStore.
type MemoryStore struct {
	mu      sync.RWMutex
	storage map[string]map[string]*memProject // username -> project -> state
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{storage: make(map[string]map[string]*memProject)}
}

func (m *MemoryStore) project(username, project string) *memProject {
	user := m.storage[username]
	if user == nil {
		return nil
	}
	return user[project]
}

func (m *MemoryStore) CreateProject(_ context.Context, username, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.project(username, project) != nil {
		return interfaces.ErrProjectExists
	}
	if m.storage[username] == nil {
		m.storage[username] = make(map[string]*memProject)
	}
	m.storage[username][project] = &memProject{
		resources: make(map[string]*memResource),
		deleted:   make(map[string]int64),
	}
	return nil
}

func (m *MemoryStore) HasProject(_ context.Context, username, project string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.project(username, project) != nil, nil
}

func (m *MemoryStore) Projects(_ context.Context, username string) ([]types.ProjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.storage[username]))
	for name := range m.storage[username] {
		names = append(names, name)
	}
	sort.Strings(names)
	projects := make([]types.ProjectInfo, len(names))
	for i, name := range names {
		projects[i] = types.ProjectInfo{Name: name}
	}
	return projects, nil
}

func (m *MemoryStore) Project(_ context.Context, username, project string, includeDeleted bool) ([]types.ResourceInfo, []types.DeletedInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.project(username, project)
	if p == nil {
		return nil, nil, interfaces.ErrProjectNotFound
	}
	files := make([]types.ResourceInfo, 0, len(p.resources))
	for path, res := range p.resources {
		files = append(files, types.ResourceInfo{
			Path:      path,
			Type:      res.resType,
			Timestamp: res.timestamp,
			Hash:      res.hash,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var deleted []types.DeletedInfo
	if includeDeleted {
		deleted = make([]types.DeletedInfo, 0, len(p.deleted))
		for path, ts := range p.deleted {
			deleted = append(deleted, types.DeletedInfo{Path: path, Timestamp: ts})
		}
		sort.Slice(deleted, func(i, j int) bool { return deleted[i].Path < deleted[j].Path })
	}
	return files, deleted, nil
}

func (m *MemoryStore) CreateResource(_ context.Context, username, project, path, content, hash string, timestamp int64, resourceType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.project(username, project)
	if p == nil {
		return interfaces.ErrProjectNotFound
	}
	if _, live := p.resources[path]; live {
		return interfaces.ErrResourceExists
	}
	p.resources[path] = &memResource{
		content:   content,
		resType:   resourceType,
		hash:      hash,
		timestamp: timestamp,
		metadata:  make(map[string]types.Payload),
	}
	delete(p.deleted, path)
	return nil
}

func (m *MemoryStore) UpdateResource(_ context.Context, username, project, path, content, hash string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.project(username, project)
	if p == nil {
		return interfaces.ErrProjectNotFound
	}
	res := p.resources[path]
	if res == nil {
		return interfaces.ErrResourceNotFound
	}
	if timestamp <= res.timestamp {
		return interfaces.ErrStaleWrite
	}
	res.content = content
	res.hash = hash
	res.timestamp = timestamp
	return nil
}

func (m *MemoryStore) DeleteResource(_ context.Context, username, project, path string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.project(username, project)
	if p == nil {
		return interfaces.ErrProjectNotFound
	}
	res := p.resources[path]
	if res == nil {
		return interfaces.ErrResourceNotFound
	}
	if timestamp <= res.timestamp {
		return interfaces.ErrStaleWrite
	}
	delete(p.resources, path)
	p.deleted[path] = timestamp
	return nil
}

func (m *MemoryStore) HasResource(_ context.Context, username, project, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.project(username, project)
	if p == nil {
		return false, nil
	}
	_, ok := p.resources[path]
	return ok, nil
}

func (m *MemoryStore) Resource(_ context.Context, username, project, path string, timestamp *int64, hash *string) (*types.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.project(username, project)
	if p == nil {
		return nil, interfaces.ErrProjectNotFound
	}
	res := p.resources[path]
	if res == nil {
		return nil, interfaces.ErrResourceNotFound
	}
	if timestamp != nil && *timestamp != res.timestamp {
		return nil, interfaces.ErrResourceNotFound
	}
	if hash != nil && *hash != res.hash {
		return nil, interfaces.ErrResourceNotFound
	}
	return &types.Resource{
		Content:   res.content,
		Type:      res.resType,
		Hash:      res.hash,
		Timestamp: res.timestamp,
	}, nil
}

func (m *MemoryStore) ResourceInfo(_ context.Context, username, project, path, resourceType string, timestamp int64, hash string) (*types.SyncStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.project(username, project)
	if p == nil {
		return nil, interfaces.ErrProjectNotFound
	}
	res := p.resources[path]
	status := &types.SyncStatus{}
	if res != nil {
		status.Exists = true
		status.NeedsUpdate = res.resType != resourceType || res.timestamp < timestamp
	}
	if tombstone, ok := p.deleted[path]; ok {
		status.Deleted = tombstone > timestamp
	}
	return status, nil
}

func (m *MemoryStore) UpdateMetadata(_ context.Context, username, project, path, metaType string, metadata types.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.project(username, project)
	if p == nil {
		return interfaces.ErrProjectNotFound
	}
	res := p.resources[path]
	if res == nil {
		return interfaces.ErrResourceNotFound
	}
	res.metadata[metaType] = metadata.Clone()
	return nil
}

func (m *MemoryStore) Metadata(_ context.Context, username, project, path, metaType string) (types.Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.project(username, project)
	if p == nil {
		return nil, interfaces.ErrProjectNotFound
	}
	res := p.resources[path]
	if res == nil {
		return nil, interfaces.ErrResourceNotFound
	}
	meta, ok := res.metadata[metaType]
	if !ok {
		return nil, interfaces.ErrMetadataNotFound
	}
	return meta.Clone(), nil
}

func (m *MemoryStore) Close() error { return nil }
