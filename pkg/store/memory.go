package store

import "sync"

// Memory is the in-process store, the default on the server side. Safe
// for concurrent use.
type Memory struct {
	lk    sync.RWMutex
	items map[string]string
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) GetItem(key string) (string, bool, error) {
	m.lk.RLock()
	defer m.lk.RUnlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *Memory) SetItem(key, value string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Clear() error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.items = make(map[string]string)
	return nil
}
