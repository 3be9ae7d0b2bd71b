package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu  sync.Mutex
	doc Document
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Get(_ context.Context) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, nil
}

func (m *Memory) Set(_ context.Context, data string, version int64, force bool) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !force && version != m.doc.Version {
		return m.doc, ErrConflict
	}
	m.doc = Document{Data: data, Version: m.doc.Version + 1, UpdatedAt: time.Now().UTC()}
	return m.doc, nil
}

func (m *Memory) Kind() string { return "memory" }

func (m *Memory) Close() error { return nil }
