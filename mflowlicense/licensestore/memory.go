package licensestore

import (
	"context"
	"sync"
)

// Memory is an in-process Store keyed by email. It is safe for concurrent
// use and is intended for tests and single-process deployments.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Get(_ context.Context, email string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Email] = rec
	return nil
}

func (m *Memory) Delete(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, email)
	return nil
}

func (m *Memory) BindDevice(_ context.Context, email, deviceID, licenseKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email]
	if !ok {
		return ErrNotFound
	}
	if rec.Bound() {
		return ErrAlreadyBound
	}
	rec.DeviceID = deviceID
	rec.LicenseKey = licenseKey
	m.records[email] = rec
	return nil
}

func (m *Memory) Close(_ context.Context) error {
	return nil
}
