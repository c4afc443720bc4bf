// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"sync"
)

// Memory is an in-memory KeyValue. It is concurrently safe.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// ensure that Memory implements the KeyValue interface
var _ KeyValue = (*Memory)(nil)

// NewMemory creates an empty Memory
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

// Get implements KeyValue.Get
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements KeyValue.Set
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete implements KeyValue.Delete.  Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
