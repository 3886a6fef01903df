package procinfo

import (
	"sync"
)

// Manager manages the per-process info cache.
// It provides command-query separation for cache access.
type Manager struct {
	mu     sync.RWMutex
	info   map[uint32]*ProcessInfo // PID -> process info
	errors map[uint32]error        // PID -> inspection errors
}

// NewManager creates a new process info manager.
func NewManager() *Manager {
	return &Manager{
		info:   make(map[uint32]*ProcessInfo),
		errors: make(map[uint32]error),
	}
}

// Get retrieves info for a PID (query).
// Returns nil if no info exists for this PID.
func (m *Manager) Get(pid uint32) *ProcessInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info[pid]
}

// GetError retrieves the inspection error for a PID (query).
// Returns nil if no error exists for this PID.
func (m *Manager) GetError(pid uint32) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errors[pid]
}

// Len returns the number of processes with cached info (query).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.info)
}

// Set stores info for a PID (command).
// If info already exists, it is replaced and any stored error is cleared.
func (m *Manager) Set(pid uint32, info *ProcessInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info[pid] = info
	delete(m.errors, pid)
}

// SetError remembers that inspecting a PID failed (command).
func (m *Manager) SetError(pid uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[pid] = err
}

// Delete removes all data for a PID (command).
// This should be called when a process exits.
func (m *Manager) Delete(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.info, pid)
	delete(m.errors, pid)
}

// Load returns cached info for a PID, running inspect on first use (command).
// A failed inspection is remembered and returned again without retrying
// until Delete is called.
func (m *Manager) Load(pid uint32, inspect func(pid uint32) (*ProcessInfo, error)) (*ProcessInfo, error) {
	m.mu.RLock()
	info, err := m.info[pid], m.errors[pid]
	m.mu.RUnlock()
	if info != nil || err != nil {
		return info, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have finished while we waited for the write lock.
	if info := m.info[pid]; info != nil {
		return info, nil
	}
	if err := m.errors[pid]; err != nil {
		return nil, err
	}

	info, err = inspect(pid)
	if err != nil {
		m.errors[pid] = err
		return nil, err
	}
	m.info[pid] = info
	return info, nil
}
