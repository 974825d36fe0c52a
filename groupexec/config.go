package groupexec

import (
	"sync"

	"github.com/richinsley/comfycoord/coordinator"
)

// ConfigStore holds the live group configuration edited by the external
// UI surface. One instance is shared per host process; the manager reads
// a snapshot on every plan build.
type ConfigStore struct {
	mu     sync.Mutex
	groups []GroupDescriptor
}

// NewConfigStore creates an empty configuration store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// GetGroupConfig returns a snapshot of the current group configuration.
func (s *ConfigStore) GetGroupConfig() []GroupDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GroupDescriptor, len(s.groups))
	copy(out, s.groups)
	return out
}

// SetGroupConfig replaces the current group configuration.
func (s *ConfigStore) SetGroupConfig(groups []GroupDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = make([]GroupDescriptor, len(groups))
	copy(s.groups, groups)
}

// Hash returns the canonical content hash of the current configuration.
// Hosts use it to skip re-runs when nothing actually changed.
func (s *ConfigStore) Hash() (string, error) {
	return coordinator.CanonicalHash(s.GetGroupConfig())
}
