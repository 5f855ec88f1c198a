package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	orgStateFile  = "organization.json"
	userStateFile = "user.json"
)

// SessionStore persists the currently selected organization and user so a
// session survives process restarts. The stored records are derived state:
// a malformed or missing record restores as "no context", never an error.
type SessionStore interface {
	// LoadOrganization returns the persisted organization, or (nil, nil)
	// if none is stored or the record is unreadable.
	LoadOrganization() (*Organization, error)

	// SaveOrganization persists the organization, replacing any prior record.
	SaveOrganization(org *Organization) error

	// LoadUser returns the persisted user, or (nil, nil) on miss.
	LoadUser() (*TenantUser, error)

	// SaveUser persists the user, replacing any prior record.
	SaveUser(user *TenantUser) error

	// Clear removes both records.
	Clear() error
}

// FileSessionStore stores session records as JSON files under a state
// directory. Files are written with 0600 permissions, the directory with
// 0700, matching the config file handling elsewhere in corpusd.
type FileSessionStore struct {
	dir string
}

// NewFileSessionStore creates the state directory if needed.
func NewFileSessionStore(dir string) (*FileSessionStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session store directory required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating session directory %s: %w", dir, err)
	}
	return &FileSessionStore{dir: dir}, nil
}

// LoadOrganization restores the persisted organization.
func (s *FileSessionStore) LoadOrganization() (*Organization, error) {
	var org Organization
	if !s.readRecord(orgStateFile, &org) {
		return nil, nil
	}
	if org.ID == "" {
		return nil, nil
	}
	return &org, nil
}

// SaveOrganization persists the organization record.
func (s *FileSessionStore) SaveOrganization(org *Organization) error {
	return s.writeRecord(orgStateFile, org)
}

// LoadUser restores the persisted user.
func (s *FileSessionStore) LoadUser() (*TenantUser, error) {
	var user TenantUser
	if !s.readRecord(userStateFile, &user) {
		return nil, nil
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

// SaveUser persists the user record.
func (s *FileSessionStore) SaveUser(user *TenantUser) error {
	return s.writeRecord(userStateFile, user)
}

// Clear removes both session records.
func (s *FileSessionStore) Clear() error {
	for _, name := range []string{orgStateFile, userStateFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}

// readRecord loads and decodes a record, returning false on miss or
// malformed content. Session records are derived state, so corruption is
// treated as a miss.
func (s *FileSessionStore) readRecord(name string, v interface{}) bool {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false
	}
	return true
}

// writeRecord encodes and atomically replaces a record.
func (s *FileSessionStore) writeRecord(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

// MemorySessionStore keeps session records in memory. Used in tests and
// for ephemeral sessions that should not survive a restart.
type MemorySessionStore struct {
	org  *Organization
	user *TenantUser
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) LoadOrganization() (*Organization, error) { return s.org, nil }
func (s *MemorySessionStore) SaveOrganization(org *Organization) error {
	s.org = org
	return nil
}
func (s *MemorySessionStore) LoadUser() (*TenantUser, error) { return s.user, nil }
func (s *MemorySessionStore) SaveUser(user *TenantUser) error {
	s.user = user
	return nil
}
func (s *MemorySessionStore) Clear() error {
	s.org = nil
	s.user = nil
	return nil
}

// Ensure implementations satisfy SessionStore.
var (
	_ SessionStore = (*FileSessionStore)(nil)
	_ SessionStore = (*MemorySessionStore)(nil)
)
