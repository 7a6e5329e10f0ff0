package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/noah-isme/ireporter/internal/models"
	"github.com/noah-isme/ireporter/pkg/storage"
)

const sessionFile = "session.json"

// Persister keeps the session across process restarts. Load returns nil, nil
// when nothing is stored.
type Persister interface {
	Load() (*models.Session, error)
	Save(s *models.Session) error
	Clear() error
}

// FilePersister writes the session as JSON into a private directory.
type FilePersister struct {
	files *storage.LocalStorage
}

// NewFilePersister prepares dir for session storage. The file is written
// with owner-only permissions.
func NewFilePersister(dir string) (*FilePersister, error) {
	files, err := storage.NewLocalStorage(dir, storage.WithFileMode(0o600))
	if err != nil {
		return nil, err
	}
	return &FilePersister{files: files}, nil
}

// Load implements Persister.
func (p *FilePersister) Load() (*models.Session, error) {
	data, err := p.files.Read(sessionFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode stored session: %w", err)
	}
	if s.Token == "" {
		return nil, nil
	}
	return &s, nil
}

// Save implements Persister.
func (p *FilePersister) Save(s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = p.files.Save(sessionFile, data)
	return err
}

// Clear implements Persister.
func (p *FilePersister) Clear() error {
	return p.files.Delete(sessionFile)
}

// MemoryPersister keeps the session in memory only.
type MemoryPersister struct {
	mu      sync.Mutex
	session *models.Session
}

// Load implements Persister.
func (p *MemoryPersister) Load() (*models.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil, nil
	}
	cp := *p.session
	return &cp, nil
}

// Save implements Persister.
func (p *MemoryPersister) Save(s *models.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == nil {
		p.session = nil
		return nil
	}
	cp := *s
	p.session = &cp
	return nil
}

// Clear implements Persister.
func (p *MemoryPersister) Clear() error {
	return p.Save(nil)
}
