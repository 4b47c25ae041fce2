package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// FileStore keeps the record in one CBOR file, replaced atomically on
// every write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store for operatorID under dir. The directory is
// created if missing.
func NewFileStore(dir, operatorID string) (*FileStore, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("store: operator id is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, "campaign-"+operatorID+".cbor")}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Save(c Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(&c)
}

func (s *FileStore) Update(fn func(c *Campaign) error) (*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNoCampaign
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing campaign file: %w", err)
	}
	return nil
}

func (s *FileStore) read() (*Campaign, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading campaign file: %w", err)
	}
	var rec Campaign
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing campaign file %s: %w", s.path, err)
	}
	return &rec, nil
}

func (s *FileStore) write(c *Campaign) error {
	data, err := encMode.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding campaign: %w", err)
	}

	tmp := s.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary campaign file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temporary campaign file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temporary campaign file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temporary campaign file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming campaign file into place: %w", err)
	}

	slog.Debug("[Store] Campaign saved", "path", s.path, "active", c.Active, "cycles", c.Cycles)
	return nil
}
