// Package store persists the operator's autodial campaign so an
// interrupted campaign can be detected and cleaned up after a restart.
package store

import (
	"errors"
	"sync"
	"time"
)

// ErrNoCampaign is returned by Update when no record is persisted.
var ErrNoCampaign = errors.New("no campaign persisted")

// Campaign is the persisted campaign record.
type Campaign struct {
	Active         bool   `cbor:"campaignActive" json:"campaignActive"`
	LabelID        string `cbor:"labelId" json:"labelId"`
	ProviderName   string `cbor:"providerName" json:"providerName"`
	MaxAttempts    *int   `cbor:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	CompanyPhoneID string `cbor:"companyPhoneId,omitempty" json:"companyPhoneId,omitempty"`

	StartedAt    time.Time `cbor:"startedAt" json:"startedAt"`
	UpdatedAt    time.Time `cbor:"updatedAt" json:"updatedAt"`
	Cycles       int       `cbor:"cycles" json:"cycles"`
	LastTicketID string    `cbor:"lastTicketId,omitempty" json:"lastTicketId,omitempty"`
}

// Clone returns a deep copy.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	if c.MaxAttempts != nil {
		n := *c.MaxAttempts
		out.MaxAttempts = &n
	}
	return &out
}

// Store holds at most one campaign record. Implementations serialize
// Update so read-modify-write cycles never interleave.
type Store interface {
	// Load returns the record, or nil when none is persisted.
	Load() (*Campaign, error)
	Save(c Campaign) error
	// Update applies fn to the persisted record and saves the result.
	// It fails with ErrNoCampaign when nothing is persisted.
	Update(fn func(c *Campaign) error) (*Campaign, error)
	// Clear removes the record. Clearing an empty store is not an error.
	Clear() error
}

// MemoryStore keeps the record in memory.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Campaign
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Clone(), nil
}

func (s *MemoryStore) Save(c Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = c.Clone()
	return nil
}

func (s *MemoryStore) Update(fn func(c *Campaign) error) (*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, ErrNoCampaign
	}
	next := s.rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.rec = next
	return next.Clone(), nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}
