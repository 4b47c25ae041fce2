package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state"), "op-1")
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStoreLifecycle(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 30, 0, 123456789, time.UTC)
	attempts := 3

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.Load()
			if err != nil || rec != nil {
				t.Fatalf("Load() on empty store = %+v, %v; want nil, nil", rec, err)
			}

			err = s.Save(Campaign{
				Active:       true,
				LabelID:      "42",
				ProviderName: "twilio",
				MaxAttempts:  &attempts,
				StartedAt:    started,
				UpdatedAt:    started,
			})
			if err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := s.Update(func(c *Campaign) error {
				c.Cycles++
				c.LastTicketID = "t-1"
				return nil
			})
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if got.Cycles != 1 || got.LastTicketID != "t-1" {
				t.Errorf("Update() = %+v", got)
			}

			rec, err = s.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !rec.Active || rec.LabelID != "42" || rec.ProviderName != "twilio" || rec.Cycles != 1 {
				t.Errorf("Load() = %+v", rec)
			}
			if rec.MaxAttempts == nil || *rec.MaxAttempts != 3 {
				t.Errorf("MaxAttempts = %v, want 3", rec.MaxAttempts)
			}
			if rec.CompanyPhoneID != "" {
				t.Errorf("CompanyPhoneID = %q, want empty", rec.CompanyPhoneID)
			}
			if !rec.StartedAt.Equal(started) {
				t.Errorf("StartedAt = %v, want %v", rec.StartedAt, started)
			}

			if err := s.Clear(); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if err := s.Clear(); err != nil {
				t.Fatalf("second Clear() error = %v", err)
			}
			if rec, _ := s.Load(); rec != nil {
				t.Errorf("Load() after Clear = %+v, want nil", rec)
			}
		})
	}
}

func TestUpdateWithoutRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			called := false
			_, err := s.Update(func(c *Campaign) error {
				called = true
				return nil
			})
			if !errors.Is(err, ErrNoCampaign) {
				t.Errorf("Update() error = %v, want ErrNoCampaign", err)
			}
			if called {
				t.Error("Update() ran fn without a record")
			}
		})
	}
}

func TestUpdateErrorKeepsRecord(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_ = s.Save(Campaign{Active: true, LabelID: "7"})
			_, err := s.Update(func(c *Campaign) error {
				c.Active = false
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update() error = %v, want boom", err)
			}
			rec, _ := s.Load()
			if rec == nil || !rec.Active {
				t.Errorf("Load() = %+v, want the unchanged active record", rec)
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	attempts := 2
	_ = s.Save(Campaign{LabelID: "1", MaxAttempts: &attempts})

	rec, _ := s.Load()
	*rec.MaxAttempts = 9
	rec.LabelID = "changed"

	again, _ := s.Load()
	if again.LabelID != "1" || *again.MaxAttempts != 2 {
		t.Errorf("Load() = %+v, stored record was mutated through a copy", again)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileStore(dir, "op-9")
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save(Campaign{Active: true, LabelID: "42", CompanyPhoneID: "cp-1"}); err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first.Path()) != "campaign-op-9.cbor" {
		t.Errorf("Path() = %s", first.Path())
	}
	if _, err := os.Stat(first.Path() + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temporary file left behind: %v", err)
	}

	second, _ := NewFileStore(dir, "op-9")
	rec, err := second.Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || !rec.Active || rec.CompanyPhoneID != "cp-1" {
		t.Errorf("Load() after reopen = %+v", rec)
	}

	other, _ := NewFileStore(dir, "op-10")
	if rec, _ := other.Load(); rec != nil {
		t.Errorf("other operator sees %+v", rec)
	}
}

func TestFileStoreCorruptRecord(t *testing.T) {
	s, _ := NewFileStore(t.TempDir(), "op-1")
	if err := os.WriteFile(s.Path(), []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err == nil {
		t.Error("Load() of corrupt file succeeded")
	}
	if err := s.Clear(); err != nil {
		t.Errorf("Clear() error = %v", err)
	}
}

func TestNewFileStoreRequiresOperator(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), ""); err == nil {
		t.Error("NewFileStore() with empty operator succeeded")
	}
}
