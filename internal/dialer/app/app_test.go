package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sebas/dialer/internal/dialer/config"
	"github.com/sebas/dialer/internal/dialer/store"
)

func TestZerologLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := zerologLevel(tt.in); got != tt.want {
			t.Errorf("zerologLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(context.Canceled); err != nil {
		t.Errorf("ignoreCanceled(Canceled) = %v, want nil", err)
	}
	if err := ignoreCanceled(fmt.Errorf("run: %w", context.Canceled)); err != nil {
		t.Errorf("ignoreCanceled(wrapped) = %v, want nil", err)
	}
	boom := errors.New("boom")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Errorf("ignoreCanceled(boom) = %v, want boom", err)
	}
}

func TestLoadCampaign(t *testing.T) {
	cfg := config.Default()
	cfg.OperatorID = "op-1"
	cfg.StateDir = t.TempDir()

	rec, err := LoadCampaign(cfg)
	if err != nil {
		t.Fatalf("LoadCampaign: %v", err)
	}
	if rec != nil {
		t.Fatalf("LoadCampaign = %+v, want nil", rec)
	}

	st, err := store.NewFileStore(cfg.StateDir, cfg.OperatorID)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save(store.Campaign{Active: true, LabelID: "42", ProviderName: "twilio"}); err != nil {
		t.Fatal(err)
	}

	rec, err = LoadCampaign(cfg)
	if err != nil {
		t.Fatalf("LoadCampaign: %v", err)
	}
	if rec == nil || !rec.Active || rec.LabelID != "42" {
		t.Errorf("LoadCampaign = %+v, want active label 42", rec)
	}
}
