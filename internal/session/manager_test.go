package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/events"
	"github.com/snappy-loop/storytime/internal/models"
)

type nopGenerator struct{}

func (nopGenerator) GenerateStory(context.Context, credential.Key, string) (models.Story, error) {
	return models.Story{}, errors.New("not used")
}

func (nopGenerator) GenerateIllustration(context.Context, credential.Key, string, models.ImageSize) (string, error) {
	return "", errors.New("not used")
}

func (nopGenerator) GenerateSpeech(context.Context, credential.Key, string) ([]byte, error) {
	return nil, errors.New("not used")
}

func (nopGenerator) ChatReply(context.Context, credential.Key, string, []models.HistoryEntry) (string, error) {
	return "hi", nil
}

func envProvider(key string) func() credential.Provider {
	return func() credential.Provider {
		return &credential.EnvProvider{Name: "K", Lookup: func(string) string { return key }}
	}
}

func TestManager_CreateChecksGate(t *testing.T) {
	tests := []struct {
		name        string
		newProvider func() credential.Provider
		want        credential.State
	}{
		{"key present", envProvider("secret"), credential.StateUnlocked},
		{"key absent", envProvider(""), credential.StateLocked},
		{"no capability", nil, credential.StateLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nopGenerator{}, Options{NewProvider: tt.newProvider})
			s := m.Create(context.Background())
			if got := s.Gate.State(); got != tt.want {
				t.Errorf("gate state = %s, want %s", got, tt.want)
			}
			if len(s.Chat.Transcript()) != 1 {
				t.Errorf("new session should start with the welcome message")
			}
		})
	}
}

func TestManager_GetDelete(t *testing.T) {
	hub := events.NewHub()
	m := NewManager(nopGenerator{}, Options{NewProvider: envProvider("k"), Hub: hub})
	s := m.Create(context.Background())

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get(%s) = %v, %v", s.ID, got, err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	ch, _ := hub.Subscribe(s.ID)
	if err := m.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should close on delete")
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestManager_GateChangePublished(t *testing.T) {
	hub := events.NewHub()
	keyring := credential.NewKeyringProvider(nil)
	m := NewManager(nopGenerator{}, Options{
		NewProvider: func() credential.Provider { return keyring },
		Hub:         hub,
	})
	s := m.Create(context.Background())
	ch, cancel := hub.Subscribe(s.ID)
	defer cancel()

	keyring.Offer("new-key")
	if _, err := s.Gate.Select(context.Background()); err != nil {
		t.Fatalf("Select: %v", err)
	}
	select {
	case e := <-ch:
		if e.Type != events.GateChanged || e.Message != string(credential.StateUnlocked) {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Fatal("no gate.changed event")
	}
}

func TestManager_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(nopGenerator{}, Options{IdleTimeout: time.Hour})
	m.now = func() time.Time { return now }

	stale := m.Create(context.Background())
	now = now.Add(50 * time.Minute)
	fresh := m.Create(context.Background())

	now = now.Add(20 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if _, err := m.Get(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session still present")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestManager_SweepDisabled(t *testing.T) {
	m := NewManager(nopGenerator{}, Options{})
	m.Create(context.Background())
	m.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }
	if n := m.Sweep(); n != 0 {
		t.Errorf("Sweep() = %d, want 0 without idle timeout", n)
	}
}
