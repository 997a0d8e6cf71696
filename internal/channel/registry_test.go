package channel

import (
	"testing"

	"hls-proxy-go/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(&config.Config{
		Channels: map[string]string{
			"1001":  "https://familyhls.example.com/hls",
			"1234":  "https://ingest.example.net/hls/live/2033876/tvmc07/",
			"wowza": "https://wowza.example.com/live/stream.smil",
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		id       string
		wantOK   bool
		wantBase string
		wantSMIL bool
	}{
		{"1001", true, "https://familyhls.example.com/hls", false},
		{"1234", true, "https://ingest.example.net/hls/live/2033876/tvmc07", false},
		{"wowza", true, "https://wowza.example.com/live/stream.smil", true},
		{"9999", false, "", false},
		{"", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ch, ok := r.Lookup(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ch.ID != tt.id {
				t.Errorf("ID = %q, want %q", ch.ID, tt.id)
			}
			if ch.Base() != tt.wantBase {
				t.Errorf("Base() = %q, want %q", ch.Base(), tt.wantBase)
			}
			if ch.IsSMIL() != tt.wantSMIL {
				t.Errorf("IsSMIL() = %v, want %v", ch.IsSMIL(), tt.wantSMIL)
			}
		})
	}
}

func TestRegistry_IDs(t *testing.T) {
	r := newTestRegistry(t)

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	ids := r.IDs()
	want := []string{"1001", "1234", "wowza"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
