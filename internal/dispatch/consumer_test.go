package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
)

func testManifestJSON(loadID string) string {
	sum := sha256.Sum256([]byte("content"))

	return fmt.Sprintf(`{"load_id": %q, "files": [{"name": "customers.csv", "rows": 2, "sha256": %q}]}`,
		loadID, hex.EncodeToString(sum[:]))
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{"defaults are valid", LoadConfig(), nil},
		{"no brokers", &Config{Topic: "t", GroupID: "g"}, ErrNoBrokers},
		{"no topic", &Config{Brokers: []string{"b:9092"}, GroupID: "g"}, ErrTopicEmpty},
		{"no group", &Config{Brokers: []string{"b:9092"}, Topic: "t"}, ErrGroupEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !errors.Is(err, tt.wantErr) && err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeNotification(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := fmt.Sprintf(`{"load_id": "load-001", "manifest": %s}`, testManifestJSON("load-001"))

	n, err := decodeNotification([]byte(payload))
	if err != nil {
		t.Fatalf("decodeNotification() error = %v", err)
	}

	if n.LoadID != "load-001" {
		t.Errorf("LoadID = %s, want load-001", n.LoadID)
	}

	if len(n.Manifest.Files) != 1 {
		t.Errorf("manifest files = %d, want 1", len(n.Manifest.Files))
	}
}

func TestDecodeNotification_LoadIDDefaultsToManifest(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	payload := fmt.Sprintf(`{"manifest": %s}`, testManifestJSON("load-002"))

	n, err := decodeNotification([]byte(payload))
	if err != nil {
		t.Fatalf("decodeNotification() error = %v", err)
	}

	if n.LoadID != "load-002" {
		t.Errorf("LoadID = %s, want load-002", n.LoadID)
	}
}

func TestDecodeNotification_Malformed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "not json at all"},
		{"empty manifest", `{"load_id": "load-001", "manifest": {}}`},
		{
			"load id mismatch",
			fmt.Sprintf(`{"load_id": "load-999", "manifest": %s}`, testManifestJSON("load-001")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeNotification([]byte(tt.payload)); err == nil {
				t.Error("decodeNotification() accepted a malformed payload")
			}
		})
	}
}
