package fedauth

import (
	"strings"
	"testing"
	"time"

	"github.com/rivermead/fedauth/security"
	"github.com/rivermead/fedauth/storage/memory"
)

func validTestConfig(t *testing.T) Config {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	keys, err := security.NewStaticKeyProvider(key)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider() error = %v", err)
	}

	return Config{
		Providers: store,
		Users:     store,
		Sessions:  store,
		Keys:      keys,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing provider store", mutate: func(c *Config) { c.Providers = nil }, wantErr: "provider store"},
		{name: "missing user store", mutate: func(c *Config) { c.Users = nil }, wantErr: "user store"},
		{name: "missing session store", mutate: func(c *Config) { c.Sessions = nil }, wantErr: "session store"},
		{name: "missing key provider", mutate: func(c *Config) { c.Keys = nil }, wantErr: "key provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validTestConfig(t)
			tt.mutate(&config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	config := validTestConfig(t)
	config.applyDefaults()

	if config.SessionTTL != 10*time.Minute {
		t.Errorf("SessionTTL = %v", config.SessionTTL)
	}
	if config.HTTP.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", config.HTTP.RequestTimeout)
	}
	if config.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d", config.Retry.MaxAttempts)
	}
	if config.Retry.InitialInterval != 500*time.Millisecond {
		t.Errorf("InitialInterval = %v", config.Retry.InitialInterval)
	}
	if config.RateLimit.Threshold != 10 {
		t.Errorf("Threshold = %d", config.RateLimit.Threshold)
	}
	if config.RateLimit.Window != 15*time.Minute {
		t.Errorf("Window = %v", config.RateLimit.Window)
	}
	if config.Security.NonceTTL != 10*time.Minute {
		t.Errorf("NonceTTL = %v", config.Security.NonceTTL)
	}
	if config.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestConfigDefaultsPreserveExplicitValues(t *testing.T) {
	config := validTestConfig(t)
	config.SessionTTL = time.Hour
	config.Retry.MaxAttempts = 5
	config.RateLimit.Threshold = 3
	config.applyDefaults()

	if config.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want the explicit value", config.SessionTTL)
	}
	if config.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want the explicit value", config.Retry.MaxAttempts)
	}
	if config.RateLimit.Threshold != 3 {
		t.Errorf("Threshold = %d, want the explicit value", config.RateLimit.Threshold)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := validTestConfig(t)
	config.Keys = nil

	if _, err := New(config); err == nil {
		t.Error("New() accepted a config without a key provider")
	}
}
