package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DBHost != "localhost" {
		t.Errorf("Expected DBHost to be 'localhost', got %s", cfg.DBHost)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected Port to be '8080', got %s", cfg.Port)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != 2*time.Second {
		t.Errorf("Expected RetryBaseDelay to be 2s, got %v", cfg.RetryBaseDelay)
	}
	if cfg.RestartDelay != 5*time.Second {
		t.Errorf("Expected RestartDelay to be 5s, got %v", cfg.RestartDelay)
	}
	if cfg.AMQPURL != "" {
		t.Errorf("Expected alert bus to be disabled by default, got %s", cfg.AMQPURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_BASE_DELAY", "500ms")
	t.Setenv("DB_NAME", "prosafe_test")

	cfg := Load()

	if cfg.MaxRetries != 5 {
		t.Errorf("Expected MaxRetries to be 5, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("Expected RetryBaseDelay to be 500ms, got %v", cfg.RetryBaseDelay)
	}
	if cfg.DBName != "prosafe_test" {
		t.Errorf("Expected DBName to be 'prosafe_test', got %s", cfg.DBName)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name          string
		mutate        func(*Config)
		errorExpected bool
	}{
		{
			name:          "Valid config",
			mutate:        func(c *Config) { c.SendGridAPIKey = "SG.test" },
			errorExpected: false,
		},
		{
			name:          "Missing sendgrid key",
			mutate:        func(c *Config) {},
			errorExpected: true,
		},
		{
			name: "Missing database name",
			mutate: func(c *Config) {
				c.SendGridAPIKey = "SG.test"
				c.DBName = ""
			},
			errorExpected: true,
		},
		{
			name: "Zero retries",
			mutate: func(c *Config) {
				c.SendGridAPIKey = "SG.test"
				c.MaxRetries = 0
			},
			errorExpected: true,
		},
	}

	for _, testCase := range testCases {
		cfg := Load()
		testCase.mutate(cfg)
		if err := cfg.Validate(); testCase.errorExpected != (err != nil) {
			t.Errorf("%s: expected error: %v, got error: %v", testCase.name, testCase.errorExpected, err)
		}
	}
}
